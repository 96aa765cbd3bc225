// Package gateway is the boundary to the external payment processor: an HTTP
// client for creating checkout sessions and a verifier for the JWT-signed
// webhook payloads it delivers.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Event types the ingestion guard acts on.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
	EventPaymentFailed     = "payment_intent.payment_failed"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
)

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type CheckoutRequest struct {
	AmountCents int64
	Currency    string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// CheckoutClient creates hosted checkout sessions with the gateway.
type CheckoutClient interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
}

// Event is one verified webhook notification.
type Event struct {
	ID              string
	Type            string
	SessionID       string
	PaymentIntentID string
	DeclineCode     string
	Raw             []byte
}

type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.AmountCents, 10))
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	for key, value := range req.Metadata {
		form.Set("metadata["+key+"]", value)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return CheckoutSession{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return CheckoutSession{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CheckoutSession{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return CheckoutSession{}, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(body))
	}
	var session CheckoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return CheckoutSession{}, err
	}
	if session.ID == "" {
		return CheckoutSession{}, fmt.Errorf("gateway returned session without id")
	}
	return session, nil
}

type eventClaims struct {
	EventID         string `json:"event_id"`
	EventType       string `json:"event_type"`
	SessionID       string `json:"session_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	DeclineCode     string `json:"decline_code"`
	jwt.RegisteredClaims
}

// VerifyEvent checks the HS256 signature on a raw webhook payload and extracts
// the event fields. Nothing downstream sees a payload that fails here.
func VerifyEvent(raw []byte, secret string) (Event, error) {
	var claims eventClaims
	token, err := jwt.ParseWithClaims(string(raw), &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Event{}, ErrInvalidSignature
	}
	if claims.EventID == "" || claims.EventType == "" {
		return Event{}, ErrMalformedEvent
	}
	return Event{
		ID:              claims.EventID,
		Type:            claims.EventType,
		SessionID:       claims.SessionID,
		PaymentIntentID: claims.PaymentIntentID,
		DeclineCode:     claims.DeclineCode,
		Raw:             raw,
	}, nil
}

// SignEvent produces a payload VerifyEvent accepts. Used by tests and local
// tooling standing in for the gateway.
func SignEvent(event Event, secret string) (string, error) {
	claims := eventClaims{
		EventID:         event.ID,
		EventType:       event.Type,
		SessionID:       event.SessionID,
		PaymentIntentID: event.PaymentIntentID,
		DeclineCode:     event.DeclineCode,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
