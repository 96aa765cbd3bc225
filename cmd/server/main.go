package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"onramp/internal/chain"
	"onramp/internal/config"
	"onramp/internal/db"
	"onramp/internal/gateway"
	"onramp/internal/handlers"
	"onramp/internal/keyvault"
	"onramp/internal/logging"
	"onramp/internal/services"
	"onramp/internal/store"
	"onramp/internal/websocket"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer database.Close()

	vault, err := keyvault.NewLocalVault(cfg.WalletMasterKey)
	if err != nil {
		log.Fatalf("failed to open key vault: %v", err)
	}

	deposits := store.NewDepositStore(database)
	chainTxs := store.NewChainTxStore(database)
	webhookEvents := store.NewWebhookStore(database)
	wallets := store.NewWalletStore(database)
	blacklist := store.NewBlacklistStore(database)
	networks := store.NewNetworkStore(database)
	audit := store.NewAuditStore(database)
	admins := store.NewAdminStore(database)
	txRunner := db.NewTxRunner(database)
	hub := websocket.NewHub()

	active, err := networks.ListActive(context.Background())
	if err != nil {
		log.Fatalf("failed to list networks: %v", err)
	}
	if len(active) == 0 {
		logger.Warn("no active networks configured; mints will fail")
	}
	for _, network := range active {
		logger.Info("network active", "network", network.Name, "chain_id", network.ChainID)
	}

	checkout := gateway.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey)
	node := chain.NewHTTPClient(cfg.ChainRPCURL)
	screen := services.NewComplianceScreen(txRunner, blacklist, wallets, audit, logger)

	depositService := services.NewDepositService(txRunner, deposits, wallets, audit, checkout, hub, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL, logger)
	mintingService := services.NewMintingService(txRunner, deposits, chainTxs, wallets, networks, screen, node, depositService, cfg.NonceMaxAttempts, cfg.ConfirmationMaxPolls, logger)
	walletService := services.NewWalletService(txRunner, wallets, audit, vault, logger)

	// The webhook path hands mint submission to a goroutine so the gateway
	// gets its ack without waiting on the chain.
	submitMint := func(depositID string) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := mintingService.SubmitMint(ctx, depositID); err != nil {
				logger.Error("mint.submission_error", "deposit_id", depositID, "error", err)
			}
		}()
	}
	webhookService := services.NewWebhookService(txRunner, webhookEvents, deposits, depositService, submitMint, cfg.WebhookMaxRetries, logger)

	handler := handlers.New(cfg, depositService, deposits, webhookService, walletService, audit, admins, screen, webhookEvents, hub)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	pollCtx, stopPoller := context.WithCancel(context.Background())
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		// Deposits stranded by a crash mid-submission are picked up before
		// the first poll and on every tick after.
		if err := mintingService.RecoverSubmissions(pollCtx); err != nil && pollCtx.Err() == nil {
			logger.Error("recovery.pass_failed", "error", err)
		}
		ticker := time.NewTicker(cfg.ConfirmationPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				if err := mintingService.RecoverSubmissions(pollCtx); err != nil && pollCtx.Err() == nil {
					logger.Error("recovery.pass_failed", "error", err)
				}
				if err := mintingService.PollConfirmations(pollCtx); err != nil && pollCtx.Err() == nil {
					logger.Error("poller.pass_failed", "error", err)
				}
			}
		}
	}()

	go func() {
		logger.Info("onramp API listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
	stopPoller()
	<-pollerDone
}
