package store

import (
	"context"
	"database/sql"
)

// AdminStore reads the operator roster gating the /admin surface. Rows are
// seeded out of band; the engine only ever checks membership.
type AdminStore struct {
	db DB
}

func NewAdminStore(db DB) *AdminStore {
	return &AdminStore{db: db}
}

func (s *AdminStore) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one, `
		SELECT 1 FROM admin_users WHERE user_id = $1
	`, userID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
