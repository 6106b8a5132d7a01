// Package coach holds the coaching domain: accounts, persisted reviews,
// structured slide and recording analysis, and conversations with the
// simulated audience persona.
package coach

import (
	"database/sql"
	"errors"
	"log/slog"

	"podiumgo/internal/logger"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
)

// Service persists users, reviews and coaching sessions.
type Service struct {
	db  *sql.DB
	log *slog.Logger
}

func NewService(db *sql.DB, log *slog.Logger) *Service {
	return &Service{db: db, log: logger.OrNop(log)}
}
