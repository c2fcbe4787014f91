package admin

import (
	"context"
	"time"
)

// Store хранит сессии и попытки входа. Реализации: Repository (PostgreSQL) и MemoryStore.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	// ActiveSession возвращает действующую сессию или common.ErrSessionExpired.
	ActiveSession(ctx context.Context, userID string, now time.Time) (*Session, error)
	DeactivateSessions(ctx context.Context, userID string) error
	TouchSession(ctx context.Context, userID string) error
	LogAttempt(ctx context.Context, userID string, success bool) error
	// FailedAttemptsSince: количество неудачных попыток после since.
	FailedAttemptsSince(ctx context.Context, userID string, since time.Time) (int, error)
}
