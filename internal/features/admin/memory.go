package admin

import (
	"context"
	"sync"
	"time"

	"serotonyl.ru/bidpoints/internal/common"
)

type attempt struct {
	at      time.Time
	success bool
}

// MemoryStore: сессии и попытки входа в памяти процесса.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	attempts map[string][]attempt
	nextID   int64

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		attempts: make(map[string][]attempt),
		now:      time.Now,
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	stored := *s
	stored.ID = m.nextID
	stored.IsActive = true
	stored.AuthenticatedAt = m.now()
	stored.LastActivity = stored.AuthenticatedAt
	m.sessions[s.UserID] = &stored
	return nil
}

func (m *MemoryStore) ActiveSession(_ context.Context, userID string, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok || !s.IsActive || !s.ExpiresAt.After(now) {
		return nil, common.ErrSessionExpired
	}
	out := *s
	return &out, nil
}

func (m *MemoryStore) DeactivateSessions(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		s.IsActive = false
	}
	return nil
}

func (m *MemoryStore) TouchSession(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok && s.IsActive {
		s.LastActivity = m.now()
	}
	return nil
}

func (m *MemoryStore) LogAttempt(_ context.Context, userID string, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[userID] = append(m.attempts[userID], attempt{at: m.now(), success: success})
	return nil
}

func (m *MemoryStore) FailedAttemptsSince(_ context.Context, userID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attempts[userID] {
		if !a.success && !a.at.Before(since) {
			n++
		}
	}
	return n, nil
}
