package members

import (
	"context"
	"strings"
	"sync"
	"time"

	"serotonyl.ru/bidpoints/internal/common"
)

// MemoryStore: профили в памяти процесса.
type MemoryStore struct {
	mu      sync.RWMutex
	members map[string]Member
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{members: make(map[string]Member)}
}

func (s *MemoryStore) Upsert(_ context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	m, ok := s.members[p.UserID]
	if !ok {
		m = Member{UserID: p.UserID, CreatedAt: now}
	}
	m.Username = p.Username
	m.FullName = p.FullName
	if p.ChatID != 0 {
		m.ChatID = p.ChatID
	}
	m.UpdatedAt = now
	s.members[p.UserID] = m
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[userID]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &m, nil
}

func (s *MemoryStore) GetByUsername(_ context.Context, username string) (*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members {
		if m.Username != "" && strings.EqualFold(m.Username, username) {
			return &m, nil
		}
	}
	return nil, common.ErrNotFound
}

func (s *MemoryStore) GetMany(_ context.Context, userIDs []string) (map[string]*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Member, len(userIDs))
	for _, id := range userIDs {
		if m, ok := s.members[id]; ok {
			out[id] = &m
		}
	}
	return out, nil
}

func (s *MemoryStore) SetUniversity(_ context.Context, userID, university string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[userID]
	if !ok {
		return common.ErrNotFound
	}
	m.University = university
	m.UpdatedAt = time.Now()
	s.members[userID] = m
	return nil
}
