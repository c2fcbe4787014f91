package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"serotonyl.ru/bidpoints/internal/common"
)

// MemoryStore хранит счета в памяти процесса. Для STORAGE_DRIVER=memory и тестов.
type MemoryStore struct {
	mu       sync.Mutex // защищает map accounts и счётчик nextID
	accounts map[string]*memAccount
	nextID   int64

	now func() time.Time
}

type memAccount struct {
	mu      sync.Mutex // единственный писатель на счёт
	account Account
	entries []Entry
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*memAccount),
		now:      time.Now,
	}
}

// SetClock подменяет источник времени (для тестов).
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) account(userID string, create bool) *memAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok && create {
		ts := s.now()
		a = &memAccount{account: Account{UserID: userID, CreatedAt: ts, UpdatedAt: ts}}
		s.accounts[userID] = a
	}
	return a
}

func (s *MemoryStore) next() (int64, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID, s.now()
}

// GetOrCreate возвращает копию счёта, создавая его при первом обращении.
func (s *MemoryStore) GetOrCreate(_ context.Context, userID string) (*Account, error) {
	a := s.account(userID, true)
	a.mu.Lock()
	defer a.mu.Unlock()
	acc := a.account
	return &acc, nil
}

// Get возвращает счёт или common.ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, userID string) (*Account, error) {
	a := s.account(userID, false)
	if a == nil {
		return nil, common.ErrNotFound
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	acc := a.account
	return &acc, nil
}

// Apply меняет баланс и добавляет запись под мьютексом счёта.
func (s *MemoryStore) Apply(ctx context.Context, p Posting) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a := s.account(p.UserID, true)
	a.mu.Lock()
	defer a.mu.Unlock()

	balance := a.account.TotalPoints + p.Amount
	if balance < 0 {
		return nil, fmt.Errorf("%w: нужно %d, есть %d", common.ErrInsufficientBalance, -p.Amount, a.account.TotalPoints)
	}

	id, ts := s.next()
	e := Entry{
		ID:          id,
		UserID:      p.UserID,
		Amount:      p.Amount,
		Kind:        p.Kind,
		Source:      p.Source,
		Description: p.Description,
		JobID:       p.JobID,
		CreatedAt:   ts,
	}
	a.entries = append(a.entries, e)
	a.account.TotalPoints = balance
	a.account.UpdatedAt = ts

	return &Receipt{Entry: e, Balance: balance}, nil
}

// Entries возвращает копию истории.
func (s *MemoryStore) Entries(_ context.Context, userID string) ([]Entry, error) {
	a := s.account(userID, false)
	if a == nil {
		return nil, common.ErrNotFound
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out, nil
}

// RecentEntries возвращает хвост истории длиной не больше limit.
func (s *MemoryStore) RecentEntries(ctx context.Context, userID string, limit int) ([]Entry, error) {
	entries, err := s.Entries(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// Reconcile сверяет баланс каждого счёта с суммой его истории.
func (s *MemoryStore) Reconcile(_ context.Context) ([]Mismatch, error) {
	s.mu.Lock()
	accounts := make([]*memAccount, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, a)
	}
	s.mu.Unlock()

	var out []Mismatch
	for _, a := range accounts {
		a.mu.Lock()
		var sum int64
		for _, e := range a.entries {
			sum += e.Amount
		}
		if sum != a.account.TotalPoints {
			out = append(out, Mismatch{UserID: a.account.UserID, TotalPoints: a.account.TotalPoints, HistorySum: sum})
		}
		a.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
