package bidding

import (
	"context"
	"sort"
	"sync"
	"time"

	"serotonyl.ru/bidpoints/internal/common"
)

// MemoryPool: ставки в памяти процесса.
// byJob: индекс активных ставок по вакансии.
type MemoryPool struct {
	mu     sync.RWMutex
	bids   map[string]*Bid                // все ставки по ID
	byJob  map[string]map[string]struct{} // jobID -> ID активных ставок
	byUser map[string][]string            // userID -> ID ставок в порядке создания

	now func() time.Time
}

func NewMemoryPool() *MemoryPool {
	return &MemoryPool{
		bids:   make(map[string]*Bid),
		byJob:  make(map[string]map[string]struct{}),
		byUser: make(map[string][]string),
		now:    time.Now,
	}
}

func (p *MemoryPool) Insert(ctx context.Context, b Bid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for id := range p.byJob[b.JobID] {
		if p.bids[id].UserID == b.UserID {
			return common.ErrDuplicateBid
		}
	}

	stored := b
	p.bids[b.ID] = &stored
	p.byUser[b.UserID] = append(p.byUser[b.UserID], b.ID)
	if b.Status == StatusActive {
		idx, ok := p.byJob[b.JobID]
		if !ok {
			idx = make(map[string]struct{})
			p.byJob[b.JobID] = idx
		}
		idx[b.ID] = struct{}{}
	}
	return nil
}

func (p *MemoryPool) ActiveBids(_ context.Context, jobID string) ([]Bid, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Bid, 0, len(p.byJob[jobID]))
	for id := range p.byJob[jobID] {
		out = append(out, *p.bids[id])
	}
	return out, nil
}

func (p *MemoryPool) Latest(_ context.Context, userID, jobID string) (*Bid, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := p.byUser[userID]
	for i := len(ids) - 1; i >= 0; i-- {
		if b := p.bids[ids[i]]; b.JobID == jobID {
			out := *b
			return &out, nil
		}
	}
	return nil, common.ErrNotFound
}

func (p *MemoryPool) UserBids(_ context.Context, userID string) ([]Bid, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := p.byUser[userID]
	out := make([]Bid, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, *p.bids[ids[i]])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (p *MemoryPool) SetPositions(_ context.Context, jobID string, positions map[string]int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for id, pos := range positions {
		if _, active := p.byJob[jobID][id]; !active {
			continue
		}
		b := p.bids[id]
		b.Position = pos
		b.UpdatedAt = now
	}
	return nil
}

func (p *MemoryPool) Transition(_ context.Context, bidID string, from, to Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.bids[bidID]
	if !ok {
		return common.ErrNotFound
	}
	if b.Status != from {
		return common.ErrInvalidState
	}
	b.Status = to
	b.UpdatedAt = p.now()
	if from == StatusActive {
		delete(p.byJob[b.JobID], bidID)
		if len(p.byJob[b.JobID]) == 0 {
			delete(p.byJob, b.JobID)
		}
	}
	return nil
}
