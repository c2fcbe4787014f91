package joboffers

import (
	"context"
	"sync"
	"time"

	"serotonyl.ru/bidpoints/internal/common"
)

// MemoryDirectory: справочник в памяти, заполняется из JOBS_SEED или тестами.
type MemoryDirectory struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewMemoryDirectory создаёт справочник с начальными вакансиями (все открыты).
func NewMemoryDirectory(jobs ...Job) *MemoryDirectory {
	d := &MemoryDirectory{jobs: make(map[string]Job, len(jobs))}
	for _, j := range jobs {
		d.Add(j)
	}
	return d
}

// Add добавляет или заменяет вакансию. Пустой статус означает open.
func (d *MemoryDirectory) Add(j Job) {
	if j.Status == "" {
		j.Status = StatusOpen
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	d.mu.Lock()
	d.jobs[j.ID] = j
	d.mu.Unlock()
}

func (d *MemoryDirectory) get(jobID string) (Job, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	j, ok := d.jobs[jobID]
	return j, ok
}

func (d *MemoryDirectory) JobExists(_ context.Context, jobID string) (bool, error) {
	_, ok := d.get(jobID)
	return ok, nil
}

func (d *MemoryDirectory) JobIsActive(_ context.Context, jobID string) (bool, error) {
	j, ok := d.get(jobID)
	return ok && j.Status == StatusOpen, nil
}

func (d *MemoryDirectory) JobTitle(_ context.Context, jobID string) (string, error) {
	j, ok := d.get(jobID)
	if !ok {
		return "", common.ErrNotFound
	}
	return j.Title, nil
}

func (d *MemoryDirectory) Close(_ context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, ok := d.jobs[jobID]
	if !ok {
		return common.ErrNotFound
	}
	j.Status = StatusClosed
	d.jobs[jobID] = j
	return nil
}
