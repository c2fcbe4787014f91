// Package joboffers описывает справочник вакансий. Сами вакансии ведёт внешний сервис;
// движку ставок нужно только знать, существует ли вакансия, открыта ли она и как называется.
package joboffers

import (
	"context"
	"time"
)

// Статусы вакансии
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Job: то, что движок знает о вакансии.
type Job struct {
	ID        string
	Title     string
	Status    string
	CreatedAt time.Time
}

// Directory: порт к подсистеме вакансий.
type Directory interface {
	JobExists(ctx context.Context, jobID string) (bool, error)
	JobIsActive(ctx context.Context, jobID string) (bool, error)
	JobTitle(ctx context.Context, jobID string) (string, error)
	// Close помечает вакансию закрытой. Повторный вызов ничего не меняет.
	Close(ctx context.Context, jobID string) error
}
