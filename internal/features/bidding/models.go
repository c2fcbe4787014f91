// Package bidding реализует аукцион за место в очереди откликов на вакансию.
// Пользователь тратит баллы на ставку, ставки по вакансии ранжируются:
// больше баллов выше, при равенстве выше тот, кто поставил раньше.
package bidding

import (
	"time"

	"serotonyl.ru/bidpoints/internal/features/ledger"
)

// Status: состояние ставки.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusWon       Status = "won"
	StatusLost      Status = "lost"
)

// Terminal сообщает, что из этого состояния переходов больше нет.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusWon || s == StatusLost
}

// Bid: ставка пользователя на вакансию. Ставки не удаляются.
type Bid struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	JobID     string    `json:"jobId"`
	Points    int64     `json:"points"`
	Status    Status    `json:"status"`
	Position  int       `json:"position"` // имеет смысл только для active
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RankedBid: активная ставка в выдаче getJobBids вместе с подписью участника.
type RankedBid struct {
	Bid
	Name       string `json:"name,omitempty"`
	University string `json:"university,omitempty"`
}

// PlaceResult: созданная ставка и баланс после списания.
type PlaceResult struct {
	Bid     Bid   `json:"bid"`
	Balance int64 `json:"totalPoints"`
}

// CancelResult: сколько вернули и какой стал баланс.
type CancelResult struct {
	BidID    string `json:"bidId"`
	JobID    string `json:"jobId"`
	Refunded int64  `json:"refunded"`
	Balance  int64  `json:"totalPoints"`
}

// CloseResult: итог закрытия вакансии.
type CloseResult struct {
	JobID string `json:"jobId"`
	Won   int    `json:"won"`
	Lost  int    `json:"lost"`
}

// AccountSnapshot: баланс, последние операции и ставки пользователя.
type AccountSnapshot struct {
	UserID      string         `json:"userId"`
	TotalPoints int64          `json:"totalPoints"`
	History     []ledger.Entry `json:"history"`
	Bids        []Bid          `json:"bids"`
}
