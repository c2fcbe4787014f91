// Package ledger ведёт баллы пользователей: баланс и неизменяемую историю начислений/списаний.
// models.go описывает счета, записи истории и типы операций.
package ledger

import "time"

// Kind: тип записи в истории.
type Kind string

const (
	KindEarned   Kind = "earned"   // начисление (отзыв, отклик, ручная выдача)
	KindSpent    Kind = "spent"    // списание на ставку
	KindRefunded Kind = "refunded" // возврат баллов (отмена ставки, откат)
)

// Source: откуда пришла операция.
type Source string

const (
	SourceReview         Source = "review"
	SourceJobApplication Source = "job_application"
	SourceAuction        Source = "auction"
)

// Valid сообщает, знаком ли источник.
func (s Source) Valid() bool {
	switch s {
	case SourceReview, SourceJobApplication, SourceAuction:
		return true
	}
	return false
}

// Account: счёт пользователя. Создаётся лениво с нулевым балансом.
type Account struct {
	UserID      string    `json:"userId"`
	TotalPoints int64     `json:"totalPoints"` // всегда >= 0
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Entry: одна запись истории. После добавления не меняется.
// Amount со знаком: списания отрицательные.
type Entry struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"userId"`
	Amount      int64     `json:"amount"`
	Kind        Kind      `json:"type"`
	Source      Source    `json:"source"`
	Description string    `json:"description"`
	JobID       string    `json:"jobId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Posting: входные данные для изменения баланса.
type Posting struct {
	UserID      string
	Amount      int64 // со знаком
	Kind        Kind
	Source      Source
	Description string
	JobID       string
}

// Receipt: результат проведённой операции: запись и баланс после неё.
type Receipt struct {
	Entry   Entry `json:"entry"`
	Balance int64 `json:"totalPoints"`
}

// Mismatch: счёт, у которого баланс разошёлся с суммой истории.
type Mismatch struct {
	UserID      string
	TotalPoints int64
	HistorySum  int64
}
