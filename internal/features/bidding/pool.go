package bidding

import "context"

// Pool: хранилище ставок с индексом активных ставок по вакансии.
// Реализации: Repository (PostgreSQL) и MemoryPool.
type Pool interface {
	// Insert добавляет ставку. Если у пользователя уже есть активная ставка
	// на эту вакансию, возвращает common.ErrDuplicateBid.
	Insert(ctx context.Context, b Bid) error
	// ActiveBids возвращает активные ставки вакансии в произвольном порядке.
	ActiveBids(ctx context.Context, jobID string) ([]Bid, error)
	// Latest возвращает последнюю ставку пользователя на вакансию (в любом статусе).
	Latest(ctx context.Context, userID, jobID string) (*Bid, error)
	// UserBids возвращает все ставки пользователя, новые первыми.
	UserBids(ctx context.Context, userID string) ([]Bid, error)
	// SetPositions записывает позиции активным ставкам вакансии. Неактивные пропускаются.
	SetPositions(ctx context.Context, jobID string, positions map[string]int) error
	// Transition меняет статус с from на to. Если текущий статус не from,
	// возвращает common.ErrInvalidState и ничего не меняет.
	Transition(ctx context.Context, bidID string, from, to Status) error
}
