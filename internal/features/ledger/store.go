package ledger

import "context"

// Store: хранилище счетов. Реализации: Repository (PostgreSQL) и MemoryStore.
//
// Apply обязан быть атомарным относительно других Apply по тому же счёту:
// проверка баланса, изменение и добавление записи происходят как одно целое.
// Если баланс после операции стал бы отрицательным, возвращается
// common.ErrInsufficientBalance и ничего не меняется.
type Store interface {
	GetOrCreate(ctx context.Context, userID string) (*Account, error)
	Get(ctx context.Context, userID string) (*Account, error)
	Apply(ctx context.Context, p Posting) (*Receipt, error)
	// Entries возвращает историю по возрастанию времени.
	Entries(ctx context.Context, userID string) ([]Entry, error)
	// RecentEntries возвращает limit последних записей, тоже по возрастанию времени.
	RecentEntries(ctx context.Context, userID string, limit int) ([]Entry, error)
	Reconcile(ctx context.Context) ([]Mismatch, error)
}
