package members

import "context"

// Store: хранилище профилей. Реализации: Repository (PostgreSQL) и MemoryStore.
type Store interface {
	// Upsert создаёт профиль или обновляет имя/username/чат. Университет не трогает.
	Upsert(ctx context.Context, p Profile) error
	Get(ctx context.Context, userID string) (*Member, error)
	GetByUsername(ctx context.Context, username string) (*Member, error)
	// GetMany возвращает найденные профили по ID; отсутствующие просто пропускаются.
	GetMany(ctx context.Context, userIDs []string) (map[string]*Member, error)
	SetUniversity(ctx context.Context, userID, university string) error
}
