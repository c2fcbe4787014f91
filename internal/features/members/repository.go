package members

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/bidpoints/internal/common"
	"serotonyl.ru/bidpoints/internal/db/postgres"
)

// Repository: операции с таблицей members.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Upsert: на конфликте по user_id обновляет имя/username, chat_id только если пришёл новый.
func (r *Repository) Upsert(ctx context.Context, p Profile) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO members (user_id, username, full_name, chat_id)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, 0))
		ON CONFLICT (user_id) DO UPDATE
		SET username = EXCLUDED.username,
		    full_name = EXCLUDED.full_name,
		    chat_id = COALESCE(EXCLUDED.chat_id, members.chat_id),
		    updated_at = NOW()
	`, p.UserID, p.Username, p.FullName, p.ChatID)
	if err != nil {
		return fmt.Errorf("ошибка создания/обновления участника: %w", err)
	}
	return nil
}

const memberColumns = `user_id, COALESCE(username, ''), full_name, COALESCE(university, ''),
	COALESCE(chat_id, 0), created_at, updated_at`

func scanMember(row pgx.Row) (*Member, error) {
	var m Member
	err := row.Scan(&m.UserID, &m.Username, &m.FullName, &m.University, &m.ChatID, &m.CreatedAt, &m.UpdatedAt)
	if postgres.IsNoRows(err) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения участника: %w", err)
	}
	return &m, nil
}

func (r *Repository) Get(ctx context.Context, userID string) (*Member, error) {
	return scanMember(r.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE user_id = $1`, userID))
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (*Member, error) {
	return scanMember(r.db.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members WHERE LOWER(username) = LOWER($1) LIMIT 1`, username))
}

func (r *Repository) GetMany(ctx context.Context, userIDs []string) (map[string]*Member, error) {
	out := make(map[string]*Member, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+memberColumns+` FROM members WHERE user_id = ANY($1)`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения участников: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out[m.UserID] = m
	}
	return out, rows.Err()
}

func (r *Repository) SetUniversity(ctx context.Context, userID, university string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE members SET university = $2, updated_at = NOW() WHERE user_id = $1
	`, userID, university)
	if err != nil {
		return fmt.Errorf("ошибка обновления университета: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}
