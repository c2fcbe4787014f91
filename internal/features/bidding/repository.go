package bidding

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/bidpoints/internal/common"
	"serotonyl.ru/bidpoints/internal/db/postgres"
)

// Repository хранит ставки в таблице bids.
// Единственность активной ставки на (user_id, job_id) держит частичный уникальный индекс.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const bidColumns = `id::text, user_id, job_id, points, status, position, created_at, updated_at`

func scanBid(row pgx.Row) (*Bid, error) {
	var (
		b      Bid
		status string
	)
	if err := row.Scan(&b.ID, &b.UserID, &b.JobID, &b.Points, &status, &b.Position, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Status = Status(status)
	return &b, nil
}

func collectBids(rows pgx.Rows) ([]Bid, error) {
	defer rows.Close()
	out := make([]Bid, 0)
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования ставки: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения ставок: %w", err)
	}
	return out, nil
}

func (r *Repository) Insert(ctx context.Context, b Bid) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO bids (id, user_id, job_id, points, status, position, created_at, updated_at)
		VALUES ($1::text::uuid, $2, $3, $4, $5, $6, $7, $7)
	`, b.ID, b.UserID, b.JobID, b.Points, string(b.Status), b.Position, b.CreatedAt)
	if postgres.IsUniqueViolation(err) {
		return common.ErrDuplicateBid
	}
	if err != nil {
		return fmt.Errorf("ошибка сохранения ставки: %w", err)
	}
	return nil
}

func (r *Repository) ActiveBids(ctx context.Context, jobID string) ([]Bid, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bidColumns+` FROM bids WHERE job_id = $1 AND status = 'active'
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения ставок вакансии: %w", err)
	}
	return collectBids(rows)
}

func (r *Repository) Latest(ctx context.Context, userID, jobID string) (*Bid, error) {
	b, err := scanBid(r.db.QueryRow(ctx, `
		SELECT `+bidColumns+` FROM bids
		WHERE user_id = $1 AND job_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, userID, jobID))
	if postgres.IsNoRows(err) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения ставки: %w", err)
	}
	return b, nil
}

func (r *Repository) UserBids(ctx context.Context, userID string) ([]Bid, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bidColumns+` FROM bids WHERE user_id = $1 ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения ставок пользователя: %w", err)
	}
	return collectBids(rows)
}

// SetPositions обновляет позиции одним запросом через unnest.
func (r *Repository) SetPositions(ctx context.Context, jobID string, positions map[string]int) error {
	if len(positions) == 0 {
		return nil
	}
	ids := make([]string, 0, len(positions))
	pos := make([]int32, 0, len(positions))
	for id, p := range positions {
		ids = append(ids, id)
		pos = append(pos, int32(p))
	}
	_, err := r.db.Exec(ctx, `
		UPDATE bids b
		SET position = v.pos, updated_at = NOW()
		FROM unnest($2::text[], $3::int[]) AS v(id, pos)
		WHERE b.id = v.id::uuid AND b.job_id = $1 AND b.status = 'active'
	`, jobID, ids, pos)
	if err != nil {
		return fmt.Errorf("ошибка обновления позиций: %w", err)
	}
	return nil
}

// Transition: compare-and-set по статусу.
func (r *Repository) Transition(ctx context.Context, bidID string, from, to Status) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE bids SET status = $3, updated_at = NOW()
		WHERE id = $1::text::uuid AND status = $2
	`, bidID, string(from), string(to))
	if err != nil {
		return fmt.Errorf("ошибка смены статуса ставки: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM bids WHERE id = $1::text::uuid)`, bidID).Scan(&exists); err != nil {
		return fmt.Errorf("ошибка проверки ставки: %w", err)
	}
	if !exists {
		return common.ErrNotFound
	}
	return common.ErrInvalidState
}
