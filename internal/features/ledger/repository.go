package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/bidpoints/internal/common"
	"serotonyl.ru/bidpoints/internal/db/postgres"
)

// Repository хранит счета в таблицах point_accounts и ledger_entries.
// Все изменения баланса выполняются в транзакциях БД с блокировкой строки счёта.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий счетов.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const ensureAccountSQL = `
	INSERT INTO point_accounts (user_id, total_points)
	VALUES ($1, 0)
	ON CONFLICT (user_id) DO NOTHING
`

// GetOrCreate возвращает счёт, создавая его с нулевым балансом.
func (r *Repository) GetOrCreate(ctx context.Context, userID string) (*Account, error) {
	if _, err := r.db.Exec(ctx, ensureAccountSQL, userID); err != nil {
		return nil, fmt.Errorf("ошибка создания счёта: %w", err)
	}
	return r.Get(ctx, userID)
}

// Get возвращает счёт или common.ErrNotFound.
func (r *Repository) Get(ctx context.Context, userID string) (*Account, error) {
	var a Account
	err := r.db.QueryRow(ctx, `
		SELECT user_id, total_points, created_at, updated_at
		FROM point_accounts WHERE user_id = $1
	`, userID).Scan(&a.UserID, &a.TotalPoints, &a.CreatedAt, &a.UpdatedAt)
	if postgres.IsNoRows(err) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения счёта: %w", err)
	}
	return &a, nil
}

// Apply меняет баланс и пишет запись истории в одной транзакции.
// Строка счёта блокируется через FOR UPDATE, поэтому параллельные списания не пересекаются.
func (r *Repository) Apply(ctx context.Context, p Posting) (*Receipt, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, ensureAccountSQL, p.UserID); err != nil {
		return nil, fmt.Errorf("ошибка создания счёта: %w", err)
	}

	var current int64
	err = tx.QueryRow(ctx, `
		SELECT total_points FROM point_accounts WHERE user_id = $1 FOR UPDATE
	`, p.UserID).Scan(&current)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения баланса: %w", err)
	}

	balance := current + p.Amount
	if balance < 0 {
		return nil, fmt.Errorf("%w: нужно %d, есть %d", common.ErrInsufficientBalance, -p.Amount, current)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE point_accounts SET total_points = $2, updated_at = NOW()
		WHERE user_id = $1
	`, p.UserID, balance); err != nil {
		return nil, fmt.Errorf("ошибка обновления баланса: %w", err)
	}

	e := Entry{
		UserID:      p.UserID,
		Amount:      p.Amount,
		Kind:        p.Kind,
		Source:      p.Source,
		Description: p.Description,
		JobID:       p.JobID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (user_id, amount, kind, source, description, job_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING id, created_at
	`, p.UserID, p.Amount, string(p.Kind), string(p.Source), p.Description, p.JobID).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ошибка записи в историю: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return &Receipt{Entry: e, Balance: balance}, nil
}

const entryColumns = `id, user_id, amount, kind, source, description, COALESCE(job_id, ''), created_at`

// Entries возвращает всю историю счёта в порядке записи (по id).
func (r *Repository) Entries(ctx context.Context, userID string) ([]Entry, error) {
	if _, err := r.Get(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}
	return collectEntries(rows)
}

// RecentEntries возвращает limit последних записей по возрастанию.
func (r *Repository) RecentEntries(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if _, err := r.Get(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `
		SELECT * FROM (
			SELECT `+entryColumns+`
			FROM ledger_entries
			WHERE user_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent
		ORDER BY id
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e            Entry
			kind, source string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &kind, &source, &e.Description, &e.JobID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		e.Kind, e.Source = Kind(kind), Source(source)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения истории: %w", err)
	}
	return entries, nil
}

// Reconcile находит счета, где total_points не равен сумме ledger_entries.amount.
func (r *Repository) Reconcile(ctx context.Context) ([]Mismatch, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.user_id, a.total_points, COALESCE(SUM(e.amount), 0) AS history_sum
		FROM point_accounts a
		LEFT JOIN ledger_entries e ON e.user_id = a.user_id
		GROUP BY a.user_id, a.total_points
		HAVING a.total_points <> COALESCE(SUM(e.amount), 0)
		ORDER BY a.user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка сверки: %w", err)
	}
	defer rows.Close()

	var out []Mismatch
	for rows.Next() {
		var m Mismatch
		if err := rows.Scan(&m.UserID, &m.TotalPoints, &m.HistorySum); err != nil {
			return nil, fmt.Errorf("ошибка сканирования сверки: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
