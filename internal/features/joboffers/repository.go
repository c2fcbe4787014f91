package joboffers

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/bidpoints/internal/common"
	"serotonyl.ru/bidpoints/internal/db/postgres"
)

// Repository читает таблицу job_offers, которую наполняет сервис вакансий.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт справочник поверх PostgreSQL.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) JobExists(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM job_offers WHERE id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки вакансии: %w", err)
	}
	return exists, nil
}

func (r *Repository) JobIsActive(ctx context.Context, jobID string) (bool, error) {
	var active bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM job_offers WHERE id = $1 AND status = 'open')
	`, jobID).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки статуса вакансии: %w", err)
	}
	return active, nil
}

func (r *Repository) JobTitle(ctx context.Context, jobID string) (string, error) {
	var title string
	err := r.db.QueryRow(ctx, `SELECT title FROM job_offers WHERE id = $1`, jobID).Scan(&title)
	if postgres.IsNoRows(err) {
		return "", common.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("ошибка получения названия вакансии: %w", err)
	}
	return title, nil
}

func (r *Repository) Close(ctx context.Context, jobID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE job_offers SET status = 'closed', closed_at = COALESCE(closed_at, NOW())
		WHERE id = $1
	`, jobID)
	if err != nil {
		return fmt.Errorf("ошибка закрытия вакансии: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

// Upsert создаёт вакансию или обновляет её название. Используется при загрузке JOBS_SEED.
func (r *Repository) Upsert(ctx context.Context, j Job) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO job_offers (id, title, status)
		VALUES ($1, $2, 'open')
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title
	`, j.ID, j.Title)
	if err != nil {
		return fmt.Errorf("ошибка сохранения вакансии: %w", err)
	}
	return nil
}
