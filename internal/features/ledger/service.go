package ledger

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/bidpoints/internal/common"
	"serotonyl.ru/bidpoints/internal/metrics"
)

// Service: операции над счетами: валидация, логирование, метрики.
// Сама атомарность обеспечивается Store.
type Service struct {
	store Store
}

// NewService создаёт сервис счетов.
func NewService(store Store) *Service {
	return &Service{store: store}
}

func validUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: пустой идентификатор пользователя", common.ErrNotFound)
	}
	return nil
}

// GetOrCreateAccount возвращает счёт, создавая его с нулевым балансом.
func (s *Service) GetOrCreateAccount(ctx context.Context, userID string) (*Account, error) {
	if err := validUser(userID); err != nil {
		return nil, err
	}
	return s.store.GetOrCreate(ctx, userID)
}

// Debit списывает amount баллов и добавляет запись spent на -amount.
func (s *Service) Debit(ctx context.Context, userID string, amount int64, source Source, description, jobID string) (*Receipt, error) {
	if err := validUser(userID); err != nil {
		return nil, err
	}
	if amount < 1 {
		return nil, common.ErrInvalidAmount
	}
	if !source.Valid() {
		return nil, fmt.Errorf("%w: источник %q", common.ErrInvalidKind, source)
	}

	rec, err := s.store.Apply(ctx, Posting{
		UserID:      userID,
		Amount:      -amount,
		Kind:        KindSpent,
		Source:      source,
		Description: description,
		JobID:       jobID,
	})
	if err != nil {
		return nil, err
	}
	s.record(rec, amount)
	return rec, nil
}

// Credit начисляет amount баллов записью earned или refunded.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, kind Kind, source Source, description, jobID string) (*Receipt, error) {
	if err := validUser(userID); err != nil {
		return nil, err
	}
	if amount < 1 {
		return nil, common.ErrInvalidAmount
	}
	if kind != KindEarned && kind != KindRefunded {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidKind, kind)
	}
	if !source.Valid() {
		return nil, fmt.Errorf("%w: источник %q", common.ErrInvalidKind, source)
	}

	rec, err := s.store.Apply(ctx, Posting{
		UserID:      userID,
		Amount:      amount,
		Kind:        kind,
		Source:      source,
		Description: description,
		JobID:       jobID,
	})
	if err != nil {
		return nil, err
	}
	s.record(rec, amount)
	return rec, nil
}

func (s *Service) record(rec *Receipt, amount int64) {
	metrics.LedgerEntries.WithLabelValues(string(rec.Entry.Kind), string(rec.Entry.Source)).Inc()
	metrics.LedgerPoints.WithLabelValues(string(rec.Entry.Kind)).Add(float64(amount))

	log.WithFields(log.Fields{
		"component": "ledger",
		"user_id":   rec.Entry.UserID,
		"kind":      rec.Entry.Kind,
		"source":    rec.Entry.Source,
		"amount":    rec.Entry.Amount,
		"job_id":    rec.Entry.JobID,
		"balance":   rec.Balance,
	}).Debug("Запись добавлена в историю")
}

// History возвращает всю историю счёта по порядку. Каждый вызов отдаёт новый срез.
// Если счёт ни разу не создавался, возвращает common.ErrNotFound.
func (s *Service) History(ctx context.Context, userID string) ([]Entry, error) {
	if err := validUser(userID); err != nil {
		return nil, err
	}
	return s.store.Entries(ctx, userID)
}

// RecentHistory возвращает limit последних записей в хронологическом порядке.
func (s *Service) RecentHistory(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if err := validUser(userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("некорректный limit %d", limit)
	}
	return s.store.RecentEntries(ctx, userID, limit)
}

// Reconcile проверяет, что баланс каждого счёта равен сумме его истории.
func (s *Service) Reconcile(ctx context.Context) ([]Mismatch, error) {
	mismatches, err := s.store.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	metrics.ReconcileMismatches.Set(float64(len(mismatches)))
	for _, m := range mismatches {
		log.WithFields(log.Fields{
			"component":   "ledger",
			"user_id":     m.UserID,
			"balance":     m.TotalPoints,
			"history_sum": m.HistorySum,
		}).Error("Баланс не сходится с историей")
	}
	return mismatches, nil
}
