package bidding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/bidpoints/internal/common"
	"serotonyl.ru/bidpoints/internal/features/joboffers"
	"serotonyl.ru/bidpoints/internal/features/ledger"
	"serotonyl.ru/bidpoints/internal/features/members"
	"serotonyl.ru/bidpoints/internal/metrics"
)

// ProfileSource отдаёт профили для подписи ставок. *members.Service подходит.
type ProfileSource interface {
	Profiles(ctx context.Context, userIDs []string) map[string]*members.Member
}

// Service: движок ставок. Связывает счета (ledger), пул ставок и справочник вакансий.
//
// Порядок блокировок всегда job → user. Отмена берёт только user:
// она не перенумеровывает чужие ставки.
type Service struct {
	ledger   *ledger.Service
	pool     Pool
	jobs     joboffers.Directory
	profiles ProfileSource
	locks    Locker

	recentHistory int
	now           func() time.Time
	newID         func() string
}

// NewService создаёт движок. profiles может быть nil, тогда ставки без подписей.
func NewService(ledgerSvc *ledger.Service, pool Pool, jobs joboffers.Directory, profiles ProfileSource, locks Locker, recentHistory int) *Service {
	return &Service{
		ledger:        ledgerSvc,
		pool:          pool,
		jobs:          jobs,
		profiles:      profiles,
		locks:         locks,
		recentHistory: recentHistory,
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// reason: короткий код ошибки для метрик.
func reason(err error) string {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return "not_found"
	case errors.Is(err, common.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, common.ErrDuplicateBid):
		return "duplicate"
	case errors.Is(err, common.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, common.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, common.ErrBusy):
		return "busy"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "internal"
}

func (s *Service) reject(op string, err error, fields log.Fields) error {
	metrics.Reject(op, reason(err))
	entry := log.WithFields(fields).WithField("component", "bidding").WithError(err)
	if common.IsExpected(err) {
		entry.Debugf("%s отклонён", op)
	} else {
		entry.Errorf("%s: внутренняя ошибка", op)
	}
	return err
}

// jobTitle: название для описаний в истории; если справочник не ответил, показываем ID.
func (s *Service) jobTitle(ctx context.Context, jobID string) string {
	title, err := s.jobs.JobTitle(ctx, jobID)
	if err != nil || title == "" {
		return jobID
	}
	return title
}

func (s *Service) checkJobActive(ctx context.Context, jobID string) error {
	active, err := s.jobs.JobIsActive(ctx, jobID)
	if err != nil {
		return fmt.Errorf("ошибка проверки вакансии: %w", err)
	}
	if !active {
		return fmt.Errorf("%w: вакансия %s не найдена или закрыта", common.ErrNotFound, jobID)
	}
	return nil
}

// PlaceBid списывает points баллов и ставит пользователя в очередь на вакансию.
//
// Под блокировкой вакансии: проверка дубля, списание, вставка, пересчёт позиций
// всех активных ставок. Если после списания что-то упало, баллы возвращаются
// записью refunded до того, как ошибка уйдёт наружу.
func (s *Service) PlaceBid(ctx context.Context, userID, jobID string, points int64) (*PlaceResult, error) {
	fields := log.Fields{"user_id": userID, "job_id": jobID, "points": points}
	if points < 1 {
		return nil, s.reject("placeBid", common.ErrInvalidAmount, fields)
	}
	if userID == "" {
		return nil, s.reject("placeBid", fmt.Errorf("%w: пустой идентификатор пользователя", common.ErrNotFound), fields)
	}

	unlockJob, err := s.locks.Lock(ctx, jobKey(jobID))
	if err != nil {
		return nil, s.reject("placeBid", err, fields)
	}
	defer unlockJob()

	if err := s.checkJobActive(ctx, jobID); err != nil {
		return nil, s.reject("placeBid", err, fields)
	}

	unlockUser, err := s.locks.Lock(ctx, userKey(userID))
	if err != nil {
		return nil, s.reject("placeBid", err, fields)
	}
	defer unlockUser()

	active, err := s.pool.ActiveBids(ctx, jobID)
	if err != nil {
		return nil, s.reject("placeBid", err, fields)
	}
	for _, b := range active {
		if b.UserID == userID {
			return nil, s.reject("placeBid", common.ErrDuplicateBid, fields)
		}
	}

	title := s.jobTitle(ctx, jobID)
	rec, err := s.ledger.Debit(ctx, userID, points, ledger.SourceAuction, fmt.Sprintf("Ставка на «%s»", title), jobID)
	if err != nil {
		return nil, s.reject("placeBid", err, fields)
	}

	now := s.now()
	bid := Bid{
		ID:        s.newID(),
		UserID:    userID,
		JobID:     jobID,
		Points:    points,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.pool.Insert(ctx, bid); err != nil {
		return nil, s.reject("placeBid", s.rollback(ctx, nil, userID, jobID, points, err), fields)
	}

	ranked, err := s.rerank(ctx, jobID)
	if err != nil {
		return nil, s.reject("placeBid", s.rollback(ctx, &bid, userID, jobID, points, err), fields)
	}
	for _, b := range ranked {
		if b.ID == bid.ID {
			bid.Position = b.Position
			break
		}
	}

	metrics.BidsPlaced.Inc()
	log.WithFields(fields).WithFields(log.Fields{
		"component": "bidding",
		"bid_id":    bid.ID,
		"position":  bid.Position,
		"balance":   rec.Balance,
	}).Info("Ставка принята")

	return &PlaceResult{Bid: bid, Balance: rec.Balance}, nil
}

// rerank пересчитывает позиции всех активных ставок вакансии и сохраняет их.
func (s *Service) rerank(ctx context.Context, jobID string) ([]Bid, error) {
	active, err := s.pool.ActiveBids(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ranked := Rank(active)
	if err := s.pool.SetPositions(ctx, jobID, Positions(ranked)); err != nil {
		return nil, err
	}
	return ranked, nil
}

// rollback возвращает списанные баллы и, если ставка уже вставлена, отменяет её.
// Возвращает исходную ошибку cause.
func (s *Service) rollback(ctx context.Context, bid *Bid, userID, jobID string, points int64, cause error) error {
	// откат должен дойти до конца, даже если запрос уже отменён
	ctx = context.WithoutCancel(ctx)
	metrics.BidRollbacks.Inc()

	entry := log.WithFields(log.Fields{
		"component": "bidding",
		"user_id":   userID,
		"job_id":    jobID,
		"points":    points,
	}).WithError(cause)

	if bid != nil {
		if err := s.pool.Transition(ctx, bid.ID, StatusActive, StatusCancelled); err != nil {
			entry.WithField("bid_id", bid.ID).WithField("rollback_error", err).Error("Откат: не удалось отменить ставку")
		}
	}
	if _, err := s.ledger.Credit(ctx, userID, points, ledger.KindRefunded, ledger.SourceAuction, "Возврат: ставка не принята", jobID); err != nil {
		entry.WithField("rollback_error", err).Error("Откат: не удалось вернуть баллы")
		return fmt.Errorf("%w (возврат баллов не удался: %v)", cause, err)
	}
	entry.Warn("Ставка откатана, баллы возвращены")
	return cause
}

// CancelBid отменяет последнюю ставку пользователя на вакансию и возвращает ровно её баллы.
// Позиции остальных ставок не пересчитываются: это сделает следующий PlaceBid.
func (s *Service) CancelBid(ctx context.Context, userID, jobID string) (*CancelResult, error) {
	fields := log.Fields{"user_id": userID, "job_id": jobID}

	unlockUser, err := s.locks.Lock(ctx, userKey(userID))
	if err != nil {
		return nil, s.reject("cancelBid", err, fields)
	}
	defer unlockUser()

	bid, err := s.pool.Latest(ctx, userID, jobID)
	if err != nil {
		return nil, s.reject("cancelBid", err, fields)
	}
	fields["bid_id"] = bid.ID
	if bid.Status != StatusActive {
		return nil, s.reject("cancelBid", fmt.Errorf("%w: ставка уже %s", common.ErrInvalidState, bid.Status), fields)
	}

	desc := fmt.Sprintf("Отмена ставки на «%s»", s.jobTitle(ctx, jobID))
	rec, err := s.ledger.Credit(ctx, userID, bid.Points, ledger.KindRefunded, ledger.SourceAuction, desc, jobID)
	if err != nil {
		return nil, s.reject("cancelBid", err, fields)
	}

	if err := s.pool.Transition(ctx, bid.ID, StatusActive, StatusCancelled); err != nil {
		// ставку успели закрыть или хранилище упало: забираем возврат обратно
		cctx := context.WithoutCancel(ctx)
		if _, derr := s.ledger.Debit(cctx, userID, bid.Points, ledger.SourceAuction, "Коррекция: отмена не состоялась", jobID); derr != nil {
			log.WithFields(fields).WithError(derr).Error("Не удалось скорректировать возврат после неудачной отмены")
		}
		metrics.BidRollbacks.Inc()
		return nil, s.reject("cancelBid", err, fields)
	}

	metrics.BidsCancelled.Inc()
	log.WithFields(fields).WithFields(log.Fields{
		"component": "bidding",
		"refunded":  bid.Points,
		"balance":   rec.Balance,
	}).Info("Ставка отменена")

	return &CancelResult{BidID: bid.ID, JobID: jobID, Refunded: bid.Points, Balance: rec.Balance}, nil
}

// GetJobBids возвращает активные ставки вакансии в порядке очереди.
// Позиции выводятся из порядка (1..N), сохранённым значениям не доверяем.
func (s *Service) GetJobBids(ctx context.Context, jobID string) ([]RankedBid, error) {
	exists, err := s.jobs.JobExists(ctx, jobID)
	if err != nil {
		return nil, s.reject("getJobBids", fmt.Errorf("ошибка проверки вакансии: %w", err), log.Fields{"job_id": jobID})
	}
	if !exists {
		return nil, s.reject("getJobBids", common.ErrNotFound, log.Fields{"job_id": jobID})
	}

	active, err := s.pool.ActiveBids(ctx, jobID)
	if err != nil {
		return nil, s.reject("getJobBids", err, log.Fields{"job_id": jobID})
	}
	ranked := Rank(active)

	var profiles map[string]*members.Member
	if s.profiles != nil && len(ranked) > 0 {
		ids := make([]string, len(ranked))
		for i, b := range ranked {
			ids[i] = b.UserID
		}
		profiles = s.profiles.Profiles(ctx, ids)
	}

	out := make([]RankedBid, len(ranked))
	for i, b := range ranked {
		out[i] = RankedBid{Bid: b}
		if m, ok := profiles[b.UserID]; ok {
			out[i].Name = m.DisplayName()
			out[i].University = m.University
		}
	}
	return out, nil
}

// CloseJob закрывает вакансию: активные ставки победителей становятся won, остальные lost.
// Повторный вызов ничего не меняет и возвращает нулевые счётчики.
func (s *Service) CloseJob(ctx context.Context, jobID string, winners ...string) (*CloseResult, error) {
	fields := log.Fields{"job_id": jobID, "winners": winners}

	exists, err := s.jobs.JobExists(ctx, jobID)
	if err != nil {
		return nil, s.reject("closeJob", fmt.Errorf("ошибка проверки вакансии: %w", err), fields)
	}
	if !exists {
		return nil, s.reject("closeJob", common.ErrNotFound, fields)
	}

	unlockJob, err := s.locks.Lock(ctx, jobKey(jobID))
	if err != nil {
		return nil, s.reject("closeJob", err, fields)
	}
	defer unlockJob()

	if err := s.jobs.Close(ctx, jobID); err != nil {
		return nil, s.reject("closeJob", err, fields)
	}

	won := make(map[string]bool, len(winners))
	for _, w := range winners {
		won[w] = true
	}

	active, err := s.pool.ActiveBids(ctx, jobID)
	if err != nil {
		return nil, s.reject("closeJob", err, fields)
	}

	res := &CloseResult{JobID: jobID}
	for _, b := range active {
		to := StatusLost
		if won[b.UserID] {
			to = StatusWon
		}
		err := s.pool.Transition(ctx, b.ID, StatusActive, to)
		if errors.Is(err, common.ErrInvalidState) {
			// пользователь успел отменить ставку
			continue
		}
		if err != nil {
			return nil, s.reject("closeJob", err, fields)
		}
		metrics.BidsClosed.WithLabelValues(string(to)).Inc()
		if to == StatusWon {
			res.Won++
		} else {
			res.Lost++
		}
	}

	log.WithFields(fields).WithFields(log.Fields{
		"component": "bidding",
		"won":       res.Won,
		"lost":      res.Lost,
	}).Info("Вакансия закрыта")
	return res, nil
}

// Account возвращает снимок счёта: баланс, последние записи истории и ставки.
func (s *Service) Account(ctx context.Context, userID string) (*AccountSnapshot, error) {
	acc, err := s.ledger.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	history, err := s.ledger.RecentHistory(ctx, userID, s.recentHistory)
	if err != nil {
		return nil, err
	}
	bids, err := s.pool.UserBids(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.livePositions(ctx, bids); err != nil {
		return nil, err
	}
	return &AccountSnapshot{
		UserID:      acc.UserID,
		TotalPoints: acc.TotalPoints,
		History:     history,
		Bids:        bids,
	}, nil
}

// livePositions пересчитывает места активных ставок по текущему пулу вакансии.
// Сохранённый Position после отмены соседей может устареть до следующего PlaceBid.
func (s *Service) livePositions(ctx context.Context, bids []Bid) error {
	positions := make(map[string]map[string]int)
	for i := range bids {
		if bids[i].Status != StatusActive {
			continue
		}
		jobID := bids[i].JobID
		if _, ok := positions[jobID]; !ok {
			active, err := s.pool.ActiveBids(ctx, jobID)
			if err != nil {
				return err
			}
			positions[jobID] = Positions(Rank(active))
		}
		bids[i].Position = positions[jobID][bids[i].ID]
	}
	return nil
}

// PointsHistory возвращает полную историю счёта.
func (s *Service) PointsHistory(ctx context.Context, userID string) ([]ledger.Entry, error) {
	return s.ledger.History(ctx, userID)
}
