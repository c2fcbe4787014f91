// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает сверку балансов с историей леджера.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/bidpoints/internal/features/ledger"
)

// Reconciler сверяет балансы счетов с суммами их истории.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]ledger.Mismatch, error)
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	spec       string
}

// NewScheduler создаёт планировщик в часовом поясе loc.
// Пустой spec отключает сверку.
func NewScheduler(reconciler Reconciler, spec string, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	return &Scheduler{cron: c, reconciler: reconciler, spec: spec}
}

// Start регистрирует задачи и запускает cron. Ошибка означает неверное расписание.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.spec == "" {
		log.Info("Сверка леджера по расписанию отключена")
		return nil
	}
	if _, err := s.cron.AddFunc(s.spec, func() { s.RunReconcile(ctx) }); err != nil {
		return fmt.Errorf("неверное расписание RECONCILE_CRON %q: %w", s.spec, err)
	}

	s.cron.Start()
	log.WithField("spec", s.spec).Info("Планировщик задач запущен")
	return nil
}

// RunReconcile выполняет одну сверку и возвращает число расхождений.
func (s *Scheduler) RunReconcile(ctx context.Context) int {
	start := time.Now()
	mismatches, err := s.reconciler.Reconcile(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка сверки леджера")
		return 0
	}

	entry := log.WithFields(log.Fields{
		"mismatches": len(mismatches),
		"took":       time.Since(start).String(),
	})
	if len(mismatches) > 0 {
		entry.Warn("[CRON] Сверка леджера нашла расхождения")
	} else {
		entry.Debug("[CRON] Сверка леджера: расхождений нет")
	}
	return len(mismatches)
}

// Stop останавливает планировщик и ждёт завершения запущенных задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
