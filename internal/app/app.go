// Package app инициализирует все компоненты приложения.
// Здесь точка сборки: выбирает хранилище по STORAGE_DRIVER, создаёт сервисы,
// HTTP API, Telegram-бота и планировщик.
package app

import (
	"context"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/bidpoints/internal/api"
	"serotonyl.ru/bidpoints/internal/bot"
	"serotonyl.ru/bidpoints/internal/common"
	"serotonyl.ru/bidpoints/internal/config"
	"serotonyl.ru/bidpoints/internal/db/postgres"
	"serotonyl.ru/bidpoints/internal/features/admin"
	"serotonyl.ru/bidpoints/internal/features/bidding"
	"serotonyl.ru/bidpoints/internal/features/joboffers"
	"serotonyl.ru/bidpoints/internal/features/ledger"
	"serotonyl.ru/bidpoints/internal/features/members"
	"serotonyl.ru/bidpoints/internal/jobs"
)

// App содержит все компоненты приложения.
// Bot и HTTP равны nil, если соответствующий фронтенд выключен.
type App struct {
	DB        *pgxpool.Pool
	LockDB    *pgxpool.Pool
	Bot       *bot.Bot
	HTTP      *http.Server
	Scheduler *jobs.Scheduler

	Ledger  *ledger.Service
	Bidding *bidding.Service
	Admin   *admin.Service
	Members *members.Service
}

// stores: набор хранилищ одного драйвера.
type stores struct {
	ledger  ledger.Store
	members members.Store
	jobs    joboffers.Directory
	bids    bidding.Pool
	admin   admin.Store
	locks   bidding.Locker
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен: компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	seed, err := config.ParseJobsSeed(cfg.JobsSeed)
	if err != nil {
		return nil, err
	}

	// === 1. Хранилище ===
	var (
		st       stores
		pool     *pgxpool.Pool
		lockPool *pgxpool.Pool
	)
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		st = newMemoryStores(cfg, seed)
		log.Warn("STORAGE_DRIVER=memory: данные живут до рестарта процесса")
	default:
		st, pool, lockPool, err = newPostgresStores(ctx, cfg, seed)
		if err != nil {
			return nil, err
		}
	}

	// === 2. Сервисы ===
	loc := common.LoadLocation(cfg.AppTimezone)
	ledgerSvc := ledger.NewService(st.ledger)
	membersSvc := members.NewService(st.members)
	biddingSvc := bidding.NewService(ledgerSvc, st.bids, st.jobs, membersSvc, st.locks, cfg.PointsRecentHistory)
	adminSvc := admin.NewService(st.admin, ledgerSvc, biddingSvc, admin.Settings{
		AdminIDs:     cfg.AdminIDs,
		PasswordHash: cfg.AdminPasswordHash,
		MaxAttempts:  cfg.AdminMaxAttempts,
		SessionTTL:   cfg.AdminSessionTTL,
	})
	if cfg.AdminPasswordHash == "" {
		log.Warn("ADMIN_PASSWORD_HASH не задан: админ-панель и админский API недоступны")
	}

	a := &App{
		DB:        pool,
		LockDB:    lockPool,
		Scheduler: jobs.NewScheduler(ledgerSvc, cfg.ReconcileCron, loc),
		Ledger:    ledgerSvc,
		Bidding:   biddingSvc,
		Admin:     adminSvc,
		Members:   membersSvc,
	}

	// === 3. HTTP API ===
	if cfg.HTTPEnabled {
		server := api.NewServer(biddingSvc, adminSvc, cfg.HTTPRequestTimeout)
		if cfg.MetricsEnabled {
			server.EnableMetrics()
		}
		a.HTTP = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           server.Handler(),
			ReadHeaderTimeout: cfg.HTTPRequestTimeout,
		}
	}

	// === 4. Telegram ===
	if cfg.BotEnabled {
		botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
		}
		botAPI.Debug = cfg.AppEnv == "development"
		log.Infof("Авторизован как @%s", botAPI.Self.UserName)

		a.Bot = bot.New(botAPI, cfg, membersSvc, bot.Handlers{
			Members: members.NewHandler(membersSvc, botAPI),
			Ledger:  ledger.NewHandler(ledgerSvc, botAPI, loc),
			Bidding: bidding.NewHandler(biddingSvc, botAPI, loc),
			Admin:   admin.NewHandler(adminSvc, membersSvc, botAPI),
		})
	}

	return a, nil
}

// Close освобождает ресурсы хранилища.
func (a *App) Close() {
	if a.LockDB != nil {
		a.LockDB.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func newMemoryStores(cfg *config.Config, seed []config.JobSeed) stores {
	dir := joboffers.NewMemoryDirectory()
	for _, j := range seed {
		dir.Add(joboffers.Job{ID: j.ID, Title: j.Title})
	}
	return stores{
		ledger:  ledger.NewMemoryStore(),
		members: members.NewMemoryStore(),
		jobs:    dir,
		bids:    bidding.NewMemoryPool(),
		admin:   admin.NewMemoryStore(),
		locks:   bidding.NewKeyedLocker(cfg.BidLockRetries, cfg.BidLockRetryDelay),
	}
}

func newPostgresStores(ctx context.Context, cfg *config.Config, seed []config.JobSeed) (stores, *pgxpool.Pool, *pgxpool.Pool, error) {
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return stores{}, nil, nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return stores{}, nil, nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	jobsRepo := joboffers.NewRepository(pool)
	for _, j := range seed {
		if err := jobsRepo.Upsert(ctx, joboffers.Job{ID: j.ID, Title: j.Title}); err != nil {
			pool.Close()
			return stores{}, nil, nil, err
		}
	}
	if len(seed) > 0 {
		log.WithField("count", len(seed)).Info("Вакансии из JOBS_SEED загружены")
	}

	lockPool, err := postgres.NewLockPool(ctx, cfg)
	if err != nil {
		pool.Close()
		return stores{}, nil, nil, fmt.Errorf("ошибка подключения пула блокировок: %w", err)
	}

	return stores{
		ledger:  ledger.NewRepository(pool),
		members: members.NewRepository(pool),
		jobs:    jobsRepo,
		bids:    bidding.NewRepository(pool),
		admin:   admin.NewRepository(pool),
		locks:   bidding.NewAdvisoryLocker(lockPool, cfg.BidLockRetries, cfg.BidLockRetryDelay),
	}, pool, lockPool, nil
}
