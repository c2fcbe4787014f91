// Package config загружает конфигурацию сервиса из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Драйверы хранилища
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Storage ---
	// memory: для локальной разработки и тестов, данные живут до рестарта.
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"postgres"`

	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"bidpoints"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"bidpoints"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// Отдельный пул под advisory-блокировки ставок: каждая ставка держит два соединения.
	DBLockMaxConns int32 `envconfig:"DB_LOCK_MAX_CONNS" default:"10"`

	// --- Application ---
	AppEnv       string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel  string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppLogFormat string `envconfig:"APP_LOG_FORMAT" default:"text"`
	AppTimezone  string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- HTTP API ---
	HTTPEnabled        bool          `envconfig:"HTTP_ENABLED" default:"true"`
	HTTPAddr           string        `envconfig:"HTTP_ADDR" default:":8080"`
	HTTPRequestTimeout time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"30s"`
	MetricsEnabled     bool          `envconfig:"METRICS_ENABLED" default:"true"`

	// --- Telegram ---
	BotEnabled       bool   `envconfig:"BOT_ENABLED" default:"false"`
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	// Сколько апдейтов обрабатываем параллельно. Иначе "go на каждый апдейт" = утечка памяти при флуде.
	BotMaxInflight int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	// Таймаут long polling (секунды)
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Admin ---
	AdminIDsRaw       string        `envconfig:"ADMIN_IDS"`
	AdminIDs          []string      `envconfig:"-"` // заполним вручную
	AdminPasswordHash string        `envconfig:"ADMIN_PASSWORD_HASH"`
	AdminMaxAttempts  int           `envconfig:"ADMIN_MAX_ATTEMPTS" default:"3"`
	AdminSessionTTL   time.Duration `envconfig:"ADMIN_SESSION_TTL" default:"24h"`

	// --- Bidding ---
	// Сколько раз пытаемся взять блокировку вакансии, прежде чем вернуть Busy.
	BidLockRetries    int           `envconfig:"BID_LOCK_RETRIES" default:"20"`
	BidLockRetryDelay time.Duration `envconfig:"BID_LOCK_RETRY_DELAY" default:"25ms"`
	// Сколько последних записей истории показывать в снимке счёта
	PointsRecentHistory int `envconfig:"POINTS_RECENT_HISTORY" default:"10"`

	// --- Scheduler ---
	ReconcileCron string `envconfig:"RECONCILE_CRON" default:"*/15 * * * *"`

	// --- Memory seed ---
	// Формат: id:Название,id:Название. В postgres вакансии досоздаются при старте.
	JobsSeed string `envconfig:"JOBS_SEED"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD обязателен для STORAGE_DRIVER=postgres")
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
		}
		if c.DBLockMaxConns < 2 {
			return fmt.Errorf("DB_LOCK_MAX_CONNS должен быть >= 2")
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("неизвестный STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.BotEnabled {
		if c.TelegramBotToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN обязателен при BOT_ENABLED=true")
		}
		if c.BotMaxInflight <= 0 {
			return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
		}
		if c.BotUpdateTimeoutSeconds <= 0 {
			return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
		}
	}
	if !c.HTTPEnabled && !c.BotEnabled {
		return fmt.Errorf("выключены и HTTP_ENABLED, и BOT_ENABLED: сервису некуда принимать запросы")
	}
	if c.BidLockRetries <= 0 {
		return fmt.Errorf("BID_LOCK_RETRIES должен быть > 0")
	}
	if c.BidLockRetryDelay <= 0 {
		return fmt.Errorf("BID_LOCK_RETRY_DELAY должен быть > 0")
	}
	if c.PointsRecentHistory <= 0 {
		return fmt.Errorf("POINTS_RECENT_HISTORY должен быть > 0")
	}
	if c.AdminMaxAttempts <= 0 {
		return fmt.Errorf("ADMIN_MAX_ATTEMPTS должен быть > 0")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	cfg.AdminIDs = parseCSV(cfg.AdminIDsRaw)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// JobSeed: вакансия для in-memory справочника.
type JobSeed struct {
	ID    string
	Title string
}

// ParseJobsSeed разбирает JOBS_SEED вида "id:Название,id:Название".
func ParseJobsSeed(s string) ([]JobSeed, error) {
	var out []JobSeed
	for _, part := range parseCSV(s) {
		id, title, ok := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("JOBS_SEED: bad entry %q", part)
		}
		out = append(out, JobSeed{ID: id, Title: strings.TrimSpace(title)})
	}
	return out, nil
}

func parseCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
