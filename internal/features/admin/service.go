package admin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"serotonyl.ru/bidpoints/internal/common"
	"serotonyl.ru/bidpoints/internal/features/bidding"
	"serotonyl.ru/bidpoints/internal/features/ledger"
)

const (
	stateTTL       = 5 * time.Minute
	attemptsWindow = 1 * time.Hour
)

// JobCloser: точка закрытия вакансии. *bidding.Service подходит.
type JobCloser interface {
	CloseJob(ctx context.Context, jobID string, winners ...string) (*bidding.CloseResult, error)
}

// Settings: часть конфигурации, нужная админке.
type Settings struct {
	AdminIDs     []string
	PasswordHash string
	MaxAttempts  int
	SessionTTL   time.Duration
}

// Service управляет админ-панелью.
type Service struct {
	store    Store
	ledger   *ledger.Service
	jobs     JobCloser
	settings Settings

	states   map[string]*State // состояния диалогов (in-memory)
	statesMu sync.RWMutex

	now func() time.Time
}

func NewService(store Store, ledgerSvc *ledger.Service, jobs JobCloser, settings Settings) *Service {
	return &Service{
		store:    store,
		ledger:   ledgerSvc,
		jobs:     jobs,
		settings: settings,
		states:   make(map[string]*State),
		now:      time.Now,
	}
}

// IsAdmin проверяет, входит ли пользователь в ADMIN_IDS.
func (s *Service) IsAdmin(userID string) bool {
	for _, id := range s.settings.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Login проверяет пароль и открывает сессию.
// После MaxAttempts неудачных попыток за час вход блокируется.
func (s *Service) Login(ctx context.Context, userID, password string) error {
	if !s.IsAdmin(userID) {
		return common.ErrNotAdmin
	}
	if err := s.verify(ctx, userID, password); err != nil {
		return err
	}

	session := &Session{
		UserID:       userID,
		SessionToken: generateSecureToken(),
		ExpiresAt:    s.now().Add(s.settings.SessionTTL),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return err
	}
	log.WithField("user_id", userID).Info("Администратор вошёл в панель")
	return nil
}

// Authorize проверяет пароль админского API для клиента (например "http:<ip>").
// Лимит неудачных попыток тот же, что у Login.
func (s *Service) Authorize(ctx context.Context, client, password string) error {
	return s.verify(ctx, client, password)
}

// verify сверяет пароль с учётом журнала попыток по ключу key.
func (s *Service) verify(ctx context.Context, key, password string) error {
	failed, err := s.store.FailedAttemptsSince(ctx, key, s.now().Add(-attemptsWindow))
	if err != nil {
		return err
	}
	if failed >= s.settings.MaxAttempts {
		log.WithField("key", key).Warn("Вход заблокирован после неудачных попыток")
		return common.ErrTooManyAttempts
	}

	match := s.CheckPassword(password)
	if err := s.store.LogAttempt(ctx, key, match); err != nil {
		log.WithError(err).WithField("key", key).Warn("Не удалось записать попытку входа")
	}
	if !match {
		log.WithField("key", key).Warn("Неверный пароль администратора")
		return common.ErrWrongPassword
	}
	return nil
}

// CheckPassword сверяет пароль с ADMIN_PASSWORD_HASH. Пустой хеш не пускает никого.
func (s *Service) CheckPassword(password string) bool {
	if s.settings.PasswordHash == "" || password == "" {
		return false
	}
	return verifyArgon2id(password, s.settings.PasswordHash)
}

// HasActiveSession проверяет, есть ли у пользователя действующая сессия.
func (s *Service) HasActiveSession(ctx context.Context, userID string) bool {
	session, err := s.store.ActiveSession(ctx, userID, s.now())
	if err != nil || session == nil {
		return false
	}
	if err := s.store.TouchSession(ctx, userID); err != nil {
		log.WithError(err).Debug("Не удалось обновить активность сессии")
	}
	return true
}

// Logout завершает все сессии пользователя.
func (s *Service) Logout(ctx context.Context, userID string) error {
	s.ClearState(userID)
	return s.store.DeactivateSessions(ctx, userID)
}

// Award начисляет баллы пользователю. Пустой source означает отзыв (review).
// Источник auction зарезервирован за движком ставок.
func (s *Service) Award(ctx context.Context, adminID, userID string, points int64, source ledger.Source, reason string) (*ledger.Receipt, error) {
	if source == "" {
		source = ledger.SourceReview
	}
	if source != ledger.SourceReview && source != ledger.SourceJobApplication {
		return nil, fmt.Errorf("%w: источник начисления %q", common.ErrInvalidKind, source)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Начисление от администратора"
	}
	rec, err := s.ledger.Credit(ctx, userID, points, ledger.KindEarned, source, reason, "")
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"admin_id": adminID,
		"user_id":  userID,
		"points":   points,
		"source":   source,
		"balance":  rec.Balance,
	}).Info("Администратор начислил баллы")
	return rec, nil
}

// CloseJob закрывает вакансию через движок ставок.
func (s *Service) CloseJob(ctx context.Context, adminID, jobID string, winners []string) (*bidding.CloseResult, error) {
	res, err := s.jobs.CloseJob(ctx, jobID, winners...)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"admin_id": adminID, "job_id": jobID}).Info("Администратор закрыл вакансию")
	return res, nil
}

// GetState возвращает текущее состояние диалога или nil, если его нет или оно протухло.
func (s *Service) GetState(userID string) *State {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()

	state, ok := s.states[userID]
	if !ok || s.now().After(state.ExpiresAt) {
		return nil
	}
	out := *state
	return &out
}

// SetState устанавливает состояние диалога с таймаутом stateTTL.
func (s *Service) SetState(userID string, state State) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	state.ExpiresAt = s.now().Add(stateTTL)
	s.states[userID] = &state
}

// ClearState сбрасывает состояние диалога.
func (s *Service) ClearState(userID string) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	delete(s.states, userID)
}

// --- Криптографические утилиты ---

// HashParams: параметры Argon2id.
type HashParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
}

// DefaultHashParams: параметры для продакшена (64 MB, 3 прохода).
var DefaultHashParams = HashParams{Memory: 64 * 1024, Iterations: 3, Parallelism: 2, KeyLength: 32}

// HashPassword кодирует пароль в формат $argon2id$v=19$m=...,t=...,p=...$<salt>$<hash>.
func HashPassword(password string, p HashParams) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("ошибка генерации соли: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// verifyArgon2id проверяет пароль по хешу Argon2id.
func verifyArgon2id(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		log.Error("Некорректный формат хеша Argon2id")
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		log.WithError(err).Error("Ошибка парсинга параметров Argon2id")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования соли")
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования хеша")
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// generateSecureToken генерирует токен сессии.
func generateSecureToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	return base64.URLEncoding.EncodeToString(b)
}
