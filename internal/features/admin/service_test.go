package admin

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/bidpoints/internal/common"
	"serotonyl.ru/bidpoints/internal/features/bidding"
	"serotonyl.ru/bidpoints/internal/features/joboffers"
	"serotonyl.ru/bidpoints/internal/features/ledger"
	"serotonyl.ru/bidpoints/internal/features/members"
)

var cheapParams = HashParams{Memory: 1024, Iterations: 1, Parallelism: 1, KeyLength: 32}

type fixture struct {
	svc     *Service
	ledger  *ledger.Service
	engine  *bidding.Service
	members *members.Service
	store   *MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hash, err := HashPassword("s3cret", cheapParams)
	require.NoError(t, err)

	ledgerSvc := ledger.NewService(ledger.NewMemoryStore())
	membersSvc := members.NewService(members.NewMemoryStore())
	engine := bidding.NewService(
		ledgerSvc,
		bidding.NewMemoryPool(),
		joboffers.NewMemoryDirectory(joboffers.Job{ID: "j1", Title: "Backend"}),
		membersSvc,
		bidding.NewKeyedLocker(100, time.Millisecond),
		10,
	)
	store := NewMemoryStore()
	svc := NewService(store, ledgerSvc, engine, Settings{
		AdminIDs:     []string{"1"},
		PasswordHash: hash,
		MaxAttempts:  3,
		SessionTTL:   time.Hour,
	})
	return &fixture{svc: svc, ledger: ledgerSvc, engine: engine, members: membersSvc, store: store}
}

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("pa$$", cheapParams)
	require.NoError(t, err)
	assert.True(t, verifyArgon2id("pa$$", hash))
	assert.False(t, verifyArgon2id("pass", hash))
	assert.False(t, verifyArgon2id("pa$$", "garbage"))
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.Login(ctx, "2", "s3cret"), common.ErrNotAdmin)
	assert.False(t, f.svc.HasActiveSession(ctx, "1"))

	require.NoError(t, f.svc.Login(ctx, "1", "s3cret"))
	assert.True(t, f.svc.HasActiveSession(ctx, "1"))

	require.NoError(t, f.svc.Logout(ctx, "1"))
	assert.False(t, f.svc.HasActiveSession(ctx, "1"))
}

func TestLogin_SessionExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Login(ctx, "1", "s3cret"))

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.False(t, f.svc.HasActiveSession(ctx, "1"))
}

func TestLogin_TooManyAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, f.svc.Login(ctx, "1", "wrong"), common.ErrWrongPassword)
	}
	assert.ErrorIs(t, f.svc.Login(ctx, "1", "s3cret"), common.ErrTooManyAttempts)

	// через час окно сбрасывается
	f.svc.now = func() time.Time { return time.Now().Add(61 * time.Minute) }
	assert.NoError(t, f.svc.Login(ctx, "1", "s3cret"))
}

func TestAuthorize_LockoutPerClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Authorize(ctx, "http:10.0.0.1", "s3cret"))
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, f.svc.Authorize(ctx, "http:10.0.0.1", "wrong"), common.ErrWrongPassword)
	}
	assert.ErrorIs(t, f.svc.Authorize(ctx, "http:10.0.0.1", "s3cret"), common.ErrTooManyAttempts)
	assert.NoError(t, f.svc.Authorize(ctx, "http:10.0.0.2", "s3cret"))

	// Telegram-админ считается отдельно
	assert.NoError(t, f.svc.Login(ctx, "1", "s3cret"))
}

func TestCheckPassword_EmptyHash(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, nil, Settings{})
	assert.False(t, svc.CheckPassword(""))
	assert.False(t, svc.CheckPassword("anything"))
}

func TestAwardAndClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Award(ctx, "1", "u", 100, "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(100), rec.Balance)
	assert.Equal(t, ledger.KindEarned, rec.Entry.Kind)
	assert.Equal(t, ledger.SourceReview, rec.Entry.Source)

	_, err = f.svc.Award(ctx, "1", "u", 0, "", "")
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	rec, err = f.svc.Award(ctx, "1", "u", 20, ledger.SourceJobApplication, "отклик")
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceJobApplication, rec.Entry.Source)
	assert.Equal(t, int64(120), rec.Balance)

	_, err = f.svc.Award(ctx, "1", "u", 20, ledger.SourceAuction, "")
	assert.ErrorIs(t, err, common.ErrInvalidKind)
	_, err = f.svc.Award(ctx, "1", "u", 20, "bonus", "")
	assert.ErrorIs(t, err, common.ErrInvalidKind)

	_, err = f.engine.PlaceBid(ctx, "u", "j1", 30)
	require.NoError(t, err)

	res, err := f.svc.CloseJob(ctx, "1", "j1", []string{"u"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Won)
}

func TestParseAwardSource(t *testing.T) {
	src, reason := parseAwardSource("Job_Application отклик")
	assert.Equal(t, ledger.SourceJobApplication, src)
	assert.Equal(t, "отклик", reason)

	src, reason = parseAwardSource("за отзыв")
	assert.Equal(t, ledger.Source(""), src)
	assert.Equal(t, "за отзыв", reason)

	src, reason = parseAwardSource("")
	assert.Equal(t, ledger.Source(""), src)
	assert.Empty(t, reason)
}

func TestStateExpires(t *testing.T) {
	f := newFixture(t)
	f.svc.SetState("1", State{Name: StateAwardUser})
	require.NotNil(t, f.svc.GetState("1"))

	f.svc.now = func() time.Time { return time.Now().Add(stateTTL + time.Second) }
	assert.Nil(t, f.svc.GetState("1"))
}

type fakeSender struct {
	mu    sync.Mutex
	texts []string
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.texts = append(s.texts, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

func (s *fakeSender) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.texts) == 0 {
		return ""
	}
	return s.texts[len(s.texts)-1]
}

func TestHandler_Flow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := &fakeSender{}
	h := NewHandler(f.svc, f.members, sender)
	require.NoError(t, f.members.Touch(ctx, members.Profile{UserID: "55", Username: "anna", FullName: "Анна"}))

	assert.False(t, h.HandleAdminMessage(ctx, 1, "2", "/admin"), "non-admins fall through")
	assert.False(t, h.HandleAdminMessage(ctx, 1, "1", "/points"), "regular commands fall through")

	require.True(t, h.HandleAdminMessage(ctx, 1, "1", "/admin"))
	assert.Contains(t, sender.last(), "Введите пароль")

	require.True(t, h.HandleAdminMessage(ctx, 1, "1", "wrong"))
	assert.Contains(t, sender.last(), "неверный пароль")

	require.True(t, h.HandleAdminMessage(ctx, 1, "1", "/admin"))
	require.True(t, h.HandleAdminMessage(ctx, 1, "1", "s3cret"))
	assert.Contains(t, sender.last(), "Админ-панель открыта")

	// пошаговое начисление
	require.True(t, h.HandleAdminMessage(ctx, 1, "1", ButtonAward))
	require.True(t, h.HandleAdminMessage(ctx, 1, "1", "@ghost"))
	assert.Contains(t, sender.last(), "не найден")
	require.True(t, h.HandleAdminMessage(ctx, 1, "1", "@anna"))
	require.True(t, h.HandleAdminMessage(ctx, 1, "1", "100 за отзыв"))
	assert.Contains(t, sender.last(), "начислено 100 баллов")

	entries, err := f.ledger.History(ctx, "55")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "за отзыв", entries[0].Description)

	// короткая команда
	require.True(t, h.HandleAdminMessage(ctx, 1, "1", "/award 55 5"))
	assert.Contains(t, sender.last(), "Баланс: 105 баллов")

	require.True(t, h.HandleAdminMessage(ctx, 1, "1", "/award 55 7 job_application отклик на вакансию"))
	assert.Contains(t, sender.last(), "Баланс: 112 баллов")
	require.True(t, h.HandleAdminMessage(ctx, 1, "1", "/award 55 3 auction"))
	assert.Contains(t, sender.last(), "Источник начисления")

	entries, err = f.ledger.History(ctx, "55")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.SourceJobApplication, entries[2].Source)
	assert.Equal(t, "отклик на вакансию", entries[2].Description)

	_, err = f.engine.PlaceBid(ctx, "55", "j1", 10)
	require.NoError(t, err)

	require.True(t, h.HandleAdminMessage(ctx, 1, "1", ButtonCloseJob))
	require.True(t, h.HandleAdminMessage(ctx, 1, "1", "j1"))
	require.True(t, h.HandleAdminMessage(ctx, 1, "1", "@anna"))
	assert.Contains(t, sender.last(), "Выиграли: 1")

	require.True(t, h.HandleAdminMessage(ctx, 1, "1", "/close nope"))
	assert.Contains(t, sender.last(), "Вакансия не найдена")

	require.True(t, h.HandleAdminMessage(ctx, 1, "1", ButtonLogout))
	assert.Contains(t, sender.last(), "Сессия завершена")
	assert.False(t, f.svc.HasActiveSession(ctx, "1"))
}
