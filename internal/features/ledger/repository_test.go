package ledger

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/bidpoints/internal/common"
	"serotonyl.ru/bidpoints/internal/db/postgres"
)

// Интеграционные тесты запускаются только при заданном TEST_POSTGRES_DSN.
func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN не задан")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.RunMigrations(ctx, pool))
	return NewRepository(pool)
}

func TestRepository_ApplyAndHistory(t *testing.T) {
	repo := newTestRepository(t)
	svc := NewService(repo)
	ctx := context.Background()
	user := "it-" + uuid.NewString()

	_, err := svc.History(ctx, user)
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = svc.Credit(ctx, user, 100, KindEarned, SourceReview, "review reward", "")
	require.NoError(t, err)
	rec, err := svc.Debit(ctx, user, 40, SourceAuction, "bid", "")
	require.NoError(t, err)
	assert.Equal(t, int64(60), rec.Balance)

	_, err = svc.Debit(ctx, user, 61, SourceAuction, "bid", "")
	require.ErrorIs(t, err, common.ErrInsufficientBalance)

	entries, err := svc.History(ctx, user)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(60), sum(entries))

	recent, err := svc.RecentHistory(ctx, user, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, int64(-40), recent[0].Amount)

	mismatches, err := repo.Reconcile(ctx)
	require.NoError(t, err)
	for _, m := range mismatches {
		assert.NotEqual(t, user, m.UserID)
	}
}

func TestRepository_HistoryFollowsApplyOrder(t *testing.T) {
	repo := newTestRepository(t)
	svc := NewService(repo)
	ctx := context.Background()
	user := "it-" + uuid.NewString()

	_, err := svc.Credit(ctx, user, 3, KindEarned, SourceReview, "seed", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.Debit(ctx, user, 3, SourceAuction, "bid", "")
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.Credit(ctx, user, 3, KindRefunded, SourceAuction, "refund", "")
		}()
	}
	wg.Wait()

	entries, err := svc.History(ctx, user)
	require.NoError(t, err)
	var running int64
	for i, e := range entries {
		if i > 0 {
			assert.Greater(t, e.ID, entries[i-1].ID)
			assert.False(t, e.CreatedAt.Before(entries[i-1].CreatedAt))
		}
		running += e.Amount
		require.GreaterOrEqual(t, running, int64(0), "running balance at entry %d", e.ID)
	}
	acc, err := svc.GetOrCreateAccount(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, acc.TotalPoints, running)
}
