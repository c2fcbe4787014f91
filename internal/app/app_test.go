package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/bidpoints/internal/config"
	"serotonyl.ru/bidpoints/internal/features/ledger"
)

func memoryConfig() *config.Config {
	return &config.Config{
		StorageDriver:       config.StorageDriverMemory,
		AppTimezone:         "Europe/Moscow",
		HTTPEnabled:         true,
		HTTPAddr:            ":0",
		HTTPRequestTimeout:  5 * time.Second,
		MetricsEnabled:      true,
		AdminMaxAttempts:    3,
		AdminSessionTTL:     time.Hour,
		BidLockRetries:      10,
		BidLockRetryDelay:   time.Millisecond,
		PointsRecentHistory: 5,
		JobsSeed:            "j1:Backend, j2:Frontend",
	}
}

func TestNew_MemoryWiring(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Bot)
	require.NotNil(t, a.HTTP)

	_, err = a.Ledger.Credit(ctx, "u1", 50, ledger.KindEarned, ledger.SourceReview, "отзыв", "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/points/bid/j2", strings.NewReader(`{"points":20}`))
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	a.HTTP.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	bids, err := a.Bidding.GetJobBids(ctx, "j2")
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, 1, bids[0].Position)

	mismatches, err := a.Ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestNew_BadSeed(t *testing.T) {
	cfg := memoryConfig()
	cfg.JobsSeed = "no-colon"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
