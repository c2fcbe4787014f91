package bidding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/bidpoints/internal/common"
)

func TestKeyedLocker(t *testing.T) {
	ctx := context.Background()
	l := NewKeyedLocker(3, time.Millisecond)

	unlock, err := l.Lock(ctx, "job:1")
	require.NoError(t, err)

	_, err = l.Lock(ctx, "job:1")
	assert.ErrorIs(t, err, common.ErrBusy)

	other, err := l.Lock(ctx, "job:2")
	require.NoError(t, err)
	other()

	unlock()
	unlock() // повторный unlock безопасен

	again, err := l.Lock(ctx, "job:1")
	require.NoError(t, err)
	again()

	l.mu.Lock()
	assert.Empty(t, l.locks, "released keys are dropped")
	l.mu.Unlock()
}

func TestKeyedLocker_WaitsForRelease(t *testing.T) {
	ctx := context.Background()
	l := NewKeyedLocker(1000, time.Millisecond)

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)
	go func() {
		time.Sleep(20 * time.Millisecond)
		unlock()
	}()

	second, err := l.Lock(ctx, "k")
	require.NoError(t, err)
	second()
}

func TestKeyedLocker_ContextCancel(t *testing.T) {
	l := NewKeyedLocker(1000, 10*time.Millisecond)
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
