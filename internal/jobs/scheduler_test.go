package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/bidpoints/internal/features/ledger"
)

type stubReconciler struct {
	calls      atomic.Int32
	mismatches []ledger.Mismatch
	err        error
}

func (s *stubReconciler) Reconcile(context.Context) ([]ledger.Mismatch, error) {
	s.calls.Add(1)
	return s.mismatches, s.err
}

func TestRunReconcile(t *testing.T) {
	r := &stubReconciler{mismatches: []ledger.Mismatch{{UserID: "u1", TotalPoints: 10, HistorySum: 5}}}
	s := NewScheduler(r, "", time.UTC)
	assert.Equal(t, 1, s.RunReconcile(context.Background()))

	r.err = errors.New("db down")
	assert.Equal(t, 0, s.RunReconcile(context.Background()))
	assert.Equal(t, int32(2), r.calls.Load())
}

func TestStart_InvalidSpec(t *testing.T) {
	s := NewScheduler(&stubReconciler{}, "not a cron", time.UTC)
	assert.Error(t, s.Start(context.Background()))
}

func TestStart_RunsOnSchedule(t *testing.T) {
	r := &stubReconciler{}
	s := NewScheduler(r, "@every 1s", time.UTC)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return r.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestStart_Disabled(t *testing.T) {
	r := &stubReconciler{}
	s := NewScheduler(r, "", time.UTC)
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	assert.Zero(t, r.calls.Load())
}
