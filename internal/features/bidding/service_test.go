package bidding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/bidpoints/internal/common"
	"serotonyl.ru/bidpoints/internal/features/joboffers"
	"serotonyl.ru/bidpoints/internal/features/ledger"
	"serotonyl.ru/bidpoints/internal/features/members"
)

type fixture struct {
	svc     *Service
	ledger  *ledger.Service
	pool    *MemoryPool
	jobs    *joboffers.MemoryDirectory
	members *members.Service
	locks   *KeyedLocker
}

// clock выдаёт строго возрастающее время, по секунде на вызов.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledgerSvc := ledger.NewService(ledger.NewMemoryStore())
	pool := NewMemoryPool()
	jobs := joboffers.NewMemoryDirectory(
		joboffers.Job{ID: "j1", Title: "Backend"},
		joboffers.Job{ID: "j2", Title: "Дизайнер"},
	)
	membersSvc := members.NewService(members.NewMemoryStore())
	locks := NewKeyedLocker(2000, time.Millisecond)

	svc := NewService(ledgerSvc, pool, jobs, membersSvc, locks, 10)
	c := &clock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	svc.now = c.Now

	return &fixture{svc: svc, ledger: ledgerSvc, pool: pool, jobs: jobs, members: membersSvc, locks: locks}
}

func (f *fixture) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := f.ledger.Credit(context.Background(), userID, amount, ledger.KindEarned, ledger.SourceReview, "review reward", "")
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	acc, err := f.ledger.GetOrCreateAccount(context.Background(), userID)
	require.NoError(t, err)
	return acc.TotalPoints
}

func (f *fixture) requireInvariant(t *testing.T, userID string) {
	t.Helper()
	entries, err := f.ledger.History(context.Background(), userID)
	require.NoError(t, err)
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	require.Equal(t, f.balance(t, userID), sum, "balance must equal history sum for %s", userID)
}

func (f *fixture) storedPositions(t *testing.T, jobID string) []int {
	t.Helper()
	active, err := f.pool.ActiveBids(context.Background(), jobID)
	require.NoError(t, err)
	out := make([]int, 0, len(active))
	for _, b := range active {
		out = append(out, b.Position)
	}
	sort.Ints(out)
	return out
}

func TestPlaceBid_RankingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "a", 100)
	f.fund(t, "b", 100)

	first, err := f.svc.PlaceBid(ctx, "a", "j1", 50)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Bid.Position)
	assert.Equal(t, int64(50), first.Balance)

	second, err := f.svc.PlaceBid(ctx, "b", "j1", 80)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Bid.Position)

	bids, err := f.svc.GetJobBids(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, "b", bids[0].UserID)
	assert.Equal(t, 1, bids[0].Position)
	assert.Equal(t, "a", bids[1].UserID)
	assert.Equal(t, 2, bids[1].Position)

	// позиции сохранены на обеих ставках, а не только на новой
	a, err := f.pool.Latest(ctx, "a", "j1")
	require.NoError(t, err)
	assert.Equal(t, 2, a.Position)
}

func TestPlaceBid_TieGoesToEarliest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, u := range []string{"a", "b", "c"} {
		f.fund(t, u, 100)
	}

	_, err := f.svc.PlaceBid(ctx, "a", "j1", 30)
	require.NoError(t, err)
	_, err = f.svc.PlaceBid(ctx, "b", "j1", 30)
	require.NoError(t, err)
	_, err = f.svc.PlaceBid(ctx, "c", "j1", 31)
	require.NoError(t, err)

	bids, err := f.svc.GetJobBids(ctx, "j1")
	require.NoError(t, err)
	got := []string{bids[0].UserID, bids[1].UserID, bids[2].UserID}
	assert.Equal(t, []string{"c", "a", "b"}, got)
}

func TestPlaceBid_BalanceGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "a", 30)

	_, err := f.svc.PlaceBid(ctx, "a", "j1", 31)
	require.ErrorIs(t, err, common.ErrInsufficientBalance)

	assert.Equal(t, int64(30), f.balance(t, "a"))
	entries, err := f.ledger.History(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	bids, err := f.svc.GetJobBids(ctx, "j1")
	require.NoError(t, err)
	assert.Empty(t, bids)
	_, err = f.pool.Latest(ctx, "a", "j1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPlaceBid_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "a", 100)

	_, err := f.svc.PlaceBid(ctx, "a", "j1", 0)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	_, err = f.svc.PlaceBid(ctx, "a", "missing", 10)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.svc.PlaceBid(ctx, "a", "j1", 10)
	require.NoError(t, err)
	_, err = f.svc.PlaceBid(ctx, "a", "j1", 10)
	assert.ErrorIs(t, err, common.ErrDuplicateBid)

	assert.Equal(t, int64(90), f.balance(t, "a"))
	f.requireInvariant(t, "a")
}

func TestScenario_CreditBidCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, int64(0), f.balance(t, "u"))
	f.fund(t, "u", 100)
	assert.Equal(t, int64(100), f.balance(t, "u"))

	res, err := f.svc.PlaceBid(ctx, "u", "j1", 40)
	require.NoError(t, err)
	assert.Equal(t, int64(60), res.Balance)
	assert.Equal(t, int64(60), f.balance(t, "u"))

	cancelled, err := f.svc.CancelBid(ctx, "u", "j1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), cancelled.Refunded)
	assert.Equal(t, int64(100), cancelled.Balance)
	assert.Equal(t, res.Bid.ID, cancelled.BidID)

	bid, err := f.pool.Latest(ctx, "u", "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, bid.Status)

	entries, err := f.ledger.History(ctx, "u")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.KindRefunded, entries[2].Kind)
	assert.Equal(t, int64(40), entries[2].Amount)
	assert.Equal(t, "j1", entries[2].JobID)
	f.requireInvariant(t, "u")
}

func TestCancelBid_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "u", 50)

	_, err := f.svc.CancelBid(ctx, "u", "j1")
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.svc.PlaceBid(ctx, "u", "j1", 20)
	require.NoError(t, err)

	_, err = f.svc.CancelBid(ctx, "u", "j1")
	require.NoError(t, err)
	_, err = f.svc.CancelBid(ctx, "u", "j1")
	require.ErrorIs(t, err, common.ErrInvalidState)

	assert.Equal(t, int64(50), f.balance(t, "u"))
	f.requireInvariant(t, "u")

	// после отмены можно поставить снова
	_, err = f.svc.PlaceBid(ctx, "u", "j1", 5)
	require.NoError(t, err)
}

func TestCancelBid_LazyCompaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, u := range []string{"a", "b", "c", "d"} {
		f.fund(t, u, 100)
	}
	_, err := f.svc.PlaceBid(ctx, "a", "j1", 30)
	require.NoError(t, err)
	_, err = f.svc.PlaceBid(ctx, "b", "j1", 20)
	require.NoError(t, err)
	_, err = f.svc.PlaceBid(ctx, "c", "j1", 10)
	require.NoError(t, err)

	_, err = f.svc.CancelBid(ctx, "b", "j1")
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, f.storedPositions(t, "j1"))

	bids, err := f.svc.GetJobBids(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, 1, bids[0].Position)
	assert.Equal(t, 2, bids[1].Position)
	assert.Equal(t, "c", bids[1].UserID)

	_, err = f.svc.PlaceBid(ctx, "d", "j1", 5)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, f.storedPositions(t, "j1"))
}

func TestPlaceBid_ConcurrentBiddersGetDenseRanks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 40
	for i := 0; i < n; i++ {
		f.fund(t, fmt.Sprintf("u%d", i), 1000)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.PlaceBid(ctx, fmt.Sprintf("u%d", i), "j1", int64(10+i%7))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	want := make([]int, n)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, f.storedPositions(t, "j1"))

	bids, err := f.svc.GetJobBids(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, bids, n)
	for i := 1; i < n; i++ {
		assert.False(t, Less(bids[i].Bid, bids[i-1].Bid), "bids must be ordered")
	}
	for i := 0; i < n; i++ {
		f.requireInvariant(t, fmt.Sprintf("u%d", i))
	}
}

func TestPlaceBid_ConcurrentSameUserNoDoubleSpend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "u", 100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	placed := 0
	for _, job := range []string{"j1", "j2", "j1", "j2", "j1", "j2"} {
		wg.Add(1)
		go func(job string) {
			defer wg.Done()
			if _, err := f.svc.PlaceBid(ctx, "u", job, 60); err == nil {
				mu.Lock()
				placed++
				mu.Unlock()
			}
		}(job)
	}
	wg.Wait()

	assert.Equal(t, 1, placed)
	assert.Equal(t, int64(40), f.balance(t, "u"))
	f.requireInvariant(t, "u")
}

func TestPlaceBid_BusyWhenJobLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "u", 100)

	f.svc.locks = NewKeyedLocker(2, time.Millisecond)
	unlock, err := f.svc.locks.Lock(ctx, jobKey("j1"))
	require.NoError(t, err)

	_, err = f.svc.PlaceBid(ctx, "u", "j1", 10)
	require.ErrorIs(t, err, common.ErrBusy)
	assert.Equal(t, int64(100), f.balance(t, "u"))

	unlock()
	_, err = f.svc.PlaceBid(ctx, "u", "j1", 10)
	require.NoError(t, err)
}

// failingPool ломает SetPositions, чтобы проверить откат после списания.
type failingPool struct {
	*MemoryPool
	failInsert bool
}

var errStorage = errors.New("storage unavailable")

func (p *failingPool) SetPositions(context.Context, string, map[string]int) error {
	return errStorage
}

func (p *failingPool) Insert(ctx context.Context, b Bid) error {
	if p.failInsert {
		return errStorage
	}
	return p.MemoryPool.Insert(ctx, b)
}

func TestPlaceBid_RollbackAfterDebit(t *testing.T) {
	for _, failInsert := range []bool{false, true} {
		t.Run(fmt.Sprintf("failInsert=%v", failInsert), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.fund(t, "u", 100)

			pool := &failingPool{MemoryPool: f.pool, failInsert: failInsert}
			f.svc.pool = pool

			_, err := f.svc.PlaceBid(ctx, "u", "j1", 40)
			require.ErrorIs(t, err, errStorage)
			assert.False(t, common.IsExpected(err))

			assert.Equal(t, int64(100), f.balance(t, "u"))
			f.requireInvariant(t, "u")

			active, err := f.pool.ActiveBids(ctx, "j1")
			require.NoError(t, err)
			assert.Empty(t, active)

			entries, err := f.ledger.History(ctx, "u")
			require.NoError(t, err)
			require.Len(t, entries, 3)
			assert.Equal(t, ledger.KindSpent, entries[1].Kind)
			assert.Equal(t, ledger.KindRefunded, entries[2].Kind)
		})
	}
}

func TestCloseJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, u := range []string{"a", "b", "c"} {
		f.fund(t, u, 100)
	}
	for _, u := range []string{"a", "b", "c"} {
		_, err := f.svc.PlaceBid(ctx, u, "j1", 10)
		require.NoError(t, err)
	}
	_, err := f.svc.CancelBid(ctx, "c", "j1")
	require.NoError(t, err)

	res, err := f.svc.CloseJob(ctx, "j1", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Won)
	assert.Equal(t, 1, res.Lost)

	a, _ := f.pool.Latest(ctx, "a", "j1")
	b, _ := f.pool.Latest(ctx, "b", "j1")
	c, _ := f.pool.Latest(ctx, "c", "j1")
	assert.Equal(t, StatusWon, a.Status)
	assert.Equal(t, StatusLost, b.Status)
	assert.Equal(t, StatusCancelled, c.Status)

	again, err := f.svc.CloseJob(ctx, "j1", "a")
	require.NoError(t, err)
	assert.Zero(t, again.Won)
	assert.Zero(t, again.Lost)

	_, err = f.svc.CancelBid(ctx, "b", "j1")
	assert.ErrorIs(t, err, common.ErrInvalidState)

	_, err = f.svc.PlaceBid(ctx, "b", "j1", 5)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.svc.CloseJob(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	// баллы проигравших не возвращаются
	assert.Equal(t, int64(90), f.balance(t, "b"))
}

func TestGetJobBids(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "42", 100)
	require.NoError(t, f.members.Touch(ctx, members.Profile{UserID: "42", FullName: "Анна"}))
	require.NoError(t, f.members.SetUniversity(ctx, "42", "МГУ"))

	_, err := f.svc.PlaceBid(ctx, "42", "j2", 15)
	require.NoError(t, err)

	bids, err := f.svc.GetJobBids(ctx, "j2")
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, "Анна", bids[0].Name)
	assert.Equal(t, "МГУ", bids[0].University)

	empty, err := f.svc.GetJobBids(ctx, "j1")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = f.svc.GetJobBids(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestAccountSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.svc.Account(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.TotalPoints)
	assert.Empty(t, snap.History)
	assert.Empty(t, snap.Bids)

	f.fund(t, "u", 100)
	_, err = f.svc.PlaceBid(ctx, "u", "j1", 10)
	require.NoError(t, err)
	_, err = f.svc.PlaceBid(ctx, "u", "j2", 20)
	require.NoError(t, err)

	snap, err = f.svc.Account(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(70), snap.TotalPoints)
	assert.Len(t, snap.History, 3)
	require.Len(t, snap.Bids, 2)
	assert.Equal(t, "j2", snap.Bids[0].JobID, "newest bid first")

	history, err := f.svc.PointsHistory(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestAccountSnapshot_PositionsAfterCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, u := range []string{"a", "b", "c"} {
		f.fund(t, u, 100)
	}
	_, err := f.svc.PlaceBid(ctx, "a", "j1", 50)
	require.NoError(t, err)
	_, err = f.svc.PlaceBid(ctx, "b", "j1", 30)
	require.NoError(t, err)
	_, err = f.svc.PlaceBid(ctx, "c", "j1", 10)
	require.NoError(t, err)

	snap, err := f.svc.Account(ctx, "c")
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, 3, snap.Bids[0].Position)

	// отмена лидера не пересчитывает сохранённые места
	_, err = f.svc.CancelBid(ctx, "a", "j1")
	require.NoError(t, err)

	snap, err = f.svc.Account(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Bids[0].Position)
	assert.Contains(t, FormatSnapshot(snap, time.UTC), "место 2")

	snap, err = f.svc.Account(ctx, "a")
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, StatusCancelled, snap.Bids[0].Status)
	assert.NotContains(t, FormatSnapshot(snap, time.UTC), "Активные ставки")
}
