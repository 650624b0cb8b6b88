package points_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wordcheck/points-engine/points"
	"github.com/wordcheck/points-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var fixedNow = time.Date(2025, 3, 10, 9, 0, 0, 0, points.DefaultLocation)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(t *testing.T) (*points.Ledger, *memory.Memory, *testClock) {
	t.Helper()
	store := memory.NewMemory()
	clock := &testClock{now: fixedNow}
	ledger := points.NewLedger(store,
		points.WithLogger(testLogger()),
		points.WithClock(clock.Now),
		points.WithRetry(3, time.Millisecond))
	return ledger, store, clock
}

func earn(reason string) points.Entry {
	return points.Entry{Reason: reason, Category: points.CategoryTask}
}

// =============================================================================
// ACCOUNT
// =============================================================================

func TestLedger_GetAccount_CreatesLazily(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()

	// GIVEN: A user that never touched the ledger
	_, err := store.LoadAccount(ctx, 1)
	require.ErrorIs(t, err, points.ErrAccountNotFound)

	// WHEN: The account is read
	acct, err := ledger.GetAccount(ctx, 1)

	// THEN: It exists at zero, level 1
	require.NoError(t, err)
	assert.Equal(t, points.UserID(1), acct.UserID)
	assert.Equal(t, int64(0), acct.CurrentPoints)
	assert.Equal(t, 1, acct.Level)

	// AND: Reading again returns the same stored account
	again, err := ledger.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, acct.CreatedAt, again.CreatedAt)
}

// =============================================================================
// CREDIT / DEBIT
// =============================================================================

func TestLedger_Credit_UpdatesCountersAndLevel(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	acct, rec, err := ledger.Credit(ctx, 1, 250, earn("task"))
	require.NoError(t, err)

	assert.Equal(t, int64(250), acct.CurrentPoints)
	assert.Equal(t, int64(250), acct.TotalEarned)
	assert.Equal(t, int64(0), acct.TotalSpent)
	assert.Equal(t, 2, acct.Level)
	assert.Equal(t, "Advanced", acct.LevelName)

	assert.Equal(t, int64(250), rec.Delta)
	assert.Equal(t, points.KindIncrease, rec.Kind)
	assert.Equal(t, int64(0), rec.BeforeBalance)
	assert.Equal(t, int64(250), rec.AfterBalance)
	assert.Equal(t, points.CategoryTask, rec.Category)
	assert.NotZero(t, rec.ID)
}

func TestLedger_Debit_LevelNeverDrops(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	// GIVEN: A user who earned 600 (Expert)
	_, _, err := ledger.Credit(ctx, 1, 600, earn("grant"))
	require.NoError(t, err)

	// WHEN: Spending most of it
	acct, rec, err := ledger.Debit(ctx, 1, 550, points.Entry{Reason: "check", Category: points.CategoryAIUsage})
	require.NoError(t, err)

	// THEN: Balance drops, level is derived from earnings only
	assert.Equal(t, int64(50), acct.CurrentPoints)
	assert.Equal(t, int64(550), acct.TotalSpent)
	assert.Equal(t, 3, acct.Level)
	assert.Equal(t, points.KindDecrease, rec.Kind)
	assert.Equal(t, int64(-550), rec.Delta)
	assert.True(t, acct.Consistent())
}

func TestLedger_RejectsNonPositiveAmounts(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()

	for _, amount := range []int64{0, -1} {
		_, _, err := ledger.Credit(ctx, 1, amount, earn("x"))
		assert.ErrorIs(t, err, points.ErrInvalidAmount)
		_, _, err = ledger.Debit(ctx, 1, amount, earn("x"))
		assert.ErrorIs(t, err, points.ErrInvalidAmount)
	}

	n, err := store.CountRecords(ctx, 1, points.FilterAll)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLedger_Debit_InsufficientBalance_ChangesNothing(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()

	// GIVEN: Balance 4
	_, _, err := ledger.Credit(ctx, 1, 4, earn("grant"))
	require.NoError(t, err)

	// WHEN: Debiting 5
	_, _, err = ledger.Debit(ctx, 1, 5, earn("too much"))

	// THEN: Rejected with details, nothing written
	require.ErrorIs(t, err, points.ErrInsufficientBalance)
	var ibe *points.InsufficientBalanceError
	require.True(t, errors.As(err, &ibe))
	assert.Equal(t, int64(4), ibe.Available)
	assert.Equal(t, int64(5), ibe.Requested)
	assert.Equal(t, int64(1), ibe.Shortfall)
	assert.True(t, points.IsClientError(err))

	acct, err := ledger.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), acct.CurrentPoints)
	n, err := store.CountRecords(ctx, 1, points.FilterAll)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLedger_Adjust_RoutesBySign(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	acct, rec, err := ledger.Adjust(ctx, 1, 30, points.Entry{Reason: "compensation"})
	require.NoError(t, err)
	assert.Equal(t, int64(30), acct.CurrentPoints)
	assert.Equal(t, points.CategoryAdminAdjust, rec.Category)

	acct, rec, err = ledger.Adjust(ctx, 1, -10, points.Entry{Reason: "correction"})
	require.NoError(t, err)
	assert.Equal(t, int64(20), acct.CurrentPoints)
	assert.Equal(t, int64(-10), rec.Delta)

	_, _, err = ledger.Adjust(ctx, 1, 0, points.Entry{})
	assert.ErrorIs(t, err, points.ErrInvalidAmount)

	_, _, err = ledger.Adjust(ctx, 1, -21, points.Entry{})
	assert.ErrorIs(t, err, points.ErrInsufficientBalance)
}

// =============================================================================
// RECORD CHAIN
// =============================================================================

func TestLedger_RecordsChainBalances(t *testing.T) {
	ledger, _, clock := newTestLedger(t)
	ctx := context.Background()

	deltas := []int64{10, -3, 25, -32, 7}
	for _, d := range deltas {
		clock.Advance(time.Minute)
		_, _, err := ledger.Adjust(ctx, 1, d, earn("step"))
		require.NoError(t, err)
	}

	page, err := ledger.ListRecords(ctx, 1, points.RecordQuery{PageSize: 100})
	require.NoError(t, err)
	require.Len(t, page.Records, len(deltas))

	// Newest first: walk backwards to check the chain in write order
	var prevAfter int64
	for i := len(page.Records) - 1; i >= 0; i-- {
		r := page.Records[i]
		assert.Equal(t, prevAfter, r.BeforeBalance)
		assert.Equal(t, r.Delta, r.AfterBalance-r.BeforeBalance)
		prevAfter = r.AfterBalance
	}

	acct, err := ledger.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, prevAfter, acct.CurrentPoints)
	assert.True(t, acct.Consistent())
}

// =============================================================================
// LISTING
// =============================================================================

func TestLedger_ListRecords_Pagination(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	// GIVEN: 25 records
	for i := 1; i <= 25; i++ {
		_, _, err := ledger.Credit(ctx, 1, int64(i), earn("step"))
		require.NoError(t, err)
	}

	// WHEN/THEN: Pages of 10 hold 10, 10, 5
	sizes := []int{10, 10, 5}
	for p, want := range sizes {
		page, err := ledger.ListRecords(ctx, 1, points.RecordQuery{Page: p + 1, PageSize: 10})
		require.NoError(t, err)
		assert.Len(t, page.Records, want)
		assert.Equal(t, 25, page.Total)
		assert.Equal(t, 3, page.TotalPages)
	}

	// AND: Newest first
	first, err := ledger.ListRecords(ctx, 1, points.RecordQuery{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(25), first.Records[0].Delta)

	// AND: Past the end is empty, not an error
	beyond, err := ledger.ListRecords(ctx, 1, points.RecordQuery{Page: 4, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond.Records)
	assert.NotNil(t, beyond.Records)
}

func TestLedger_ListRecords_Filters(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	for _, d := range []int64{50, -5, 20, -10, -1} {
		_, _, err := ledger.Adjust(ctx, 1, d, earn("step"))
		require.NoError(t, err)
	}

	earnPage, err := ledger.ListRecords(ctx, 1, points.RecordQuery{Filter: points.FilterEarn})
	require.NoError(t, err)
	assert.Equal(t, 2, earnPage.Total)
	for _, r := range earnPage.Records {
		assert.Positive(t, r.Delta)
	}

	spendPage, err := ledger.ListRecords(ctx, 1, points.RecordQuery{Filter: points.FilterSpend})
	require.NoError(t, err)
	assert.Equal(t, 3, spendPage.Total)
	for _, r := range spendPage.Records {
		assert.Negative(t, r.Delta)
	}

	all, err := ledger.ListRecords(ctx, 1, points.RecordQuery{})
	require.NoError(t, err)
	assert.Equal(t, 5, all.Total)
	assert.Equal(t, 10, all.PageSize)
}

func TestLedger_ListRecords_PageSizeCapped(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	page, err := ledger.ListRecords(context.Background(), 1, points.RecordQuery{PageSize: 10_000})
	require.NoError(t, err)
	assert.Equal(t, 100, page.PageSize)
	assert.Equal(t, 0, page.TotalPages)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestLedger_ConcurrentDebits_NeverOverdraw(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	// GIVEN: Balance M-1
	const m = 50
	_, _, err := ledger.Credit(ctx, 1, m-1, earn("grant"))
	require.NoError(t, err)

	// WHEN: M concurrent debits of 1
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		ok, rejected int
	)
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := ledger.Debit(ctx, 1, 1, points.Entry{Reason: "spend"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, points.ErrInsufficientBalance) {
				rejected++
			}
		}()
	}
	wg.Wait()

	// THEN: Exactly M-1 succeed and the balance lands on zero
	assert.Equal(t, m-1, ok)
	assert.Equal(t, 1, rejected)

	acct, err := ledger.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.CurrentPoints)
	assert.True(t, acct.Consistent())
}

func TestLedger_ConcurrentCredits_AllApplied(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for u := 1; u <= 4; u++ {
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func(user points.UserID) {
				defer wg.Done()
				_, _, err := ledger.Credit(ctx, user, 2, earn("task"))
				assert.NoError(t, err)
			}(points.UserID(u))
		}
	}
	wg.Wait()

	for u := 1; u <= 4; u++ {
		acct, err := ledger.GetAccount(ctx, points.UserID(u))
		require.NoError(t, err)
		assert.Equal(t, int64(50), acct.CurrentPoints)
		assert.Equal(t, int64(50), acct.TotalEarned)
	}
}

// =============================================================================
// RETRIES
// =============================================================================

func TestLedger_RetriesStorageConflicts(t *testing.T) {
	ledger, store, _ := newTestLedger(t)

	// GIVEN: The next two transactions lose a race
	store.InjectConflicts(2)

	// WHEN/THEN: The credit still lands, once
	acct, _, err := ledger.Credit(context.Background(), 1, 10, earn("x"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), acct.CurrentPoints)
}

func TestLedger_ExhaustedRetries_AreSystemErrors(t *testing.T) {
	ledger, store, _ := newTestLedger(t)

	// GIVEN: More conflicts than the retry budget (1 try + 3 retries)
	store.InjectConflicts(10)

	_, _, err := ledger.Credit(context.Background(), 1, 10, earn("x"))

	require.Error(t, err)
	assert.ErrorIs(t, err, points.ErrSystem)
	assert.ErrorIs(t, err, points.ErrConcurrentModification)
	var se *points.SystemError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "credit", se.Op)
	assert.False(t, points.IsClientError(err))
}

func TestLedger_Atomically_RollsBackOnError(t *testing.T) {
	ledger, store, _ := newTestLedger(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := ledger.Atomically(ctx, "test", 1, func(tx points.Tx) error {
		if _, _, err := ledger.CreditTx(ctx, tx, 1, 100, earn("x")); err != nil {
			return err
		}
		return boom
	})

	require.ErrorIs(t, err, boom)
	_, err = store.LoadAccount(ctx, 1)
	assert.ErrorIs(t, err, points.ErrAccountNotFound)
	n, err := store.CountRecords(ctx, 1, points.FilterAll)
	require.NoError(t, err)
	assert.Zero(t, n)
}
