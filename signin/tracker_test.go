package signin_test

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
	"github.com/wordcheck/points-engine/signin"
	"github.com/wordcheck/points-engine/store/memory"
	"github.com/wordcheck/points-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) NextDay(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, n)
}

// Wednesday 2025-03-12, 10:00 in UTC+8
var start = time.Date(2025, 3, 12, 10, 0, 0, 0, points.DefaultLocation)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTracker(t *testing.T, store points.Store) (*signin.Tracker, *points.Ledger, *testClock) {
	t.Helper()
	clock := &testClock{now: start}
	ledger := points.NewLedger(store,
		points.WithLogger(testLogger()),
		points.WithClock(clock.Now),
		points.WithRetry(3, time.Millisecond))
	tracker := signin.NewTracker(ledger, store, signin.WithLogger(testLogger()))
	return tracker, ledger, clock
}

func seedSignIn(t *testing.T, store points.Store, userID points.UserID, day points.Day, streak int) {
	t.Helper()
	err := store.WithTx(context.Background(), userID, func(tx points.Tx) error {
		_, err := tx.InsertSignIn(context.Background(), points.SignInEntry{
			UserID: userID, Date: day, ContinuousDays: streak, PointsAwarded: signin.Reward(streak), CreatedAt: start,
		})
		return err
	})
	require.NoError(t, err)
}

// =============================================================================
// REWARD LADDER
// =============================================================================

func TestReward_Ladder(t *testing.T) {
	tests := []struct {
		streak int
		want   int64
	}{
		{1, 5}, {6, 5},
		{7, 15}, {13, 15},
		{14, 20}, {20, 20},
		{21, 25}, {29, 25},
		{30, 35}, {365, 35},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, signin.Reward(tt.streak), "streak=%d", tt.streak)
	}
}

// =============================================================================
// SIGN IN
// =============================================================================

func TestSignIn_FirstEver(t *testing.T) {
	store := memory.NewMemory()
	tracker, ledger, _ := newTracker(t, store)
	ctx := context.Background()

	// WHEN: A brand-new user signs in
	res, err := tracker.SignIn(ctx, 1)

	// THEN: Streak 1, 5 points, one linked record
	require.NoError(t, err)
	assert.Equal(t, 1, res.Entry.ContinuousDays)
	assert.Equal(t, int64(5), res.Entry.PointsAwarded)
	assert.Equal(t, "2025-03-12", res.Entry.Date.String())
	assert.Equal(t, int64(5), res.Account.CurrentPoints)
	assert.Equal(t, 1, res.TotalSignDays)

	assert.Equal(t, points.CategorySignIn, res.Record.Category)
	assert.Equal(t, signin.BusinessType, res.Record.Ref.Type)
	assert.NotEmpty(t, res.Record.Ref.ID)
	assert.Equal(t, int64(5), res.Record.Delta)

	acct, err := ledger.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), acct.TotalEarned)
}

func TestSignIn_SecondTimeSameDay_Rejected(t *testing.T) {
	store := memory.NewMemory()
	tracker, ledger, _ := newTracker(t, store)
	ctx := context.Background()

	_, err := tracker.SignIn(ctx, 1)
	require.NoError(t, err)

	// WHEN: Signing in again the same day
	_, err = tracker.SignIn(ctx, 1)

	// THEN: AlreadySignedToday, no second credit
	require.ErrorIs(t, err, points.ErrAlreadySignedToday)
	var ase *points.AlreadySignedError
	require.True(t, errors.As(err, &ase))
	require.NotNil(t, ase.Existing)
	assert.Equal(t, 1, ase.Existing.ContinuousDays)

	acct, err := ledger.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), acct.CurrentPoints)
}

func TestSignIn_ContinuesStreakFromYesterday(t *testing.T) {
	store := memory.NewMemory()
	tracker, _, _ := newTracker(t, store)

	// GIVEN: Yesterday's sign-in closed a 6-day streak
	seedSignIn(t, store, 1, points.NewDay(2025, 3, 11), 6)

	// WHEN: Signing in today
	res, err := tracker.SignIn(context.Background(), 1)

	// THEN: Day 7 pays 5 + 10
	require.NoError(t, err)
	assert.Equal(t, 7, res.Entry.ContinuousDays)
	assert.Equal(t, int64(15), res.Entry.PointsAwarded)
	assert.Equal(t, "continuous 7 days", res.Record.Remark)
}

func TestSignIn_GapResetsStreak(t *testing.T) {
	store := memory.NewMemory()
	tracker, _, _ := newTracker(t, store)

	// GIVEN: The last sign-in was two days ago
	seedSignIn(t, store, 1, points.NewDay(2025, 3, 10), 29)

	res, err := tracker.SignIn(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Entry.ContinuousDays)
	assert.Equal(t, int64(5), res.Entry.PointsAwarded)
}

func TestSignIn_ThirtyDayRun(t *testing.T) {
	store := memory.NewMemory()
	tracker, ledger, clock := newTracker(t, store)
	ctx := context.Background()

	var total int64
	for day := 1; day <= 30; day++ {
		res, err := tracker.SignIn(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, day, res.Entry.ContinuousDays)
		total += res.Entry.PointsAwarded
		clock.NextDay(1)
	}

	// 6*5 + 7*15 + 7*20 + 9*25 + 1*35
	assert.Equal(t, int64(30+105+140+225+35), total)
	acct, err := ledger.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, total, acct.CurrentPoints)
	assert.Equal(t, 3, acct.Level) // 535 earned
}

func TestSignIn_UsesConfiguredLocation(t *testing.T) {
	store := memory.NewMemory()
	// 2025-03-12 23:30 UTC is 2025-03-13 in UTC+8
	late := time.Date(2025, 3, 12, 23, 30, 0, 0, time.UTC)
	ledger := points.NewLedger(store, points.WithLogger(testLogger()), points.WithClock(func() time.Time { return late }))

	shanghai := signin.NewTracker(ledger, store, signin.WithLogger(testLogger()))
	res, err := shanghai.SignIn(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-13", res.Entry.Date.String())

	utc := signin.NewTracker(ledger, store, signin.WithLogger(testLogger()), signin.WithLocation(time.UTC))
	res, err = utc.SignIn(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-12", res.Entry.Date.String())
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestSignIn_ConcurrentRequests_OneReward(t *testing.T) {
	stores := map[string]func(t *testing.T) points.Store{
		"memory": func(t *testing.T) points.Store { return memory.NewMemory() },
		"sqlite": func(t *testing.T) points.Store {
			s, err := sqlite.New(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			tracker, ledger, _ := newTracker(t, store)
			ctx := context.Background()

			const n = 16
			var (
				wg              sync.WaitGroup
				mu              sync.Mutex
				ok, alreadyDone int
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := tracker.SignIn(ctx, 1)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						ok++
					case errors.Is(err, points.ErrAlreadySignedToday):
						alreadyDone++
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, ok)
			assert.Equal(t, n-1, alreadyDone)

			acct, err := ledger.GetAccount(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, int64(5), acct.CurrentPoints)

			page, err := ledger.ListRecords(ctx, 1, points.RecordQuery{})
			require.NoError(t, err)
			assert.Equal(t, 1, page.Total)
		})
	}
}

// =============================================================================
// STATUS
// =============================================================================

func TestGetStatus_NewUser(t *testing.T) {
	tracker, _, _ := newTracker(t, memory.NewMemory())

	st, err := tracker.GetStatus(context.Background(), 1)

	require.NoError(t, err)
	assert.False(t, st.SignedToday)
	assert.Zero(t, st.ContinuousDays)
	assert.Zero(t, st.TotalSignDays)
	assert.Equal(t, int64(5), st.TodayReward)
	assert.Equal(t, [7]bool{}, st.Week)
	assert.Len(t, st.Month, 31)
}

func TestGetStatus_Calendars(t *testing.T) {
	store := memory.NewMemory()
	tracker, _, _ := newTracker(t, store)

	// GIVEN: Sign-ins on Mon Mar 10, Tue Mar 11 and Sun Mar 2 (previous week)
	seedSignIn(t, store, 1, points.NewDay(2025, 3, 2), 1)
	seedSignIn(t, store, 1, points.NewDay(2025, 3, 10), 1)
	seedSignIn(t, store, 1, points.NewDay(2025, 3, 11), 2)

	st, err := tracker.GetStatus(context.Background(), 1)
	require.NoError(t, err)

	// THEN: Week runs Monday..Sunday
	assert.Equal(t, [7]bool{true, true, false, false, false, false, false}, st.Week)
	// AND: Month marks days 2, 10, 11
	assert.True(t, st.Month[1])
	assert.True(t, st.Month[9])
	assert.True(t, st.Month[10])
	assert.False(t, st.Month[11])
	// AND: Yesterday's streak still counts, next sign-in previews day 3
	assert.False(t, st.SignedToday)
	assert.Equal(t, 2, st.ContinuousDays)
	assert.Equal(t, 3, st.TotalSignDays)
	assert.Equal(t, int64(5), st.TodayReward)
}

func TestGetStatus_StreakLapses(t *testing.T) {
	store := memory.NewMemory()
	tracker, _, _ := newTracker(t, store)

	// GIVEN: Last sign-in was the day before yesterday
	seedSignIn(t, store, 1, points.NewDay(2025, 3, 10), 12)

	st, err := tracker.GetStatus(context.Background(), 1)
	require.NoError(t, err)

	assert.Zero(t, st.ContinuousDays)
}

func TestGetStatus_AfterSigningToday(t *testing.T) {
	store := memory.NewMemory()
	tracker, _, _ := newTracker(t, store)
	ctx := context.Background()

	seedSignIn(t, store, 1, points.NewDay(2025, 3, 11), 13)
	_, err := tracker.SignIn(ctx, 1)
	require.NoError(t, err)

	st, err := tracker.GetStatus(ctx, 1)
	require.NoError(t, err)

	assert.True(t, st.SignedToday)
	assert.Equal(t, 14, st.ContinuousDays)
	assert.Equal(t, int64(20), st.TodayReward)
	assert.True(t, st.Week[2]) // Wednesday
}

func TestGetStatus_WeekSpanningMonths(t *testing.T) {
	store := memory.NewMemory()
	clock := &testClock{now: time.Date(2025, 4, 2, 9, 0, 0, 0, points.DefaultLocation)} // Wednesday
	ledger := points.NewLedger(store, points.WithLogger(testLogger()), points.WithClock(clock.Now))
	tracker := signin.NewTracker(ledger, store, signin.WithLogger(testLogger()))

	// GIVEN: A sign-in on Monday Mar 31
	seedSignIn(t, store, 1, points.NewDay(2025, 3, 31), 1)

	st, err := tracker.GetStatus(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, st.Week[0])
	assert.Len(t, st.Month, 30)
	for _, signed := range st.Month {
		assert.False(t, signed)
	}
}
