package points_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wordcheck/points-engine/points"
)

func TestLedger_Statistics_DailySeries(t *testing.T) {
	ledger, _, clock := newTestLedger(t)
	ctx := context.Background()

	// GIVEN: Activity on Mar 8 and Mar 10 (today)
	clock.now = time.Date(2025, 3, 8, 23, 30, 0, 0, points.DefaultLocation)
	_, _, err := ledger.Credit(ctx, 1, 40, earn("a"))
	require.NoError(t, err)

	clock.now = fixedNow
	_, _, err = ledger.Credit(ctx, 1, 15, earn("b"))
	require.NoError(t, err)
	_, _, err = ledger.Debit(ctx, 1, 6, earn("c"))
	require.NoError(t, err)

	// WHEN: Asking for Mar 7..Mar 10
	stats, err := ledger.Statistics(ctx, 1, points.NewDay(2025, 3, 7), points.NewDay(2025, 3, 10))
	require.NoError(t, err)

	// THEN: Four zero-filled days
	require.Len(t, stats.Daily, 4)
	assert.Equal(t, "2025-03-07", stats.Daily[0].Date.String())
	assert.Zero(t, stats.Daily[0].Net)
	assert.Equal(t, int64(40), stats.Daily[1].Earned)
	assert.Zero(t, stats.Daily[2].Net)
	assert.Equal(t, int64(15), stats.Daily[3].Earned)
	assert.Equal(t, int64(6), stats.Daily[3].Spent)
	assert.Equal(t, int64(9), stats.Daily[3].Net)

	// AND: Today split and totals
	assert.Equal(t, int64(15), stats.TodayEarned)
	assert.Equal(t, int64(6), stats.TodaySpent)
	assert.Equal(t, int64(49), stats.Account.CurrentPoints)
	assert.Equal(t, int64(55), stats.Account.TotalEarned)
}

func TestLedger_Statistics_TodayOutsideRange(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, _, err := ledger.Credit(ctx, 1, 12, earn("today"))
	require.NoError(t, err)

	stats, err := ledger.Statistics(ctx, 1, points.NewDay(2025, 2, 1), points.NewDay(2025, 2, 28))
	require.NoError(t, err)

	assert.Len(t, stats.Daily, 28)
	assert.Equal(t, int64(12), stats.TodayEarned)
	for _, d := range stats.Daily {
		assert.Zero(t, d.Net)
	}
}

func TestLedger_Statistics_InvalidRange(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Statistics(ctx, 1, points.NewDay(2025, 3, 10), points.NewDay(2025, 3, 9))
	assert.ErrorIs(t, err, points.ErrInvalidRange)

	_, err = ledger.Statistics(ctx, 1, points.NewDay(2024, 1, 1), points.NewDay(2025, 3, 9))
	assert.ErrorIs(t, err, points.ErrInvalidRange)
}
