package points

import (
	"context"

	"github.com/shopspring/decimal"
)

// maxStatisticsDays bounds the daily series of one Statistics call.
const maxStatisticsDays = 366

// DailyStat aggregates one day's records.
type DailyStat struct {
	Date   Day   `json:"date"`
	Earned int64 `json:"earned"`
	Spent  int64 `json:"spent"`
	Net    int64 `json:"net"`
}

// Statistics summarizes a user's account and activity over a date range.
type Statistics struct {
	Account       Account         `json:"account"`
	LevelProgress decimal.Decimal `json:"levelProgress"`
	TodayEarned   int64           `json:"todayEarned"`
	TodaySpent    int64           `json:"todaySpent"`
	From          Day             `json:"from"`
	To            Day             `json:"to"`
	Daily         []DailyStat     `json:"daily"`
}

// Statistics returns totals plus a zero-filled per-day series for [from, to].
// Days are bucketed in the ledger's location.
func (l *Ledger) Statistics(ctx context.Context, userID UserID, from, to Day) (Statistics, error) {
	if to.Before(from) || DaysBetween(from, to) >= maxStatisticsDays {
		return Statistics{}, ErrInvalidRange
	}

	acct, err := l.GetAccount(ctx, userID)
	if err != nil {
		return Statistics{}, err
	}

	records, err := l.store.RecordsBetween(ctx, userID, from.Start(l.loc), to.AddDays(1).Start(l.loc))
	if err != nil {
		return Statistics{}, l.fail("statistics", userID, err)
	}

	stats := Statistics{
		Account:       acct,
		LevelProgress: LevelFor(acct.TotalEarned).Progress(acct.TotalEarned),
		From:          from,
		To:            to,
		Daily:         make([]DailyStat, DaysBetween(from, to)+1),
	}
	for i := range stats.Daily {
		stats.Daily[i].Date = from.AddDays(i)
	}
	for _, r := range records {
		i := DaysBetween(from, DayOf(r.CreatedAt, l.loc))
		if i < 0 || i >= len(stats.Daily) {
			continue
		}
		addTo(&stats.Daily[i], r.Delta)
	}

	today := DayOf(l.now(), l.loc)
	if i := DaysBetween(from, today); i >= 0 && i < len(stats.Daily) {
		stats.TodayEarned = stats.Daily[i].Earned
		stats.TodaySpent = stats.Daily[i].Spent
		return stats, nil
	}

	todays, err := l.store.RecordsBetween(ctx, userID, today.Start(l.loc), today.AddDays(1).Start(l.loc))
	if err != nil {
		return Statistics{}, l.fail("statistics", userID, err)
	}
	var day DailyStat
	for _, r := range todays {
		addTo(&day, r.Delta)
	}
	stats.TodayEarned = day.Earned
	stats.TodaySpent = day.Spent
	return stats, nil
}

func addTo(d *DailyStat, delta int64) {
	if delta > 0 {
		d.Earned += delta
	} else {
		d.Spent -= delta
	}
	d.Net += delta
}
