package signin

import "github.com/wordcheck/points-engine/points"

// BaseReward is paid for every sign-in.
const BaseReward int64 = 5

// streakBonuses is ordered from the longest streak down.
var streakBonuses = []struct {
	minDays int
	bonus   int64
}{
	{30, 30},
	{21, 20},
	{14, 15},
	{7, 10},
}

// Reward returns the points for a sign-in that makes the streak continuousDays long.
func Reward(continuousDays int) int64 {
	for _, b := range streakBonuses {
		if continuousDays >= b.minDays {
			return BaseReward + b.bonus
		}
	}
	return BaseReward
}

// NextStreak returns the streak a sign-in on day would have, given the
// user's latest prior entry (nil if none). Only an entry dated exactly the
// day before continues the streak.
func NextStreak(last *points.SignInEntry, day points.Day) int {
	if last != nil && last.Date.Equal(day.AddDays(-1)) {
		return last.ContinuousDays + 1
	}
	return 1
}

// CurrentStreak is the streak shown on day: the latest entry's streak if it
// is dated day or the day before, otherwise 0.
func CurrentStreak(last *points.SignInEntry, day points.Day) int {
	if last == nil {
		return 0
	}
	if last.Date.Equal(day) || last.Date.Equal(day.AddDays(-1)) {
		return last.ContinuousDays
	}
	return 0
}
