package points

import "github.com/shopspring/decimal"

// =============================================================================
// LEVELS - Pure function of lifetime earnings
// =============================================================================

// Level is the tier a user reaches from TotalEarned.
type Level struct {
	Number        int
	Name          string
	NextThreshold *int64 // nil at the top level
}

type tier struct {
	number int
	name   string
	below  int64 // exclusive upper bound; 0 for the last tier
}

var tiers = []tier{
	{1, "Beginner", 200},
	{2, "Advanced", 500},
	{3, "Expert", 1000},
	{4, "Master", 2000},
	{5, "Grandmaster", 0},
}

// MaxLevel is the highest level number.
const MaxLevel = 5

// LevelFor returns the level for a lifetime earnings total.
// Negative totals are treated as zero.
func LevelFor(totalEarned int64) Level {
	for _, t := range tiers {
		if t.below == 0 || totalEarned < t.below {
			lvl := Level{Number: t.number, Name: t.name}
			if t.below != 0 {
				next := t.below
				lvl.NextThreshold = &next
			}
			return lvl
		}
	}
	// unreachable: last tier is open-ended
	return Level{Number: MaxLevel, Name: tiers[len(tiers)-1].name}
}

// Progress returns the percentage of the way from this level's floor to the
// next threshold, rounded to 2 places. Always 100 at the top level.
func (l Level) Progress(totalEarned int64) decimal.Decimal {
	if l.NextThreshold == nil {
		return decimal.NewFromInt(100)
	}
	var floor int64
	if l.Number > 1 {
		floor = tiers[l.Number-2].below
	}
	span := *l.NextThreshold - floor
	done := totalEarned - floor
	if done < 0 {
		done = 0
	}
	return decimal.NewFromInt(done).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(span)).
		Round(2)
}
