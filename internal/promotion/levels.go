package promotion

import "github.com/shopspring/decimal"

// LevelFor returns the highest level whose threshold is <= total, or nil when
// total is below the lowest configured threshold (or no levels are configured
// for the game type). Threshold comparison is inclusive: a total exactly equal
// to a threshold selects that level.
//
// levels must be sorted ascending by TotalBet, which is how the repository
// returns them.
func LevelFor(levels []BetLevel, total decimal.Decimal) *BetLevel {
	var current *BetLevel
	for i := range levels {
		if levels[i].TotalBet.GreaterThan(total) {
			break
		}
		current = &levels[i]
	}
	return current
}

// BonusBetween sums the Bonus of every level whose threshold lies in
// (from, to]. A single deposit can cross several thresholds at once; this is
// the one bonus-accounting formula used by accrual, reversal and the full
// recompute alike.
func BonusBetween(levels []BetLevel, from, to decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for i := range levels {
		if levels[i].TotalBet.GreaterThan(from) && !levels[i].TotalBet.GreaterThan(to) {
			sum = sum.Add(levels[i].Bonus)
		}
	}
	return sum
}
