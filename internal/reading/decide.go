package reading

import "math"

// tolerance absorbs float noise such as 21.6-21.5 = 0.10000000000000142.
const tolerance = 1e-9

// Decide returns the action for r given up to two prior rows, newest first.
// It is pure; duplicate detection happens later, at insert time.
func Decide(r Reading, prior []Record, th Thresholds) Action {
	if len(prior) < 2 {
		return ActionInsert
	}

	newer, older := prior[0], prior[1]

	stable := within(newer.Temperature-older.Temperature, th.MaxTempDifference) &&
		within(older.Temperature-r.Temperature, th.MaxTempDifference)
	if !stable {
		return ActionInsert
	}

	if r.ObservedAt.Sub(older.Time).Abs() > th.MaxTimeDifference {
		return ActionInsert
	}
	return ActionCoalesce
}

func within(diff, limit float64) bool {
	return math.Abs(diff) <= limit+tolerance
}
