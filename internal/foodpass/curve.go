package foodpass

import "math"

const (
	thresholdBase   = 500.0
	thresholdLinear = 50.0

	rewardLogScale   = 100.0
	rewardDifficulty = 10.0

	minBalanceFactor = 0.5
)

// Threshold is the cumulative score needed to unlock tier level (1-based).
func Threshold(level int) int64 {
	l := float64(level)
	// l*sqrt(l) rather than Pow(l, 1.5): exact for perfect squares.
	return int64(math.Floor(thresholdBase*l*math.Sqrt(l) + l*thresholdLinear))
}

// RawRewardMagnitude grows with ln(level+1) plus a correction for how many
// sessions of avgYield score the tier takes to reach.
func RawRewardMagnitude(level int, avgYield float64) float64 {
	l := float64(level)
	return rewardLogScale*math.Log(l+1) + rewardDifficulty*(float64(Threshold(level))/math.Max(1, avgYield))
}

// EconomyBalanceFactor shrinks rewards when players complete more than the
// target per day. Never below 0.5.
func EconomyBalanceFactor(avgDailyCompletion, target float64) float64 {
	return math.Max(minBalanceFactor, 1-0.5*(avgDailyCompletion-target))
}
