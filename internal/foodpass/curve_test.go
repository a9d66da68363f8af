package foodpass

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreshold_StrictlyIncreasing(t *testing.T) {
	for l := 1; l < 600; l++ {
		if Threshold(l) >= Threshold(l+1) {
			t.Fatalf("threshold(%d)=%d not below threshold(%d)=%d", l, Threshold(l), l+1, Threshold(l+1))
		}
	}
}

func TestThreshold_KnownValues(t *testing.T) {
	cases := []struct {
		level int
		want  int64
	}{
		{1, 550},
		{4, 4200},  // 500*8 + 200
		{9, 13950}, // 500*27 + 450
		{100, 505000},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Threshold(tc.level), "level %d", tc.level)
	}
}

func TestRawRewardMagnitude_FloorsYield(t *testing.T) {
	// A zero or negative yield is treated as 1.
	assert.Equal(t, RawRewardMagnitude(3, 1), RawRewardMagnitude(3, 0))
	assert.Equal(t, RawRewardMagnitude(3, 1), RawRewardMagnitude(3, -20))
	assert.Greater(t, RawRewardMagnitude(10, 250), RawRewardMagnitude(9, 250))
}

func TestEconomyBalanceFactor(t *testing.T) {
	cases := []struct {
		name       string
		completion float64
		want       float64
	}{
		{"on target", 1.0, 1.0},
		{"under target boosts", 0.0, 1.5},
		{"over target shrinks", 1.5, 0.75},
		{"clamped at half", 10, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, EconomyBalanceFactor(tc.completion, 1.0), 1e-9)
		})
	}
}
