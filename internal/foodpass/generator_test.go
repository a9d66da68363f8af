package foodpass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTiers_Deterministic(t *testing.T) {
	a := GenerateTiers(600)
	b := GenerateTiers(600)
	require.Len(t, a, 600)
	require.Equal(t, a, b)
}

func TestGenerateTiers_PassesValidation(t *testing.T) {
	tiers := GenerateTiers(600)
	require.NoError(t, Validate(tiers, PowerCatalog))
}

func TestGenerateTiers_PowerCadence(t *testing.T) {
	tiers := GenerateTiers(600)
	next := 0
	for _, tier := range tiers {
		if tier.Index%10 == 0 && tier.Index <= len(PowerCatalog)*10 {
			require.Equal(t, CategoryPower, tier.Category, "tier %d", tier.Index)
		}
		if tier.Category == CategoryPower {
			require.NotNil(t, tier.PowerUnlock)
			require.Equal(t, PowerCatalog[next], *tier.PowerUnlock, "tier %d", tier.Index)
			next++
		} else {
			require.Nil(t, tier.PowerUnlock, "tier %d", tier.Index)
		}
	}
	assert.Equal(t, len(PowerCatalog), next, "every power handed out exactly once")
}

func TestGenerateTiers_NoPowerAfterCatalogExhausted(t *testing.T) {
	for _, tier := range GenerateTiers(600) {
		if tier.Index > len(PowerCatalog)*10 {
			require.NotEqual(t, CategoryPower, tier.Category, "tier %d", tier.Index)
		}
	}
}

func TestGenerateTiers_GoldCadence(t *testing.T) {
	for _, tier := range GenerateTiers(600) {
		if tier.Index%25 == 0 && tier.Index%10 != 0 {
			require.Equal(t, CategoryGold, tier.Category, "tier %d", tier.Index)
		}
	}
}

func TestGenerateTiers_RewardFloors(t *testing.T) {
	for _, tier := range GenerateTiers(600) {
		switch tier.Category {
		case CategoryCoins:
			require.GreaterOrEqual(t, tier.Amount, 10)
		case CategoryGems:
			require.GreaterOrEqual(t, tier.Amount, 5)
		case CategoryGold:
			require.GreaterOrEqual(t, tier.Amount, 3)
		case CategoryPower:
			require.Equal(t, 1, tier.Amount)
		default:
			t.Fatalf("tier %d: unknown category %q", tier.Index, tier.Category)
		}
	}
}

func TestGenerateTiers_Tier10And25(t *testing.T) {
	ten := GenerateTiers(20)[9]
	assert.Equal(t, 10, ten.Index)
	assert.Equal(t, CategoryPower, ten.Category)
	require.NotNil(t, ten.PowerUnlock)
	assert.Equal(t, PowerCatalog[0], *ten.PowerUnlock)

	twentyFive := GenerateTiers(30)[24]
	assert.Equal(t, 25, twentyFive.Index)
	assert.Equal(t, CategoryGold, twentyFive.Category)
}

func TestGenerateTiers_PrefixStable(t *testing.T) {
	// A shorter table is a prefix of a longer one.
	assert.Equal(t, GenerateTiers(600)[:50], GenerateTiers(50))
}

func TestGenerateTiers_Empty(t *testing.T) {
	assert.Empty(t, GenerateTiers(0))
	assert.Empty(t, GenerateTiers(-3))
}

func TestGenerator_SmallCatalog(t *testing.T) {
	cfg := DefaultConfig
	cfg.Catalog = []string{"a", "b"}
	tiers := NewGenerator(cfg).Generate(60)

	require.NoError(t, Validate(tiers, cfg.Catalog))
	assert.Equal(t, CategoryPower, tiers[19].Category)
	assert.NotEqual(t, CategoryPower, tiers[29].Category)
}

func TestGenerator_BalanceFactorScalesAmounts(t *testing.T) {
	hot := DefaultConfig
	hot.AvgDailyCompletion = 2.0 // factor 0.5

	base := GenerateTiers(100)
	scaled := NewGenerator(hot).Generate(100)
	for i := range base {
		require.Equal(t, base[i].Category, scaled[i].Category)
		require.LessOrEqual(t, scaled[i].Amount, base[i].Amount, "tier %d", base[i].Index)
	}
}

func TestValidate_RejectsBrokenTables(t *testing.T) {
	cases := []struct {
		name   string
		mutate func([]Tier)
	}{
		{"non increasing threshold", func(ts []Tier) { ts[5].Threshold = ts[4].Threshold }},
		{"coins below floor", func(ts []Tier) {
			for i := range ts {
				if ts[i].Category == CategoryCoins {
					ts[i].Amount = 1
					return
				}
			}
		}},
		{"power swapped out", func(ts []Tier) { ts[9].Category = CategoryGems; ts[9].PowerUnlock = nil }},
		{"gold cadence broken", func(ts []Tier) { ts[24].Category = CategoryCoins }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tiers := GenerateTiers(40)
			tc.mutate(tiers)
			require.ErrorIs(t, Validate(tiers, PowerCatalog), ErrInvalidTable)
		})
	}
}

func TestTierForScore(t *testing.T) {
	tiers := GenerateTiers(30)

	_, ok := TierForScore(tiers, 0)
	assert.False(t, ok)

	got, ok := TierForScore(tiers, tiers[2].Threshold)
	require.True(t, ok)
	assert.Equal(t, 3, got.Index)

	got, ok = TierForScore(tiers, tiers[2].Threshold+1)
	require.True(t, ok)
	assert.Equal(t, 3, got.Index)

	got, ok = TierForScore(tiers, 1<<62)
	require.True(t, ok)
	assert.Equal(t, 30, got.Index)
}
