package foodpass

// Category is the kind of payout a tier grants.
type Category string

const (
	CategoryCoins Category = "coins"
	CategoryGems  Category = "gems"
	CategoryGold  Category = "gold"
	CategoryPower Category = "power"
)

const (
	powerCadence = 10
	goldCadence  = 25
	seedOffset   = 7777
)

type weight struct {
	category Category
	value    float64
}

func weightsFor(level int) []weight {
	return []weight{
		{CategoryCoins, 0.35},
		{CategoryGems, 0.25},
		{CategoryGold, 0.20},
		{CategoryPower, 0.05 + 0.02*float64(level/powerCadence)},
	}
}

// SelectCategory picks the reward category for a tier. The result depends on
// level and catalogSize only, so every party computing the table agrees.
//
// Power only comes from the cadence rule. A weighted draw that lands on power
// pays coins instead, which keeps catalog entries in order, one per cadence tier.
func SelectCategory(level, catalogSize int) Category {
	if level%powerCadence == 0 && level <= catalogSize*powerCadence {
		return CategoryPower
	}
	if level%goldCadence == 0 {
		return CategoryGold
	}

	picked := weightedDraw(level)
	if picked == CategoryPower {
		return CategoryCoins
	}
	return picked
}

func weightedDraw(level int) Category {
	weights := weightsFor(level)
	total := 0.0
	for _, w := range weights {
		total += w.value
	}

	r := unitHash(uint32(level+seedOffset)) * total
	for _, w := range weights {
		if r < w.value {
			return w.category
		}
		r -= w.value
	}
	return weights[len(weights)-1].category
}

// unitHash maps a seed to [0, 1) with the murmur3 32-bit finalizer.
func unitHash(seed uint32) float64 {
	h := seed
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return float64(h) / (1 << 32)
}
