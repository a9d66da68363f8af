package foodpass

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrInvalidTable = errors.New("invalid tier table")

// Tier is one rung of the Food Pass.
type Tier struct {
	Index       int      `json:"index"`
	Threshold   int64    `json:"threshold"`
	Category    Category `json:"category"`
	Amount      int      `json:"amount"`
	PowerUnlock *string  `json:"power_unlock"`
}

type Config struct {
	AvgYield           float64  // assumed score earned per session
	AvgDailyCompletion float64  // tiers completed per day across players
	TargetCompletion   float64  // tiers per day the economy is tuned for
	Catalog            []string // power unlocks, in hand-out order
}

var DefaultConfig = Config{
	AvgYield:           250,
	AvgDailyCompletion: 1.0,
	TargetCompletion:   1.0,
	Catalog:            PowerCatalog,
}

type Generator struct {
	cfg Config
}

func NewGenerator(cfg Config) *Generator {
	return &Generator{cfg: cfg}
}

// GenerateTiers builds the table with DefaultConfig.
func GenerateTiers(total int) []Tier {
	return NewGenerator(DefaultConfig).Generate(total)
}

// Generate returns tiers 1..total. The same config and total always produce
// the same table.
func (g *Generator) Generate(total int) []Tier {
	if total <= 0 {
		return []Tier{}
	}

	factor := EconomyBalanceFactor(g.cfg.AvgDailyCompletion, g.cfg.TargetCompletion)
	tiers := make([]Tier, 0, total)
	nextPower := 0

	for i := 1; i <= total; i++ {
		category := SelectCategory(i, len(g.cfg.Catalog))
		raw := RawRewardMagnitude(i, g.cfg.AvgYield) * factor

		t := Tier{
			Index:     i,
			Threshold: Threshold(i),
			Category:  category,
			Amount:    amountFor(category, raw),
		}
		if category == CategoryPower {
			unlock := g.cfg.Catalog[nextPower]
			t.PowerUnlock = &unlock
			nextPower++
		}
		tiers = append(tiers, t)
	}
	return tiers
}

func amountFor(c Category, raw float64) int {
	switch c {
	case CategoryCoins:
		return max(10, int(math.Round(raw*1.2)))
	case CategoryGems:
		return max(5, int(math.Round(raw*0.6)))
	case CategoryGold:
		return max(3, int(math.Round(raw*0.3)))
	default:
		return 1
	}
}

// Validate checks a table against the generator's invariants: increasing
// thresholds, category floors, cadence tiers and catalog order.
func Validate(tiers []Tier, catalog []string) error {
	nextPower := 0
	for i, t := range tiers {
		if t.Index != i+1 {
			return fmt.Errorf("%w: tier %d at position %d", ErrInvalidTable, t.Index, i)
		}
		if i > 0 && t.Threshold <= tiers[i-1].Threshold {
			return fmt.Errorf("%w: threshold of tier %d not above tier %d", ErrInvalidTable, t.Index, i)
		}

		wantPower := t.Index%powerCadence == 0 && t.Index <= len(catalog)*powerCadence
		if wantPower != (t.Category == CategoryPower) {
			return fmt.Errorf("%w: tier %d has category %s", ErrInvalidTable, t.Index, t.Category)
		}
		if !wantPower && t.Index%goldCadence == 0 && t.Category != CategoryGold {
			return fmt.Errorf("%w: tier %d should be gold", ErrInvalidTable, t.Index)
		}

		switch t.Category {
		case CategoryCoins:
			if t.Amount < 10 {
				return fmt.Errorf("%w: tier %d coins %d below floor", ErrInvalidTable, t.Index, t.Amount)
			}
		case CategoryGems:
			if t.Amount < 5 {
				return fmt.Errorf("%w: tier %d gems %d below floor", ErrInvalidTable, t.Index, t.Amount)
			}
		case CategoryGold:
			if t.Amount < 3 {
				return fmt.Errorf("%w: tier %d gold %d below floor", ErrInvalidTable, t.Index, t.Amount)
			}
		case CategoryPower:
			if t.Amount != 1 || t.PowerUnlock == nil || *t.PowerUnlock != catalog[nextPower] {
				return fmt.Errorf("%w: tier %d power unlock out of order", ErrInvalidTable, t.Index)
			}
			nextPower++
			continue
		default:
			return fmt.Errorf("%w: tier %d unknown category %q", ErrInvalidTable, t.Index, t.Category)
		}
		if t.PowerUnlock != nil {
			return fmt.Errorf("%w: tier %d has a power unlock but pays %s", ErrInvalidTable, t.Index, t.Category)
		}
	}
	return nil
}

// TierForScore returns the highest tier unlocked by score.
func TierForScore(tiers []Tier, score int64) (Tier, bool) {
	n := sort.Search(len(tiers), func(i int) bool { return tiers[i].Threshold > score })
	if n == 0 {
		return Tier{}, false
	}
	return tiers[n-1], true
}
