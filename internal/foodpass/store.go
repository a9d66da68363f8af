package foodpass

import (
	"context"

	"gorm.io/gorm"
)

type tierRecord struct {
	Season      string  `gorm:"primaryKey;size:64"`
	Index       int     `gorm:"primaryKey;column:tier_index"`
	Threshold   int64   `gorm:"not null"`
	Category    string  `gorm:"size:16;not null"`
	Amount      int     `gorm:"not null"`
	PowerUnlock *string `gorm:"size:64"`
}

func (tierRecord) TableName() string { return "food_pass_tiers" }

// TierStore persists generated tables per season so server-side jobs can
// publish them without clients regenerating.
type TierStore struct {
	db *gorm.DB
}

func NewTierStore(db *gorm.DB) *TierStore {
	return &TierStore{db: db}
}

func (s *TierStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&tierRecord{})
}

// Replace swaps the stored table for season in one transaction.
func (s *TierStore) Replace(ctx context.Context, season string, tiers []Tier) error {
	records := make([]tierRecord, 0, len(tiers))
	for _, t := range tiers {
		records = append(records, tierRecord{
			Season:      season,
			Index:       t.Index,
			Threshold:   t.Threshold,
			Category:    string(t.Category),
			Amount:      t.Amount,
			PowerUnlock: t.PowerUnlock,
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("season = ?", season).Delete(&tierRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(records, 200).Error
	})
}

func (s *TierStore) Load(ctx context.Context, season string) ([]Tier, error) {
	var records []tierRecord
	err := s.db.WithContext(ctx).
		Where("season = ?", season).
		Order("tier_index").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	tiers := make([]Tier, 0, len(records))
	for _, r := range records {
		tiers = append(tiers, Tier{
			Index:       r.Index,
			Threshold:   r.Threshold,
			Category:    Category(r.Category),
			Amount:      r.Amount,
			PowerUnlock: r.PowerUnlock,
		})
	}
	return tiers, nil
}
