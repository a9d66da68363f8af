// Command foodpass generates the Food Pass tier table for a season, checks
// it and either prints it as JSON or stores it in Postgres.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/DoyleJ11/foodfps/internal/config"
	"github.com/DoyleJ11/foodfps/internal/foodpass"
	"github.com/DoyleJ11/foodfps/internal/logging"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	total := flag.Int("total", cfg.TotalTiers, "number of tiers to generate")
	season := flag.String("season", cfg.Season, "season key used when storing")
	persist := flag.Bool("persist", false, "store the table in DATABASE_URL instead of printing it")
	avgYield := flag.Float64("avg-yield", foodpass.DefaultConfig.AvgYield, "assumed average score per session")
	completion := flag.Float64("completion", foodpass.DefaultConfig.AvgDailyCompletion, "observed average daily completion")
	flag.Parse()

	logger, err := logging.New(cfg.LogLevel, cfg.Dev)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	gcfg := foodpass.DefaultConfig
	gcfg.AvgYield = *avgYield
	gcfg.AvgDailyCompletion = *completion
	tiers := foodpass.NewGenerator(gcfg).Generate(*total)
	if err := foodpass.Validate(tiers, gcfg.Catalog); err != nil {
		logger.Fatal("generated table is invalid", zap.Error(err))
	}

	if !*persist {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tiers); err != nil {
			logger.Fatal("write table", zap.Error(err))
		}
		return
	}

	if err := store(cfg.DatabaseURL, *season, tiers); err != nil {
		logger.Fatal("store table", zap.String("season", *season), zap.Error(err))
	}
	logger.Info("stored table", zap.String("season", *season), zap.Int("tiers", len(tiers)))
}

func store(dsn, season string, tiers []foodpass.Tier) error {
	if dsn == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	ts := foodpass.NewTierStore(db)
	if err := ts.Migrate(ctx); err != nil {
		return err
	}
	return ts.Replace(ctx, season, tiers)
}
