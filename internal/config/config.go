// Package config loads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

type Config struct {
	Addr              string
	DatabaseURL       string // empty selects the in-memory room store
	Codec             string
	ReconcileInterval time.Duration
	BulletRetention   time.Duration
	LogLevel          string
	Dev               bool
	TotalTiers        int
	Season            string
	AllowedOrigins    []string
	RelayURL          string
}

// Load reads .env if present, then the environment. Every malformed value is
// reported, not just the first.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var errs error
	cfg := Config{
		Addr:           GetEnv("FOODFPS_ADDR", ":8080"),
		DatabaseURL:    GetEnv("DATABASE_URL", ""),
		Codec:          GetEnv("FOODFPS_CODEC", "json"),
		LogLevel:       GetEnv("FOODFPS_LOG_LEVEL", "info"),
		Season:         GetEnv("FOODFPS_SEASON", "season-1"),
		AllowedOrigins: splitList(GetEnv("FOODFPS_ALLOWED_ORIGINS", "")),
		RelayURL:       GetEnv("FOODFPS_RELAY_URL", "ws://localhost:8080/ws"),
	}

	var err error
	cfg.ReconcileInterval, err = duration("FOODFPS_RECONCILE_INTERVAL", 5*time.Second)
	errs = multierr.Append(errs, err)
	cfg.BulletRetention, err = duration("FOODFPS_BULLET_RETENTION", 3*time.Second)
	errs = multierr.Append(errs, err)
	cfg.Dev, err = boolean("FOODFPS_DEV", false)
	errs = multierr.Append(errs, err)
	cfg.TotalTiers, err = integer("FOODFPS_TOTAL_TIERS", 600)
	errs = multierr.Append(errs, err)

	switch cfg.Codec {
	case "json", "msgpack":
	default:
		errs = multierr.Append(errs, fmt.Errorf("FOODFPS_CODEC: unknown codec %q", cfg.Codec))
	}
	if cfg.TotalTiers < 0 {
		errs = multierr.Append(errs, fmt.Errorf("FOODFPS_TOTAL_TIERS: must not be negative"))
	}
	return cfg, errs
}

// GetEnv returns the value of the environment variable named by the key,
// or fallback if the variable is not set.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func boolean(key string, fallback bool) (bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func integer(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
