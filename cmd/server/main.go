package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/foodfps/internal/config"
	"github.com/DoyleJ11/foodfps/internal/foodpass"
	"github.com/DoyleJ11/foodfps/internal/httpapi"
	"github.com/DoyleJ11/foodfps/internal/hub"
	"github.com/DoyleJ11/foodfps/internal/logging"
	"github.com/DoyleJ11/foodfps/internal/roomstore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Dev)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tiers, closeDB, err := seasonTable(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	h := hub.NewHub(ctx, logger)

	// The relay and the season table are shared by every route.
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Channel:        h,
			Tiers:          tiers,
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		// Hijacked websocket connections only see shutdown through this.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Int("tiers", len(tiers)))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		h.Shutdown()
		return err
	})
	return g.Wait()
}

// seasonTable returns the Food Pass table to serve. With a database it also
// migrates the room schema and serves the stored season, generating and
// storing it first if the season is empty.
func seasonTable(ctx context.Context, cfg config.Config, logger *zap.Logger) ([]foodpass.Tier, func(), error) {
	if cfg.DatabaseURL == "" {
		return foodpass.GenerateTiers(cfg.TotalTiers), func() {}, nil
	}

	store, err := roomstore.OpenPostgres(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	ts := foodpass.NewTierStore(store.DB())
	if err := ts.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	tiers, err := ts.Load(ctx, cfg.Season)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	if len(tiers) == 0 {
		tiers = foodpass.GenerateTiers(cfg.TotalTiers)
		if err := ts.Replace(ctx, cfg.Season, tiers); err != nil {
			store.Close()
			return nil, nil, err
		}
		logger.Info("stored generated season", zap.String("season", cfg.Season), zap.Int("tiers", len(tiers)))
	}
	if err := foodpass.Validate(tiers, foodpass.PowerCatalog); err != nil {
		store.Close()
		return nil, nil, err
	}
	return tiers, store.Close, nil
}
