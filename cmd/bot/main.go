// Command bot runs headless players against a relay: one hosts a lobby, the
// rest join, and all of them move and shoot until the match ends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/foodfps/internal/config"
	"github.com/DoyleJ11/foodfps/internal/lobby"
	"github.com/DoyleJ11/foodfps/internal/logging"
	"github.com/DoyleJ11/foodfps/internal/realtime"
	"github.com/DoyleJ11/foodfps/internal/roomstore"
	"github.com/DoyleJ11/foodfps/internal/session"
	"github.com/DoyleJ11/foodfps/pkg/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tickRate = 100 * time.Millisecond

type options struct {
	players  int
	minutes  int
	duration time.Duration
	code     string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	var opts options
	flag.IntVar(&opts.players, "players", 2, "number of bots")
	flag.IntVar(&opts.minutes, "minutes", 0, "match length; non-zero plays a timed lobby")
	flag.DurationVar(&opts.duration, "for", 10*time.Second, "how long to play after the start")
	flag.StringVar(&opts.code, "code", "", "join this room instead of hosting one")
	flag.Parse()

	logger, err := logging.New(cfg.LogLevel, cfg.Dev)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("bots failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, opts options, logger *zap.Logger) error {
	if opts.players < 1 {
		return errors.New("need at least one bot")
	}
	codec, err := realtime.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	var store roomstore.Store
	if cfg.DatabaseURL == "" {
		if opts.code != "" {
			return errors.New("joining an existing room needs DATABASE_URL")
		}
		store = roomstore.NewMemoryStore()
	} else {
		pg, err := roomstore.OpenPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		listenCtx, stopListen := context.WithCancel(ctx)
		defer stopListen()
		go func() {
			if err := pg.Listen(listenCtx); err != nil {
				logger.Warn("membership feed stopped", zap.Error(err))
			}
		}()
		store = pg
	}

	mode := lobby.ModeUntimed
	if opts.minutes > 0 {
		mode = lobby.ModeTimed
	}

	bots := make([]*bot, 0, opts.players)
	for i := 0; i < opts.players; i++ {
		b, err := newBot(ctx, i, cfg, codec, store, lobby.Config{Mode: mode, MatchMinutes: opts.minutes, Logger: logger}, logger)
		if err != nil {
			return err
		}
		defer b.close()
		bots = append(bots, b)
		g.Go(func() error { return ignoreCanceled(b.lobby.Run(ctx)) })
	}

	code := opts.code
	joiners := bots
	if code == "" {
		code, err = bots[0].lobby.Host(ctx)
		if err != nil {
			return err
		}
		joiners = bots[1:]
	}
	for _, b := range joiners {
		if err := b.lobby.Join(ctx, code); err != nil {
			return fmt.Errorf("%s join %s: %w", b.name, code, err)
		}
	}
	logger.Info("bots in lobby", zap.String("code", code), zap.Int("players", len(bots)))

	if opts.code == "" {
		host := bots[0].lobby
		if err := host.WaitFor(ctx, lobby.PhaseReadyToStart); err != nil {
			return err
		}
		if err := host.Start(ctx); err != nil {
			return err
		}
	}

	playCtx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()
	err = playAll(playCtx, bots, logger)
	stopAll(bots)
	return multierr.Append(err, g.Wait())
}

// playAll runs every bot until ctx ends and then takes them out of the room.
// All bots have stopped ticking before the first one leaves.
func playAll(ctx context.Context, bots []*bot, logger *zap.Logger) error {
	var players errgroup.Group
	for _, b := range bots {
		players.Go(func() error {
			if err := b.lobby.WaitFor(ctx, lobby.PhaseInGame); err != nil {
				return ignoreDeadline(err)
			}
			return ignoreDeadline(b.play(ctx))
		})
	}
	err := players.Wait()

	for _, b := range bots {
		if lerr := b.lobby.Close(context.Background()); lerr != nil {
			logger.Warn("leave failed", zap.String("bot", b.name), zap.Error(lerr))
		}
	}
	return err
}

type bot struct {
	name  string
	sess  *session.Session
	ch    *realtime.WSChannel
	lobby *lobby.Controller
	log   *zap.Logger
	x, y  float64
}

func newBot(ctx context.Context, i int, cfg config.Config, codec realtime.Codec, store roomstore.Store, lcfg lobby.Config, logger *zap.Logger) (*bot, error) {
	name := fmt.Sprintf("bot-%d", i+1)
	ch, err := realtime.DialWS(ctx, cfg.RelayURL, codec, logger)
	if err != nil {
		return nil, err
	}
	sess, err := session.New(ctx, session.Options{
		Identity:          session.Identity{AccountID: name, DisplayName: name},
		Store:             store,
		Channel:           ch,
		Codec:             codec,
		Logger:            logger,
		MatchMinutes:      lcfg.MatchMinutes,
		BulletRetention:   cfg.BulletRetention,
		ReconcileInterval: cfg.ReconcileInterval,
	})
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	ctl, err := lobby.NewController(sess, lcfg)
	if err != nil {
		_ = sess.Close(context.Background())
		_ = ch.Close()
		return nil, err
	}
	return &bot{name: name, sess: sess, ch: ch, lobby: ctl, log: logger.With(zap.String("bot", name))}, nil
}

// play walks in a circle and fires along the heading every few ticks.
func (b *bot) play(ctx context.Context) error {
	t := time.NewTicker(tickRate)
	defer t.Stop()
	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		angle := float64(n) / 10
		b.x += math.Cos(angle) * 5
		b.y += math.Sin(angle) * 5
		if err := b.sess.UpdateLocalPlayerState(session.PlayerUpdate{
			X: b.x, Y: b.y, Health: roomstore.DefaultHealth, Weapon: roomstore.DefaultWeapon, Angle: &angle,
		}); err != nil {
			return err
		}
		if n%5 == 0 {
			err := b.sess.BroadcastBullet(types.BulletEvent{
				X: b.x, Y: b.y,
				VX: math.Cos(angle) * 400, VY: math.Sin(angle) * 400,
				Radius: 4, Lifetime: 1.5, Damage: 10 + rand.IntN(5), Color: "#e4572e",
			})
			if err != nil {
				return err
			}
		}
	}
}

func (b *bot) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := b.sess.Close(ctx); err != nil {
		b.log.Warn("close session", zap.Error(err))
	}
	_ = b.ch.Close()
}

// stopAll shuts the sessions down so the lobby Run loops return.
func stopAll(bots []*bot) {
	for _, b := range bots {
		b.close()
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func ignoreDeadline(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
