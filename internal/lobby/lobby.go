package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/DoyleJ11/foodfps/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrWrongPhase    = errors.New("lobby action not allowed in current phase")
	ErrNotReady      = errors.New("not enough players to start")
	ErrNoMatchLength = errors.New("timed lobby needs a match length")
)

type Mode int

const (
	ModeUntimed Mode = iota // free for all, one player is enough
	ModeTimed               // head to head, needs an opponent
)

func (m Mode) String() string {
	if m == ModeTimed {
		return "timed"
	}
	return "untimed"
}

// MinPlayers is how many players must be in the room before the host may start.
func (m Mode) MinPlayers() int {
	if m == ModeTimed {
		return 2
	}
	return 1
}

type Phase string

const (
	PhaseConfiguring       Phase = "configuring"
	PhaseCreating          Phase = "creating"
	PhaseWaitingForPlayers Phase = "waiting_for_players"
	PhaseReadyToStart      Phase = "ready_to_start"
	PhaseJoining           Phase = "joining"
	PhaseWaitingForStart   Phase = "waiting_for_start"
	PhaseInGame            Phase = "in_game"
	PhaseFailed            Phase = "failed"
)

// Session is the part of session.Session the lobby drives.
type Session interface {
	CreateRoom(ctx context.Context) (string, error)
	JoinRoom(ctx context.Context, code string) error
	StartMatch(ctx context.Context, minutes int) error
	Leave(ctx context.Context) error
	Watch(id string, out chan session.View) error
	Unwatch(id string) error
}

type Config struct {
	Mode Mode
	// MatchMinutes is agreed before the lobby opens. Required for ModeTimed.
	MatchMinutes int
	Logger       *zap.Logger
}

// Controller is the lobby screen state machine for one player. Host and
// Join run on the caller goroutine; Run feeds it session views.
type Controller struct {
	sess Session
	mode Mode
	log  *zap.Logger

	mu           sync.Mutex
	phase        Phase
	code         string
	err          error
	players      int
	started      bool
	configured   int // the length this player agreed to before the lobby opened
	matchMinutes int // the length in effect, the host's once the match starts
	changed      chan struct{}
}

func NewController(sess Session, cfg Config) (*Controller, error) {
	if cfg.Mode == ModeTimed && cfg.MatchMinutes <= 0 {
		return nil, ErrNoMatchLength
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Controller{
		sess:         sess,
		mode:         cfg.Mode,
		log:          cfg.Logger.Named("lobby").With(zap.Stringer("mode", cfg.Mode)),
		phase:        PhaseConfiguring,
		configured:   cfg.MatchMinutes,
		matchMinutes: cfg.MatchMinutes,
		changed:      make(chan struct{}),
	}, nil
}

// Host creates a room and waits in it for players. A failed Host may be
// retried directly, like Join.
func (c *Controller) Host(ctx context.Context) (string, error) {
	if err := c.begin(PhaseCreating, PhaseConfiguring, PhaseFailed); err != nil {
		return "", err
	}

	code, err := c.sess.CreateRoom(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.fail(fmt.Errorf("host lobby: %w", err))
		return "", err
	}
	c.code = code
	c.setPhase(PhaseWaitingForPlayers)
	c.advance()
	c.log.Info("hosting", zap.String("code", code))
	return code, nil
}

// Join enters an existing room. A failed join leaves the controller in
// PhaseFailed; calling Join again retries.
func (c *Controller) Join(ctx context.Context, code string) error {
	if err := c.begin(PhaseJoining, PhaseConfiguring, PhaseFailed); err != nil {
		return err
	}

	err := c.sess.JoinRoom(ctx, code)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.fail(fmt.Errorf("join lobby %s: %w", code, err))
		return err
	}
	c.code = code
	c.setPhase(PhaseWaitingForStart)
	c.advance()
	return nil
}

// Start begins the match. Only valid once enough players have joined. A
// timed lobby sends its configured length with the start signal.
func (c *Controller) Start(ctx context.Context) error {
	if !c.CanStart() {
		return ErrNotReady
	}
	minutes := 0
	if c.mode == ModeTimed {
		minutes = c.configured
	}
	if err := c.sess.StartMatch(ctx, minutes); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	if minutes > 0 {
		c.matchMinutes = minutes
	}
	c.setPhase(PhaseInGame)
	return nil
}

// Close leaves the room and returns the controller to PhaseConfiguring.
func (c *Controller) Close(ctx context.Context) error {
	err := c.sess.Leave(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.code = ""
	c.err = nil
	c.players = 0
	c.started = false
	c.matchMinutes = c.configured
	c.setPhase(PhaseConfiguring)
	return err
}

// Run consumes session views until ctx is done or the session shuts down.
func (c *Controller) Run(ctx context.Context) error {
	id := "lobby-" + uuid.NewString()
	views := make(chan session.View, 1)
	if err := c.sess.Watch(id, views); err != nil {
		return err
	}
	defer func() {
		// The session may already be gone.
		_ = c.sess.Unwatch(id)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-views:
			if !ok {
				return nil
			}
			c.observe(v)
		}
	}
}

// WaitFor blocks until the controller reaches want. It returns the stored
// error if the controller fails first.
func (c *Controller) WaitFor(ctx context.Context, want Phase) error {
	for {
		c.mu.Lock()
		phase, err, changed := c.phase, c.err, c.changed
		c.mu.Unlock()

		if phase == want {
			return nil
		}
		if phase == PhaseFailed {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func (c *Controller) CanStart() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == PhaseReadyToStart
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) Code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) Players() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.players
}

func (c *Controller) MatchMinutes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matchMinutes
}

func (c *Controller) Mode() Mode { return c.mode }

func (c *Controller) observe(v session.View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.players = len(v.Players)
	c.started = c.started || v.GameStarted
	// Before the start the view only echoes local session settings.
	if v.GameStarted && v.MatchMinutes > 0 {
		c.matchMinutes = v.MatchMinutes
	}
	c.advance()
}

// advance moves between the waiting phases from the latest view. Caller holds mu.
func (c *Controller) advance() {
	switch c.phase {
	case PhaseWaitingForPlayers, PhaseReadyToStart:
		if c.started {
			c.setPhase(PhaseInGame)
		} else if c.players >= c.mode.MinPlayers() {
			c.setPhase(PhaseReadyToStart)
		} else {
			c.setPhase(PhaseWaitingForPlayers)
		}
	case PhaseWaitingForStart:
		if c.started {
			c.setPhase(PhaseInGame)
		}
	}
}

func (c *Controller) begin(next Phase, from ...Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range from {
		if c.phase == p {
			c.err = nil
			c.setPhase(next)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrWrongPhase, c.phase)
}

func (c *Controller) fail(err error) {
	c.err = err
	c.log.Warn("lobby failed", zap.Error(err))
	c.setPhase(PhaseFailed)
}

// setPhase wakes every WaitFor. Caller holds mu.
func (c *Controller) setPhase(p Phase) {
	if c.phase == p {
		return
	}
	c.log.Debug("phase", zap.String("from", string(c.phase)), zap.String("to", string(p)))
	c.phase = p
	close(c.changed)
	c.changed = make(chan struct{})
}
