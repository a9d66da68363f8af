package roomstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	notifyChannel   = "room_players_changed"
	uniqueViolation = "23505"
)

type roomRecord struct {
	ID        string    `gorm:"primaryKey;type:uuid"`
	Code      string    `gorm:"size:8;not null;index"`
	HostID    string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	StartedAt *time.Time
	EndedAt   *time.Time `gorm:"index"`
}

func (roomRecord) TableName() string { return "rooms" }

type memberRecord struct {
	RoomID      string `gorm:"primaryKey;type:uuid"`
	PlayerID    string `gorm:"primaryKey;size:128"`
	DisplayName string `gorm:"size:128;not null"`
	X           float64
	Y           float64
	Health      int    `gorm:"not null;default:100"`
	Score       int    `gorm:"not null;default:0"`
	Weapon      string `gorm:"size:64"`
	Alive       bool   `gorm:"not null;default:true"`
	Angle       *float64
	JoinedAt    time.Time `gorm:"autoCreateTime"`
}

func (memberRecord) TableName() string { return "room_players" }

// Partial unique index: a code may be reused once its room has ended. The
// trigger feeds WatchMemberships for writes from any client.
var migrations = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS rooms_active_code ON rooms (code) WHERE ended_at IS NULL`,
	`CREATE OR REPLACE FUNCTION notify_room_players_changed() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('` + notifyChannel + `', json_build_object(
		'op', TG_OP,
		'room_id', COALESCE(NEW.room_id, OLD.room_id),
		'player_id', COALESCE(NEW.player_id, OLD.player_id))::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS room_players_changed ON room_players`,
	`CREATE TRIGGER room_players_changed AFTER INSERT OR UPDATE OR DELETE ON room_players
	FOR EACH ROW EXECUTE FUNCTION notify_room_players_changed()`,
	`CREATE OR REPLACE FUNCTION notify_room_started() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('` + notifyChannel + `', json_build_object(
		'op', 'STARTED',
		'room_id', NEW.id)::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS rooms_started ON rooms`,
	`CREATE TRIGGER rooms_started AFTER UPDATE OF started_at ON rooms
	FOR EACH ROW WHEN (OLD.started_at IS NULL AND NEW.started_at IS NOT NULL)
	EXECUTE FUNCTION notify_room_started()`,
}

// PostgresStore keeps rooms in Postgres through gorm and turns LISTEN/NOTIFY
// into membership change callbacks.
type PostgresStore struct {
	db   *gorm.DB
	pool *pgxpool.Pool
	log  *zap.Logger

	watchers watcherSet
}

var _ Store = (*PostgresStore)(nil)

func OpenPostgres(ctx context.Context, dsn string, log *zap.Logger) (*PostgresStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}), &gorm.Config{})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	return &PostgresStore{
		db:   db,
		pool: pool,
		log:  log.Named("roomstore"),
	}, nil
}

// DB exposes the gorm handle so other tables can share the connection pool.
func (s *PostgresStore) DB() *gorm.DB { return s.db }

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&roomRecord{}, &memberRecord{}); err != nil {
		return err
	}
	for _, stmt := range migrations {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateRoom(ctx context.Context, code, hostID string) (Room, error) {
	rec := roomRecord{ID: uuid.NewString(), Code: code, HostID: hostID}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Room{}, ErrCodeTaken
		}
		return Room{}, err
	}
	return rec.toRoom(), nil
}

func (s *PostgresStore) InsertMembership(ctx context.Context, roomID, playerID, displayName string) error {
	m := newMembership(roomID, playerID, displayName, time.Now())
	rec := memberRecord{
		RoomID:      m.RoomID,
		PlayerID:    m.PlayerID,
		DisplayName: m.DisplayName,
		Health:      m.Health,
		Weapon:      m.Weapon,
		Alive:       m.Alive,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
}

func (s *PostgresStore) FindActiveRoomByCode(ctx context.Context, code string) (Room, error) {
	var rec roomRecord
	err := s.db.WithContext(ctx).
		Where("code = ? AND ended_at IS NULL", code).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Room{}, ErrRoomNotFound
	}
	if err != nil {
		return Room{}, err
	}
	return rec.toRoom(), nil
}

func (s *PostgresStore) ListMemberships(ctx context.Context, roomID string) ([]Membership, error) {
	var recs []memberRecord
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("joined_at").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]Membership, 0, len(recs))
	for _, r := range recs {
		out = append(out, Membership{
			RoomID:      r.RoomID,
			PlayerID:    r.PlayerID,
			DisplayName: r.DisplayName,
			X:           r.X,
			Y:           r.Y,
			Health:      r.Health,
			Score:       r.Score,
			Weapon:      r.Weapon,
			Alive:       r.Alive,
			Angle:       r.Angle,
			JoinedAt:    r.JoinedAt,
		})
	}
	return out, nil
}

func (s *PostgresStore) DeleteMembership(ctx context.Context, roomID, playerID string) error {
	return s.db.WithContext(ctx).
		Where("room_id = ? AND player_id = ?", roomID, playerID).
		Delete(&memberRecord{}).Error
}

func (s *PostgresStore) MarkRoomStarted(ctx context.Context, roomID string) error {
	return s.db.WithContext(ctx).
		Model(&roomRecord{}).
		Where("id = ? AND started_at IS NULL", roomID).
		Update("started_at", time.Now()).Error
}

func (s *PostgresStore) EndRoom(ctx context.Context, roomID string) error {
	return s.db.WithContext(ctx).
		Model(&roomRecord{}).
		Where("id = ? AND ended_at IS NULL", roomID).
		Update("ended_at", time.Now()).Error
}

func (s *PostgresStore) WatchMemberships(roomID string, fn func(Change)) (func(), error) {
	return s.watchers.add(roomID, fn), nil
}

// Listen holds one pooled connection on LISTEN and dispatches notifications
// to watchers until ctx is cancelled.
func (s *PostgresStore) Listen(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.log.Info("listening for membership changes", zap.String("channel", notifyChannel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}

		var c Change
		if err := json.Unmarshal([]byte(n.Payload), &c); err != nil {
			s.log.Warn("bad change payload", zap.String("payload", n.Payload), zap.Error(err))
			continue
		}
		s.dispatch(c)
	}
}

func (s *PostgresStore) dispatch(c Change) {
	for _, fn := range s.watchers.snapshot(c.RoomID) {
		fn(c)
	}
}

func (r roomRecord) toRoom() Room {
	return Room{
		ID:        r.ID,
		Code:      r.Code,
		HostID:    r.HostID,
		CreatedAt: r.CreatedAt,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
	}
}
