// Package journal keeps an append-only Postgres record of camera lifecycle
// events for later inspection.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/events"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	DefaultRecentLimit = 100
	maxRecentLimit     = 1000
)

type Journal struct {
	db *sql.DB
}

var _ events.Sink = (*Journal)(nil)

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Open connects with the lib/pq driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal database: %w", err)
	}
	return db, nil
}

func (j *Journal) Name() string { return "journal" }

// Publish is idempotent per event id.
func (j *Journal) Publish(ctx context.Context, e events.Event) error {
	const q = `
		INSERT INTO camera_events (
			event_id, type, camera_id, kind, producer_id, consumer_id, viewer_id, reason, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING`

	_, err := j.db.ExecContext(ctx, q,
		e.ID, string(e.Type), e.CameraID, e.Kind, e.ProducerID, e.ConsumerID, e.ViewerID, e.Reason, e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("journal insert %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns the newest events first. An empty cameraID matches every
// camera.
func (j *Journal) Recent(ctx context.Context, cameraID string, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	limit = min(limit, maxRecentLimit)

	const q = `
		SELECT event_id, type, camera_id, kind, producer_id, consumer_id, viewer_id, reason, occurred_at
		FROM camera_events
		WHERE ($1 = '' OR camera_id = $1)
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2`

	rows, err := j.db.QueryContext(ctx, q, cameraID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []events.Event{}
	for rows.Next() {
		var e events.Event
		var typ string
		if err := rows.Scan(&e.ID, &typ, &e.CameraID, &e.Kind, &e.ProducerID, &e.ConsumerID, &e.ViewerID, &e.Reason, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Type = events.Type(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Migrate applies the embedded schema. Steps of zero means all the way up;
// a negative count rolls back.
func Migrate(db *sql.DB, steps int) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	if steps == 0 {
		err = m.Up()
	} else {
		err = m.Steps(steps)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func MigrateDown(db *sql.DB) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func Version(db *sql.DB) (uint, bool, error) {
	m, err := newMigrator(db)
	if err != nil {
		return 0, false, err
	}
	return m.Version()
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrate driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, "postgres", driver)
}
