package journal

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/events"
)

func TestPublish(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := events.Event{
		ID: uuid.New(), Type: events.ProducerClosed, CameraID: "cam-1",
		Kind: "video", ProducerID: "p1", Reason: events.ReasonInactive, OccurredAt: at,
	}

	mock.ExpectExec("INSERT INTO camera_events").
		WithArgs(sqlmock.AnyArg(), "producer.closed", "cam-1", "video", "p1", "", "", "inactive", at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, New(db).Publish(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_WrapsDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO camera_events").WillReturnError(boom)

	err = New(db).Publish(context.Background(), events.Event{ID: uuid.New(), Type: events.CameraCreated, CameraID: "c"})
	assert.ErrorIs(t, err, boom)
}

func TestRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"event_id", "type", "camera_id", "kind", "producer_id", "consumer_id", "viewer_id", "reason", "occurred_at"}).
		AddRow(id.String(), "viewer.joined", "cam-1", "video", "p1", "c1", "10.0.0.5", "", at)

	mock.ExpectQuery("SELECT event_id, type, camera_id").
		WithArgs("cam-1", maxRecentLimit).
		WillReturnRows(rows)

	got, err := New(db).Recent(context.Background(), "cam-1", 5000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, events.ViewerJoined, got[0].Type)
	assert.Equal(t, "10.0.0.5", got[0].ViewerID)
	assert.Equal(t, at, got[0].OccurredAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecent_DefaultLimitAndEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT event_id").
		WithArgs("", DefaultRecentLimit).
		WillReturnRows(sqlmock.NewRows([]string{"event_id"}))

	got, err := New(db).Recent(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationFS, "migrations/*.down.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}
