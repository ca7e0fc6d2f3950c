package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockGateway(t *testing.T) (*Gateway, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return NewWithDB(gdb), mock
}

func TestClaimRoom_SucceedsWhenUnowned(t *testing.T) {
	gw, mock := newMockGateway(t)
	roomID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "rooms" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "workers" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	claimed, err := gw.ClaimRoom(context.Background(), "worker-1", roomID)

	require.NoError(t, err)
	assert.True(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRoom_FailsWhenAlreadyOwned(t *testing.T) {
	gw, mock := newMockGateway(t)
	roomID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "rooms" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	claimed, err := gw.ClaimRoom(context.Background(), "worker-1", roomID)

	require.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReapStaleWorkers_ReturnsCount(t *testing.T) {
	gw, mock := newMockGateway(t)

	rows := sqlmock.NewRows([]string{"id", "mode", "status", "last_heartbeat_at", "started_at"}).
		AddRow("worker-stale", ModeTranscription, WorkerActive, time.Now().Add(-time.Hour), time.Now().Add(-time.Hour))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "workers"`).WillReturnRows(rows)
	mock.ExpectExec(`UPDATE "rooms" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "workers" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := gw.ReapStaleWorkers(context.Background(), StaleAfter)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetRoom_NotFoundReturnsSentinel(t *testing.T) {
	gw, mock := newMockGateway(t)
	roomID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "rooms"`).WillReturnRows(sqlmock.NewRows(nil))

	_, err := gw.GetRoom(context.Background(), roomID)

	assert.ErrorIs(t, err, ErrNotFound)
}
