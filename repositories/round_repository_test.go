package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"tourops-api/models"
)

var errConnReset = errors.New("connection reset by peer")

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *RoundRepository) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	return mock, NewRoundRepository(db)
}

func TestLockRound_SelectsForUpdate(t *testing.T) {
	mock, repo := setupMockDB(t)

	rows := sqlmock.NewRows([]string{"id", "trip_id", "name", "sequence", "status"}).
		AddRow("round-1", 7, "Pier", 2, "doing")
	mock.ExpectQuery("SELECT \\* FROM `rounds` WHERE id = \\?.* FOR UPDATE").
		WillReturnRows(rows)

	round, err := repo.LockRound(context.Background(), "round-1")

	require.NoError(t, err)
	assert.Equal(t, "round-1", round.ID)
	assert.Equal(t, uint(7), round.TripID)
	assert.Equal(t, models.StatusDoing, round.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockRound_NotFound(t *testing.T) {
	mock, repo := setupMockDB(t)

	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	round, err := repo.LockRound(context.Background(), "missing")

	assert.Nil(t, round)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockRound_DriverError(t *testing.T) {
	mock, repo := setupMockDB(t)

	mock.ExpectQuery("SELECT").WillReturnError(errConnReset)

	_, err := repo.LockRound(context.Background(), "round-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, errConnReset)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "failed to lock round round-1")
}

func TestGetBusProgress(t *testing.T) {
	mock, repo := setupMockDB(t)

	early := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	late := early.Add(15 * time.Minute)
	rows := sqlmock.NewRows([]string{"finalized_at"}).
		AddRow(early).
		AddRow(nil).
		AddRow(late)
	mock.ExpectQuery("SELECT `finalized_at` FROM `round_buses` WHERE round_id = \\?").
		WithArgs("round-1").
		WillReturnRows(rows)

	progress, err := repo.GetBusProgress(context.Background(), "round-1")

	require.NoError(t, err)
	assert.Equal(t, 3, progress.Total)
	assert.Equal(t, 2, progress.FinalizedCount)
	require.NotNil(t, progress.LatestFinalizedAt)
	assert.True(t, late.Equal(*progress.LatestFinalizedAt))
	assert.False(t, progress.AllFinalized())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBusProgress_NoneFinalized(t *testing.T) {
	mock, repo := setupMockDB(t)

	rows := sqlmock.NewRows([]string{"finalized_at"}).
		AddRow(nil).
		AddRow(nil)
	mock.ExpectQuery("SELECT `finalized_at` FROM `round_buses`").
		WithArgs("round-1").
		WillReturnRows(rows)

	progress, err := repo.GetBusProgress(context.Background(), "round-1")

	require.NoError(t, err)
	assert.Equal(t, 2, progress.Total)
	assert.Zero(t, progress.FinalizedCount)
	assert.Nil(t, progress.LatestFinalizedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBusProgress_DriverError(t *testing.T) {
	mock, repo := setupMockDB(t)

	mock.ExpectQuery("SELECT").WillReturnError(errConnReset)

	_, err := repo.GetBusProgress(context.Background(), "round-1")

	assert.ErrorIs(t, err, errConnReset)
}

func TestUpdateRoundFields_SkipsEmptyUpdates(t *testing.T) {
	mock, repo := setupMockDB(t)

	err := repo.UpdateRoundFields(context.Background(), &models.Round{ID: "round-1"}, map[string]interface{}{})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRoundFields_DriverError(t *testing.T) {
	mock, repo := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `rounds` SET").WillReturnError(errConnReset)
	mock.ExpectRollback()

	err := repo.UpdateRoundFields(context.Background(), &models.Round{ID: "round-1"}, map[string]interface{}{"status": models.StatusDone})

	assert.ErrorIs(t, err, errConnReset)
	assert.Contains(t, err.Error(), "failed to update round round-1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	mock, repo := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnError(errConnReset)
	mock.ExpectRollback()

	err := repo.Transaction(context.Background(), func(tx *RoundRepository) error {
		_, err := tx.LockRound(context.Background(), "round-1")
		return err
	})

	assert.ErrorIs(t, err, errConnReset)
	require.NoError(t, mock.ExpectationsWereMet())
}
