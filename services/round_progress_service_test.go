package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"tourops-api/database"
	"tourops-api/models"
	"tourops-api/repositories"
)

var baseTime = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

type tripFixture struct {
	db        *gorm.DB
	trip      models.Trip
	tripBuses []models.TripBus
	rounds    []models.Round
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenInMemory(uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// seedTrip creates a trip with busCount trip buses and roundCount planned
// rounds numbered from 1.
func seedTrip(t *testing.T, db *gorm.DB, busCount, roundCount int) *tripFixture {
	t.Helper()
	f := &tripFixture{db: db}

	tenant := models.Tenant{Name: "Sunrise Tours"}
	require.NoError(t, db.Create(&tenant).Error)

	lead := models.User{Username: "lead", Email: "lead@example.com", Name: "Lead", Password: "x", TenantID: &tenant.ID}
	require.NoError(t, db.Create(&lead).Error)

	f.trip = models.Trip{TenantID: tenant.ID, Name: "Coast", StartDate: baseTime, EndDate: baseTime.AddDate(0, 0, 3)}
	require.NoError(t, db.Create(&f.trip).Error)

	for i := 0; i < busCount; i++ {
		bus := models.Bus{
			RegistrationNumber: fmt.Sprintf("REG-%d", i),
			BusCode:            fmt.Sprintf("B%d", i),
			Capacity:           45,
		}
		require.NoError(t, db.Create(&bus).Error)

		tb := models.TripBus{TripID: f.trip.ID, BusID: bus.ID, ManagerID: lead.ID}
		require.NoError(t, db.Create(&tb).Error)
		f.tripBuses = append(f.tripBuses, tb)
	}

	for i := 0; i < roundCount; i++ {
		round := models.Round{
			TripID:       f.trip.ID,
			Name:         fmt.Sprintf("Stop %d", i+1),
			Location:     "Somewhere",
			Sequence:     uint(i + 1),
			EstimateTime: baseTime.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, db.Create(&round).Error)
		f.rounds = append(f.rounds, round)
	}
	return f
}

func (f *tripFixture) addRoundBus(t *testing.T, round, bus int, finalizedAt *time.Time) models.RoundBus {
	t.Helper()
	rb := models.RoundBus{
		RoundID:     f.rounds[round].ID,
		TripBusID:   f.tripBuses[bus].ID,
		FinalizedAt: finalizedAt,
	}
	require.NoError(t, f.db.Create(&rb).Error)
	return rb
}

func (f *tripFixture) reload(t *testing.T, round int) models.Round {
	t.Helper()
	var r models.Round
	require.NoError(t, f.db.First(&r, "id = ?", f.rounds[round].ID).Error)
	return r
}

func (f *tripFixture) setStatus(t *testing.T, round int, status models.ProgressStatus) {
	t.Helper()
	require.NoError(t, f.db.Model(&models.Round{}).
		Where("id = ?", f.rounds[round].ID).
		Update("status", status).Error)
}

func newEngine(db *gorm.DB) *RoundProgressService {
	return NewRoundProgressService(repositories.NewRoundRepository(db), zap.NewNop())
}

func at(offset time.Duration) *time.Time {
	v := baseTime.Add(offset)
	return &v
}

func finalizeMutation(ctx context.Context, roundBusID string, value *time.Time) RoundMutation {
	return func(repo *repositories.RoundRepository, round *models.Round) error {
		rb, err := repo.GetRoundBus(ctx, roundBusID)
		if err != nil {
			return err
		}
		return repo.UpdateRoundBus(ctx, rb, map[string]interface{}{"finalized_at": value})
	}
}

func TestSync_AllFinalizedCompletesRound(t *testing.T) {
	f := seedTrip(t, newTestDB(t), 2, 1)
	f.addRoundBus(t, 0, 0, at(10*time.Minute))
	f.addRoundBus(t, 0, 1, at(25*time.Minute))

	result, err := newEngine(f.db).Sync(context.Background(), f.rounds[0].ID, models.StatusPlanned)
	require.NoError(t, err)

	assert.True(t, result.Changed)
	assert.True(t, result.JustCompleted)

	stored := f.reload(t, 0)
	assert.Equal(t, models.StatusDone, stored.Status)
	require.NotNil(t, stored.ActualTime)
	assert.True(t, at(25*time.Minute).Equal(*stored.ActualTime))
}

func TestSync_PartialFinalizeMarksDoing(t *testing.T) {
	f := seedTrip(t, newTestDB(t), 2, 1)
	f.addRoundBus(t, 0, 0, at(10*time.Minute))
	f.addRoundBus(t, 0, 1, nil)

	result, err := newEngine(f.db).Sync(context.Background(), f.rounds[0].ID, models.StatusPlanned)
	require.NoError(t, err)
	assert.False(t, result.JustCompleted)

	stored := f.reload(t, 0)
	assert.Equal(t, models.StatusDoing, stored.Status)
	assert.Nil(t, stored.ActualTime)
}

func TestSync_NothingFinalizedMarksPlanned(t *testing.T) {
	f := seedTrip(t, newTestDB(t), 2, 1)
	f.addRoundBus(t, 0, 0, nil)
	f.addRoundBus(t, 0, 1, nil)
	require.NoError(t, f.db.Model(&models.Round{}).Where("id = ?", f.rounds[0].ID).
		Updates(map[string]interface{}{"status": models.StatusDoing, "actual_time": baseTime}).Error)

	_, err := newEngine(f.db).Sync(context.Background(), f.rounds[0].ID, models.StatusDoing)
	require.NoError(t, err)

	stored := f.reload(t, 0)
	assert.Equal(t, models.StatusPlanned, stored.Status)
	assert.Nil(t, stored.ActualTime)
}

func TestMutate_AddingOpenBusesKeepsRoundInStep(t *testing.T) {
	f := seedTrip(t, newTestDB(t), 2, 1)
	engine := newEngine(f.db)
	ctx := context.Background()

	result, err := engine.Mutate(ctx, f.rounds[0].ID, func(repo *repositories.RoundRepository, round *models.Round) error {
		return repo.CreateRoundBus(ctx, &models.RoundBus{RoundID: round.ID, TripBusID: f.tripBuses[0].ID})
	})
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, models.StatusPlanned, f.reload(t, 0).Status)

	result, err = engine.Mutate(ctx, f.rounds[0].ID, func(repo *repositories.RoundRepository, round *models.Round) error {
		return repo.CreateRoundBus(ctx, &models.RoundBus{RoundID: round.ID, TripBusID: f.tripBuses[1].ID, FinalizedAt: at(time.Minute)})
	})
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.False(t, result.JustCompleted)

	stored := f.reload(t, 0)
	assert.Equal(t, models.StatusDoing, stored.Status)
	assert.Nil(t, stored.ActualTime)
}

func TestSync_IsIdempotent(t *testing.T) {
	f := seedTrip(t, newTestDB(t), 2, 2)
	f.addRoundBus(t, 0, 0, at(5*time.Minute))
	f.addRoundBus(t, 0, 1, at(7*time.Minute))
	engine := newEngine(f.db)

	first, err := engine.Sync(context.Background(), f.rounds[0].ID, models.StatusPlanned)
	require.NoError(t, err)
	require.True(t, first.Changed)

	roundWrites := 0
	require.NoError(t, f.db.Callback().Update().After("gorm:update").
		Register("test:count_round_writes", func(tx *gorm.DB) {
			if tx.Statement.Table == "rounds" {
				roundWrites++
			}
		}))

	second, err := engine.Sync(context.Background(), f.rounds[0].ID, first.Round.Status)
	require.NoError(t, err)

	assert.False(t, second.Changed)
	assert.False(t, second.JustCompleted)
	assert.Nil(t, second.Activated)
	assert.Zero(t, roundWrites)
	assert.Equal(t, first.Round.Status, f.reload(t, 0).Status)
}

func TestMutate_CompletionActivatesNextRoundOnly(t *testing.T) {
	f := seedTrip(t, newTestDB(t), 1, 3)
	rb := f.addRoundBus(t, 0, 0, nil)
	ctx := context.Background()

	result, err := newEngine(f.db).Mutate(ctx, f.rounds[0].ID, finalizeMutation(ctx, rb.ID, at(time.Hour)))
	require.NoError(t, err)

	assert.Equal(t, models.StatusPlanned, result.PreviousStatus)
	assert.True(t, result.JustCompleted)
	require.NotNil(t, result.Activated)
	assert.Equal(t, f.rounds[1].ID, result.Activated.ID)

	assert.Equal(t, models.StatusDone, f.reload(t, 0).Status)
	assert.Equal(t, models.StatusDoing, f.reload(t, 1).Status)
	assert.Equal(t, models.StatusPlanned, f.reload(t, 2).Status)
}

func TestSync_AlreadyDoneDoesNotCascadeAgain(t *testing.T) {
	f := seedTrip(t, newTestDB(t), 1, 2)
	f.addRoundBus(t, 0, 0, at(time.Hour))
	engine := newEngine(f.db)
	ctx := context.Background()

	_, err := engine.Sync(ctx, f.rounds[0].ID, models.StatusPlanned)
	require.NoError(t, err)
	require.Equal(t, models.StatusDoing, f.reload(t, 1).Status)

	// put the next round back so a second cascade would be visible
	f.setStatus(t, 1, models.StatusPlanned)

	result, err := engine.Sync(ctx, f.rounds[0].ID, models.StatusDone)
	require.NoError(t, err)
	assert.False(t, result.JustCompleted)
	assert.Nil(t, result.Activated)
	assert.Equal(t, models.StatusPlanned, f.reload(t, 1).Status)
}

func TestSync_CascadeSkippedWhileAnotherRoundIsDoing(t *testing.T) {
	f := seedTrip(t, newTestDB(t), 1, 3)
	f.addRoundBus(t, 0, 0, at(time.Hour))
	f.setStatus(t, 2, models.StatusDoing)

	result, err := newEngine(f.db).Sync(context.Background(), f.rounds[0].ID, models.StatusPlanned)
	require.NoError(t, err)

	assert.True(t, result.JustCompleted)
	assert.Nil(t, result.Activated)
	assert.Equal(t, models.StatusPlanned, f.reload(t, 1).Status)
	assert.Equal(t, models.StatusDoing, f.reload(t, 2).Status)
}

func TestSync_CascadeLeavesNonPlannedNextRound(t *testing.T) {
	f := seedTrip(t, newTestDB(t), 1, 3)
	f.addRoundBus(t, 0, 0, at(time.Hour))
	f.setStatus(t, 1, models.StatusDone)

	result, err := newEngine(f.db).Sync(context.Background(), f.rounds[0].ID, models.StatusPlanned)
	require.NoError(t, err)

	assert.Nil(t, result.Activated)
	assert.Equal(t, models.StatusDone, f.reload(t, 1).Status)
	assert.Equal(t, models.StatusPlanned, f.reload(t, 2).Status)
}

func TestMutate_UnfinalizeRegressesRound(t *testing.T) {
	f := seedTrip(t, newTestDB(t), 2, 2)
	first := f.addRoundBus(t, 0, 0, at(time.Hour))
	f.addRoundBus(t, 0, 1, at(2*time.Hour))
	engine := newEngine(f.db)
	ctx := context.Background()

	_, err := engine.Sync(ctx, f.rounds[0].ID, models.StatusPlanned)
	require.NoError(t, err)
	require.Equal(t, models.StatusDone, f.reload(t, 0).Status)

	result, err := engine.Mutate(ctx, f.rounds[0].ID, finalizeMutation(ctx, first.ID, nil))
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, result.PreviousStatus)
	assert.False(t, result.JustCompleted)

	stored := f.reload(t, 0)
	assert.Equal(t, models.StatusDoing, stored.Status)
	assert.Nil(t, stored.ActualTime)
	// the activated round is not rolled back
	assert.Equal(t, models.StatusDoing, f.reload(t, 1).Status)
}

func TestMutate_DeletingLastOpenBusCompletesRound(t *testing.T) {
	f := seedTrip(t, newTestDB(t), 2, 2)
	f.addRoundBus(t, 0, 0, at(30*time.Minute))
	open := f.addRoundBus(t, 0, 1, nil)
	engine := newEngine(f.db)
	ctx := context.Background()

	_, err := engine.Sync(ctx, f.rounds[0].ID, models.StatusPlanned)
	require.NoError(t, err)
	require.Equal(t, models.StatusDoing, f.reload(t, 0).Status)

	result, err := engine.Mutate(ctx, f.rounds[0].ID, func(repo *repositories.RoundRepository, round *models.Round) error {
		rb, err := repo.GetRoundBus(ctx, open.ID)
		if err != nil {
			return err
		}
		return repo.DeleteRoundBus(ctx, rb)
	})
	require.NoError(t, err)

	assert.True(t, result.JustCompleted)
	stored := f.reload(t, 0)
	assert.Equal(t, models.StatusDone, stored.Status)
	require.NotNil(t, stored.ActualTime)
	assert.True(t, at(30*time.Minute).Equal(*stored.ActualTime))
	assert.Equal(t, models.StatusDoing, f.reload(t, 1).Status)
}

func TestSync_EmptyRoundNeverCompletes(t *testing.T) {
	f := seedTrip(t, newTestDB(t), 1, 2)
	require.NoError(t, f.db.Model(&models.Round{}).Where("id = ?", f.rounds[0].ID).
		Updates(map[string]interface{}{"status": models.StatusDone, "actual_time": baseTime}).Error)

	result, err := newEngine(f.db).Sync(context.Background(), f.rounds[0].ID, models.StatusPlanned)
	require.NoError(t, err)

	assert.False(t, result.JustCompleted)
	stored := f.reload(t, 0)
	assert.Equal(t, models.StatusPlanned, stored.Status)
	assert.Nil(t, stored.ActualTime)
	assert.Equal(t, models.StatusPlanned, f.reload(t, 1).Status)
}

func TestMutate_ErrorRollsBack(t *testing.T) {
	f := seedTrip(t, newTestDB(t), 1, 1)
	rb := f.addRoundBus(t, 0, 0, nil)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := newEngine(f.db).Mutate(ctx, f.rounds[0].ID, func(repo *repositories.RoundRepository, round *models.Round) error {
		if err := finalizeMutation(ctx, rb.ID, at(time.Hour))(repo, round); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var stored models.RoundBus
	require.NoError(t, f.db.First(&stored, "id = ?", rb.ID).Error)
	assert.Nil(t, stored.FinalizedAt)
	assert.Equal(t, models.StatusPlanned, f.reload(t, 0).Status)
}

func TestSync_UnknownRound(t *testing.T) {
	db := newTestDB(t)
	_, err := newEngine(db).Sync(context.Background(), uuid.NewString(), models.StatusPlanned)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestReconcileTrip_RepairsWithoutCascading(t *testing.T) {
	f := seedTrip(t, newTestDB(t), 1, 3)
	f.addRoundBus(t, 0, 0, at(time.Hour))
	f.addRoundBus(t, 1, 0, nil)

	corrected, err := newEngine(f.db).ReconcileTrip(context.Background(), f.trip.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, corrected)

	assert.Equal(t, models.StatusDone, f.reload(t, 0).Status)
	assert.Equal(t, models.StatusPlanned, f.reload(t, 1).Status)
	assert.Equal(t, models.StatusPlanned, f.reload(t, 2).Status)
}

func TestReconcileActiveTrips_SkipsDoneTrips(t *testing.T) {
	f := seedTrip(t, newTestDB(t), 1, 1)
	f.addRoundBus(t, 0, 0, at(time.Hour))
	require.NoError(t, f.db.Model(&f.trip).Update("status", models.StatusDone).Error)

	corrected, err := newEngine(f.db).ReconcileActiveTrips(context.Background())
	require.NoError(t, err)
	assert.Zero(t, corrected)
	assert.Equal(t, models.StatusPlanned, f.reload(t, 0).Status)
}
