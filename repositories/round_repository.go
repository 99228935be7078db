// File: /repositories/round_repository.go
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"tourops-api/models"
)

var ErrNotFound = errors.New("record not found")

// RoundRepository is the source of truth for round progress. Every method
// runs against whatever *gorm.DB it holds, so a repository obtained from
// Transaction is bound to that transaction.
type RoundRepository struct {
	db *gorm.DB
}

func NewRoundRepository(db *gorm.DB) *RoundRepository {
	return &RoundRepository{db: db}
}

// DB exposes the underlying handle, the transaction when inside Transaction
func (r *RoundRepository) DB() *gorm.DB {
	return r.db
}

// Transaction runs fn with a repository bound to a new transaction
func (r *RoundRepository) Transaction(ctx context.Context, fn func(repo *RoundRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&RoundRepository{db: tx})
	})
}

// LockRound loads a round and holds its row lock until the transaction ends.
// Must be called inside Transaction.
func (r *RoundRepository) LockRound(ctx context.Context, roundID string) (*models.Round, error) {
	var round models.Round
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&round, "id = ?", roundID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock round %s: %w", roundID, err)
	}
	return &round, nil
}

// GetRound loads a round without locking
func (r *RoundRepository) GetRound(ctx context.Context, roundID string) (*models.Round, error) {
	var round models.Round
	if err := r.db.WithContext(ctx).First(&round, "id = ?", roundID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &round, nil
}

// GetBusProgress aggregates the finalize state of a round's buses
func (r *RoundRepository) GetBusProgress(ctx context.Context, roundID string) (models.RoundBusProgress, error) {
	var rows []sql.NullTime
	err := r.db.WithContext(ctx).
		Model(&models.RoundBus{}).
		Where("round_id = ?", roundID).
		Pluck("finalized_at", &rows).Error
	if err != nil {
		return models.RoundBusProgress{}, fmt.Errorf("failed to aggregate round buses: %w", err)
	}

	finalized := make([]*time.Time, len(rows))
	for i, row := range rows {
		if row.Valid {
			at := row.Time
			finalized[i] = &at
		}
	}
	return models.SummarizeFinalizedAt(finalized), nil
}

// UpdateRoundFields writes only the given columns of a round
func (r *RoundRepository) UpdateRoundFields(ctx context.Context, round *models.Round, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Model(round).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update round %s: %w", round.ID, err)
	}
	return nil
}

// HasOtherDoingRound reports whether a round other than excludeID is in progress
func (r *RoundRepository) HasOtherDoingRound(ctx context.Context, tripID uint, excludeID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Round{}).
		Where("trip_id = ? AND status = ? AND id <> ?", tripID, models.StatusDoing, excludeID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// LockNextRound returns the round with the smallest sequence greater than
// sequence, locked for update, or nil when there is none.
func (r *RoundRepository) LockNextRound(ctx context.Context, tripID uint, sequence uint) (*models.Round, error) {
	var rounds []models.Round
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("trip_id = ? AND sequence > ?", tripID, sequence).
		Order("sequence ASC").
		Limit(1).
		Find(&rounds).Error
	if err != nil {
		return nil, err
	}
	if len(rounds) == 0 {
		return nil, nil
	}
	return &rounds[0], nil
}

// ListTripRoundIDs returns a trip's round ids in sequence order
func (r *RoundRepository) ListTripRoundIDs(ctx context.Context, tripID uint) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Round{}).
		Where("trip_id = ?", tripID).
		Order("sequence ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// ListActiveTripIDs returns trips that are not done and have at least one round
func (r *RoundRepository) ListActiveTripIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.Trip{}).
		Where("status <> ?", models.StatusDone).
		Where("id IN (?)", r.db.Model(&models.Round{}).Select("trip_id")).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// GetRoundBus loads a round bus with its trip bus
func (r *RoundRepository) GetRoundBus(ctx context.Context, id string) (*models.RoundBus, error) {
	var rb models.RoundBus
	if err := r.db.WithContext(ctx).Preload("TripBus").First(&rb, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rb, nil
}

func (r *RoundRepository) CreateRoundBus(ctx context.Context, rb *models.RoundBus) error {
	return r.db.WithContext(ctx).Create(rb).Error
}

func (r *RoundRepository) UpdateRoundBus(ctx context.Context, rb *models.RoundBus, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(rb).Updates(updates).Error
}

func (r *RoundRepository) DeleteRoundBus(ctx context.Context, rb *models.RoundBus) error {
	return r.db.WithContext(ctx).Delete(rb).Error
}

// RoundIDsForTripBuses returns the rounds that have a RoundBus for any of tripBusIDs
func (r *RoundRepository) RoundIDsForTripBuses(ctx context.Context, tripBusIDs []uint) ([]string, error) {
	var ids []string
	if len(tripBusIDs) == 0 {
		return ids, nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.RoundBus{}).
		Distinct("round_id").
		Where("trip_bus_id IN ?", tripBusIDs).
		Order("round_id").
		Pluck("round_id", &ids).Error
	return ids, err
}

// DeleteRoundBusesOfTripBuses removes a round's rows for the given trip buses
func (r *RoundRepository) DeleteRoundBusesOfTripBuses(ctx context.Context, roundID string, tripBusIDs []uint) error {
	return r.db.WithContext(ctx).
		Where("round_id = ? AND trip_bus_id IN ?", roundID, tripBusIDs).
		Delete(&models.RoundBus{}).Error
}
