// File: /repositories/trip_repository.go
package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"tourops-api/models"
)

type TripRepository struct {
	db *gorm.DB
}

func NewTripRepository(db *gorm.DB) *TripRepository {
	return &TripRepository{db: db}
}

func (r *TripRepository) DB() *gorm.DB {
	return r.db
}

// Transaction runs fn with a repository bound to a new transaction
func (r *TripRepository) Transaction(ctx context.Context, fn func(repo *TripRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&TripRepository{db: tx})
	})
}

// GetTrip loads a trip visible to tenantID (0 for any tenant)
func (r *TripRepository) GetTrip(ctx context.Context, id uint, tenantID uint) (*models.Trip, error) {
	var trip models.Trip
	err := r.db.WithContext(ctx).
		Scopes(TripsOfTenant(tenantID)).
		Preload("TripBuses", func(db *gorm.DB) *gorm.DB { return db.Order("trip_buses.id ASC") }).
		First(&trip, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &trip, nil
}

func (r *TripRepository) CreateTrip(ctx context.Context, trip *models.Trip) error {
	return r.db.WithContext(ctx).Omit("TripBuses", "Rounds", "Tenant").Create(trip).Error
}

func (r *TripRepository) UpdateTrip(ctx context.Context, trip *models.Trip, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(trip).Updates(updates).Error
}

func (r *TripRepository) ListTripBuses(ctx context.Context, tripID uint) ([]models.TripBus, error) {
	var tripBuses []models.TripBus
	err := r.db.WithContext(ctx).Where("trip_id = ?", tripID).Order("id ASC").Find(&tripBuses).Error
	return tripBuses, err
}

// HasAssignmentConflict reports whether column (manager_id or driver_id)
// holds one of userIDs on a trip bus of the trip whose bus is not in busIDs.
func (r *TripRepository) HasAssignmentConflict(ctx context.Context, tripID uint, column string, userIDs, busIDs []uint) (bool, error) {
	if len(userIDs) == 0 {
		return false, nil
	}
	query := r.db.WithContext(ctx).Model(&models.TripBus{}).
		Where("trip_id = ?", tripID).
		Where(column+" IN ?", userIDs)
	if len(busIDs) > 0 {
		query = query.Where("bus_id NOT IN ?", busIDs)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// UsersByID loads users with their roles keyed by id
func (r *TripRepository) UsersByID(ctx context.Context, ids []uint) (map[uint]models.User, error) {
	users := make(map[uint]models.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	var found []models.User
	if err := r.db.WithContext(ctx).Preload("Role").Where("id IN ?", ids).Find(&found).Error; err != nil {
		return nil, err
	}
	for _, u := range found {
		users[u.ID] = u
	}
	return users, nil
}

// CountBuses returns how many of ids exist
func (r *TripRepository) CountBuses(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Bus{}).Where("id IN ?", ids).Count(&count).Error
	return count, err
}

// DeleteTripBusesExcept removes trip buses whose bus is not in keep
func (r *TripRepository) DeleteTripBusesExcept(ctx context.Context, tripID uint, keep []uint) error {
	query := r.db.WithContext(ctx).Where("trip_id = ?", tripID)
	if len(keep) > 0 {
		query = query.Where("bus_id NOT IN ?", keep)
	}
	return query.Delete(&models.TripBus{}).Error
}

func (r *TripRepository) SaveTripBus(ctx context.Context, tripBus *models.TripBus) error {
	return r.db.WithContext(ctx).Omit("Trip", "Bus", "Manager", "Driver").Save(tripBus).Error
}
