// File: /services/trip_service.go
package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"tourops-api/models"
	"tourops-api/repositories"
)

// TripService owns writes that span a trip and its buses.
type TripService struct {
	trips    *repositories.TripRepository
	progress *RoundProgressService
	logger   *zap.Logger
}

func NewTripService(trips *repositories.TripRepository, progress *RoundProgressService, logger *zap.Logger) *TripService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TripService{
		trips:    trips,
		progress: progress,
		logger:   logger,
	}
}

// CreateTrip inserts the trip and its bus assignments atomically
func (s *TripService) CreateTrip(ctx context.Context, trip *models.Trip, assignments []models.BusAssignment) error {
	return s.trips.Transaction(ctx, func(repo *repositories.TripRepository) error {
		users, err := s.validateAssignments(ctx, repo, 0, trip.TenantID, assignments)
		if err != nil {
			return err
		}
		if err := repo.CreateTrip(ctx, trip); err != nil {
			return err
		}
		if len(assignments) == 0 {
			return nil
		}
		return s.syncTripBuses(ctx, repo, trip, assignments, users)
	})
}

// UpdateTrip applies field updates and, when assignments is non-nil,
// replaces the trip's bus assignments with it.
func (s *TripService) UpdateTrip(ctx context.Context, trip *models.Trip, updates map[string]interface{}, assignments []models.BusAssignment) error {
	return s.trips.Transaction(ctx, func(repo *repositories.TripRepository) error {
		if err := repo.UpdateTrip(ctx, trip, updates); err != nil {
			return err
		}
		if assignments == nil {
			return nil
		}
		users, err := s.validateAssignments(ctx, repo, trip.ID, trip.TenantID, assignments)
		if err != nil {
			return err
		}
		return s.syncTripBuses(ctx, repo, trip, assignments, users)
	})
}

// DeleteTrip removes a trip together with everything that hangs off it
func (s *TripService) DeleteTrip(ctx context.Context, trip *models.Trip) error {
	return s.trips.Transaction(ctx, func(repo *repositories.TripRepository) error {
		db := repo.DB().WithContext(ctx)
		rounds := db.Model(&models.Round{}).Select("id").Where("trip_id = ?", trip.ID)
		roundBuses := db.Model(&models.RoundBus{}).Select("id").Where("round_id IN (?)", rounds)
		passengers := db.Model(&models.Passenger{}).Select("id").Where("trip_id = ?", trip.ID)

		steps := []struct {
			what string
			run  func() error
		}{
			{"transactions", func() error {
				return db.Where("round_bus_id IN (?)", roundBuses).Delete(&models.Transaction{}).Error
			}},
			{"round buses", func() error {
				return db.Where("round_id IN (?)", rounds).Delete(&models.RoundBus{}).Error
			}},
			{"rounds", func() error { return db.Where("trip_id = ?", trip.ID).Delete(&models.Round{}).Error }},
			{"transfers", func() error {
				return db.Where("passenger_id IN (?)", passengers).Delete(&models.PassengerTransfer{}).Error
			}},
			{"assignments", func() error {
				return db.Where("trip_id = ?", trip.ID).Delete(&models.PassengerBusAssignment{}).Error
			}},
			{"passengers", func() error { return db.Where("trip_id = ?", trip.ID).Delete(&models.Passenger{}).Error }},
			{"trip buses", func() error { return db.Where("trip_id = ?", trip.ID).Delete(&models.TripBus{}).Error }},
			{"trip", func() error { return db.Delete(trip).Error }},
		}
		for _, step := range steps {
			if err := step.run(); err != nil {
				return fmt.Errorf("failed to delete %s of trip %d: %w", step.what, trip.ID, err)
			}
		}
		return nil
	})
}

// DeleteTripBus removes a trip bus and its round rows, re-syncing the rounds
// that lose a bus.
func (s *TripService) DeleteTripBus(ctx context.Context, tripBus *models.TripBus) error {
	return s.trips.Transaction(ctx, func(repo *repositories.TripRepository) error {
		if err := s.detachTripBuses(ctx, repo, []uint{tripBus.ID}); err != nil {
			return err
		}
		return repo.DB().WithContext(ctx).Delete(tripBus).Error
	})
}

// ResyncRounds recomputes round progress for every round of the trip
func (s *TripService) ResyncRounds(ctx context.Context, tripID uint) (int, error) {
	return s.progress.ReconcileTrip(ctx, tripID)
}

func (s *TripService) validateAssignments(ctx context.Context, repo *repositories.TripRepository, tripID, tenantID uint, assignments []models.BusAssignment) (map[uint]models.User, error) {
	if len(assignments) == 0 {
		return map[uint]models.User{}, nil
	}

	busSeen := make(map[uint]bool)
	managerSeen := make(map[uint]bool)
	driverSeen := make(map[uint]bool)
	var busIDs, managerIDs, driverIDs, userIDs []uint

	for _, a := range assignments {
		if busSeen[a.BusID] {
			return nil, invalid("each bus can only be assigned once per trip")
		}
		if managerSeen[a.ManagerID] {
			return nil, invalid("each fleet lead can only lead one bus per trip")
		}
		if driverSeen[a.DriverID] {
			return nil, invalid("each driver can only drive one bus per trip")
		}
		busSeen[a.BusID] = true
		managerSeen[a.ManagerID] = true
		driverSeen[a.DriverID] = true

		busIDs = append(busIDs, a.BusID)
		managerIDs = append(managerIDs, a.ManagerID)
		driverIDs = append(driverIDs, a.DriverID)
		userIDs = append(userIDs, a.ManagerID, a.DriverID)
	}

	found, err := repo.CountBuses(ctx, busIDs)
	if err != nil {
		return nil, err
	}
	if found != int64(len(busIDs)) {
		return nil, invalid("unknown bus in bus_assignments")
	}

	users, err := repo.UsersByID(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	check := func(id uint, label string, capability Capability, reason string) error {
		u, ok := users[id]
		if !ok {
			return invalid(fmt.Sprintf("%s %d not found", label, id))
		}
		if u.TenantID != nil && *u.TenantID != tenantID {
			return invalid(fmt.Sprintf("%s %d belongs to another tenant", label, id))
		}
		if !Can(PrincipalFromUser(&u), capability) {
			return invalid(reason)
		}
		return nil
	}
	for _, a := range assignments {
		if err := check(a.ManagerID, "manager", CapLeadBus, "manager must be a fleet lead or admin-level user"); err != nil {
			return nil, err
		}
		if err := check(a.DriverID, "driver", CapDriveBus, "driver must have role 'driver'"); err != nil {
			return nil, err
		}
	}

	if tripID != 0 {
		conflict, err := repo.HasAssignmentConflict(ctx, tripID, "manager_id", managerIDs, busIDs)
		if err != nil {
			return nil, err
		}
		if conflict {
			return nil, invalid("fleet lead is already assigned to another bus of this trip")
		}
		conflict, err = repo.HasAssignmentConflict(ctx, tripID, "driver_id", driverIDs, busIDs)
		if err != nil {
			return nil, err
		}
		if conflict {
			return nil, invalid("driver is already assigned to another bus of this trip")
		}
	}

	return users, nil
}

func (s *TripService) syncTripBuses(ctx context.Context, repo *repositories.TripRepository, trip *models.Trip, assignments []models.BusAssignment, users map[uint]models.User) error {
	existing, err := repo.ListTripBuses(ctx, trip.ID)
	if err != nil {
		return err
	}

	desired := make(map[uint]models.BusAssignment, len(assignments))
	keep := make([]uint, 0, len(assignments))
	for _, a := range assignments {
		desired[a.BusID] = a
		keep = append(keep, a.BusID)
	}

	current := make(map[uint]models.TripBus, len(existing))
	var removed []uint
	for _, tb := range existing {
		if _, ok := desired[tb.BusID]; ok {
			current[tb.BusID] = tb
		} else {
			removed = append(removed, tb.ID)
		}
	}

	if err := s.detachTripBuses(ctx, repo, removed); err != nil {
		return err
	}
	if err := repo.DeleteTripBusesExcept(ctx, trip.ID, keep); err != nil {
		return err
	}

	for _, a := range assignments {
		driverID := a.DriverID
		tb, ok := current[a.BusID]
		if !ok {
			tb = models.TripBus{TripID: trip.ID, BusID: a.BusID}
		}
		tb.ManagerID = a.ManagerID
		tb.DriverID = &driverID
		tb.DriverName = users[a.DriverID].Name
		if err := repo.SaveTripBus(ctx, &tb); err != nil {
			return err
		}
	}

	s.logger.Info("Trip buses synced",
		zap.Uint("trip_id", trip.ID),
		zap.Int("assigned", len(assignments)),
		zap.Int("removed", len(removed)),
	)
	return nil
}

// detachTripBuses deletes the RoundBus rows of the given trip buses and
// re-syncs each affected round under its lock.
func (s *TripService) detachTripBuses(ctx context.Context, repo *repositories.TripRepository, tripBusIDs []uint) error {
	if len(tripBusIDs) == 0 {
		return nil
	}

	roundRepo := repositories.NewRoundRepository(repo.DB())
	roundIDs, err := roundRepo.RoundIDsForTripBuses(ctx, tripBusIDs)
	if err != nil {
		return err
	}

	for _, id := range roundIDs {
		round, err := roundRepo.LockRound(ctx, id)
		if err != nil {
			return err
		}
		previous := round.Status
		if err := roundRepo.DeleteRoundBusesOfTripBuses(ctx, id, tripBusIDs); err != nil {
			return err
		}
		if _, err := s.progress.SyncTx(ctx, roundRepo, round, previous); err != nil {
			return err
		}
	}
	return nil
}
