// File: /services/round_progress_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"tourops-api/models"
	"tourops-api/repositories"
)

// SyncResult describes what a sync did to a round.
type SyncResult struct {
	Round          *models.Round
	PreviousStatus models.ProgressStatus
	Changed        bool
	JustCompleted  bool
	// Activated is the next round moved to doing by the cascade, if any.
	Activated *models.Round
}

// RoundMutation changes RoundBus rows of a locked round. repo is bound to
// the surrounding transaction.
type RoundMutation func(repo *repositories.RoundRepository, round *models.Round) error

// RoundProgressService derives round status and actual time from the
// finalize state of the round's buses and activates the next round once a
// round completes.
type RoundProgressService struct {
	repo   *repositories.RoundRepository
	logger *zap.Logger
}

func NewRoundProgressService(repo *repositories.RoundRepository, logger *zap.Logger) *RoundProgressService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoundProgressService{
		repo:   repo,
		logger: logger,
	}
}

// Mutate locks the round, applies fn and syncs, all in one transaction.
// The previous status handed to the sync is the one read under the lock.
func (s *RoundProgressService) Mutate(ctx context.Context, roundID string, fn RoundMutation) (*SyncResult, error) {
	var result *SyncResult
	err := s.repo.Transaction(ctx, func(repo *repositories.RoundRepository) error {
		round, err := repo.LockRound(ctx, roundID)
		if err != nil {
			return err
		}
		previous := round.Status

		if fn != nil {
			if err := fn(repo, round); err != nil {
				return err
			}
		}

		result, err = s.SyncTx(ctx, repo, round, previous)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Sync locks the round and recomputes its progress against previous.
func (s *RoundProgressService) Sync(ctx context.Context, roundID string, previous models.ProgressStatus) (*SyncResult, error) {
	var result *SyncResult
	err := s.repo.Transaction(ctx, func(repo *repositories.RoundRepository) error {
		round, err := repo.LockRound(ctx, roundID)
		if err != nil {
			return err
		}
		result, err = s.SyncTx(ctx, repo, round, previous)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SyncTx recomputes round progress with repo, which the caller has bound to
// a transaction holding the round's lock. Only changed columns are written.
func (s *RoundProgressService) SyncTx(ctx context.Context, repo *repositories.RoundRepository, round *models.Round, previous models.ProgressStatus) (*SyncResult, error) {
	return s.sync(ctx, repo, round, previous, true)
}

func (s *RoundProgressService) sync(ctx context.Context, repo *repositories.RoundRepository, round *models.Round, previous models.ProgressStatus, cascade bool) (*SyncResult, error) {
	progress, err := repo.GetBusProgress(ctx, round.ID)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Round: round, PreviousStatus: previous}
	updates := make(map[string]interface{})

	if progress.AllFinalized() {
		latest := *progress.LatestFinalizedAt
		if round.ActualTime == nil || !round.ActualTime.Equal(latest) {
			updates["actual_time"] = latest
		}
		if round.Status != models.StatusDone {
			updates["status"] = models.StatusDone
		}
		result.JustCompleted = previous != models.StatusDone
	} else {
		target := models.StatusPlanned
		if progress.FinalizedCount > 0 {
			target = models.StatusDoing
		}
		if round.Status != target {
			updates["status"] = target
		}
		if round.ActualTime != nil {
			updates["actual_time"] = nil
		}
	}

	if len(updates) > 0 {
		if err := repo.UpdateRoundFields(ctx, round, updates); err != nil {
			return nil, err
		}
		applyRoundUpdates(round, updates)
		result.Changed = true

		s.logger.Debug("Round progress synced",
			zap.String("round_id", round.ID),
			zap.String("previous_status", string(previous)),
			zap.String("status", string(round.Status)),
			zap.Int("finalized", progress.FinalizedCount),
			zap.Int("total", progress.Total),
		)
	}

	if cascade && result.JustCompleted {
		activated, err := s.activateNext(ctx, repo, round)
		if err != nil {
			return nil, err
		}
		result.Activated = activated
	}

	return result, nil
}

// activateNext moves the next planned round of the trip to doing, unless some
// other round of the trip is already in progress.
func (s *RoundProgressService) activateNext(ctx context.Context, repo *repositories.RoundRepository, round *models.Round) (*models.Round, error) {
	busy, err := repo.HasOtherDoingRound(ctx, round.TripID, round.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check running rounds: %w", err)
	}
	if busy {
		return nil, nil
	}

	next, err := repo.LockNextRound(ctx, round.TripID, round.Sequence)
	if err != nil {
		return nil, fmt.Errorf("failed to load next round: %w", err)
	}
	if next == nil || next.Status != models.StatusPlanned {
		return nil, nil
	}

	if err := repo.UpdateRoundFields(ctx, next, map[string]interface{}{"status": models.StatusDoing}); err != nil {
		return nil, err
	}
	next.Status = models.StatusDoing

	s.logger.Info("Next round activated",
		zap.String("completed_round_id", round.ID),
		zap.String("round_id", next.ID),
		zap.Uint("trip_id", next.TripID),
		zap.Uint("sequence", next.Sequence),
	)
	return next, nil
}

// ReconcileTrip re-syncs every round of a trip in sequence order without
// activating next rounds. It returns how many rounds were corrected.
func (s *RoundProgressService) ReconcileTrip(ctx context.Context, tripID uint) (int, error) {
	ids, err := s.repo.ListTripRoundIDs(ctx, tripID)
	if err != nil {
		return 0, fmt.Errorf("failed to list rounds of trip %d: %w", tripID, err)
	}

	corrected := 0
	for _, id := range ids {
		err := s.repo.Transaction(ctx, func(repo *repositories.RoundRepository) error {
			round, err := repo.LockRound(ctx, id)
			if err != nil {
				return err
			}
			result, err := s.sync(ctx, repo, round, round.Status, false)
			if err != nil {
				return err
			}
			if result.Changed {
				corrected++
			}
			return nil
		})
		if err != nil {
			return corrected, err
		}
	}
	return corrected, nil
}

// ReconcileActiveTrips reconciles every trip that is not done yet.
func (s *RoundProgressService) ReconcileActiveTrips(ctx context.Context) (int, error) {
	tripIDs, err := s.repo.ListActiveTripIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active trips: %w", err)
	}

	corrected := 0
	for _, tripID := range tripIDs {
		n, err := s.ReconcileTrip(ctx, tripID)
		corrected += n
		if err != nil {
			return corrected, err
		}
	}
	return corrected, nil
}

func applyRoundUpdates(round *models.Round, updates map[string]interface{}) {
	if status, ok := updates["status"].(models.ProgressStatus); ok {
		round.Status = status
	}
	if v, ok := updates["actual_time"]; ok {
		if v == nil {
			round.ActualTime = nil
		} else if at, ok := v.(time.Time); ok {
			round.ActualTime = &at
		}
	}
}
