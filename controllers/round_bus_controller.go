// File: /controllers/round_bus_controller.go
package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"tourops-api/middleware"
	"tourops-api/models"
	"tourops-api/repositories"
	"tourops-api/services"
	"tourops-api/utils"
)

const (
	roundBusEntity = "round_bus"
	roundEntity    = "round"
)

// RoundBusController writes RoundBus rows. Every write runs through the
// progress engine so the owning round is re-synced in the same transaction.
type RoundBusController struct {
	db           *gorm.DB
	rounds       *repositories.RoundRepository
	progress     *services.RoundProgressService
	notifier     services.Notifier
	emailService *services.EmailService
	logger       *zap.Logger
}

func NewRoundBusController(db *gorm.DB, progress *services.RoundProgressService, notifier services.Notifier, emailService *services.EmailService, logger *zap.Logger) *RoundBusController {
	if notifier == nil {
		notifier = services.NopNotifier{}
	}
	return &RoundBusController{
		db:           db,
		rounds:       repositories.NewRoundRepository(db),
		progress:     progress,
		notifier:     notifier,
		emailService: emailService,
		logger:       logger,
	}
}

func (rbc *RoundBusController) GetRoundBuses(c *gin.Context) {
	page := utils.ParsePage(c)
	query := rbc.db.WithContext(c.Request.Context()).
		Model(&models.RoundBus{}).
		Scopes(repositories.RoundBusesOfTenant(tenantScope(c)))

	if roundID := c.Query("round"); roundID != "" {
		query = query.Where("round_buses.round_id = ?", roundID)
	}
	tripBusID, present, ok := queryUint(c, "trip_bus")
	if !ok {
		return
	}
	if present {
		query = query.Where("round_buses.trip_bus_id = ?", tripBusID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		respondError(c, rbc.logger, err, "")
		return
	}

	var roundBuses []models.RoundBus
	err := query.Preload("TripBus").
		Scopes(page.Scope()).
		Order("round_buses.round_id ASC, round_buses.trip_bus_id ASC").
		Find(&roundBuses).Error
	if err != nil {
		respondError(c, rbc.logger, err, "")
		return
	}

	utils.SendPaginated(c, roundBuses, page, total)
}

func (rbc *RoundBusController) GetRoundBus(c *gin.Context) {
	rb, err := rbc.load(c)
	if err != nil {
		respondError(c, rbc.logger, err, "Round bus not found")
		return
	}
	utils.SendSuccess(c, rb)
}

func (rbc *RoundBusController) CreateRoundBus(c *gin.Context) {
	var req models.CreateRoundBusRequest
	if !bindJSON(c, &req) {
		return
	}

	round, err := loadRound(c, rbc.db, req.RoundID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendValidationError(c, "round does not exist")
			return
		}
		respondError(c, rbc.logger, err, "")
		return
	}
	if err := checkTripBus(c, rbc.db, round.TripID, req.TripBusID); err != nil {
		respondError(c, rbc.logger, err, "")
		return
	}

	rb := models.RoundBus{
		RoundID:     round.ID,
		TripBusID:   req.TripBusID,
		FinalizedAt: req.FinalizedAt,
	}
	if req.FinalizedAt != nil {
		userID := middleware.CurrentPrincipal(c).UserID
		rb.FinalizedBy = &userID
	}

	ctx := c.Request.Context()
	result, err := rbc.progress.Mutate(ctx, round.ID, func(repo *repositories.RoundRepository, _ *models.Round) error {
		return repo.CreateRoundBus(ctx, &rb)
	})
	if err != nil {
		respondError(c, rbc.logger, err, "Round not found")
		return
	}

	rbc.afterMutation(ctx, round.Trip, "created", nil, &rb, result)
	rb.Round = result.Round
	utils.SendCreated(c, rb)
}

func (rbc *RoundBusController) UpdateRoundBus(c *gin.Context) {
	rb, err := rbc.load(c)
	if err != nil {
		respondError(c, rbc.logger, err, "Round bus not found")
		return
	}

	var req models.UpdateRoundBusRequest
	if !bindJSON(c, &req) {
		return
	}

	updates := map[string]interface{}{}
	if req.TripBusID != nil && *req.TripBusID != rb.TripBusID {
		if err := checkTripBus(c, rbc.db, rb.Round.TripID, *req.TripBusID); err != nil {
			respondError(c, rbc.logger, err, "")
			return
		}
		updates["trip_bus_id"] = *req.TripBusID
	}
	if req.FinalizedAt.Set {
		if req.FinalizedAt.Value != nil {
			updates["finalized_at"] = *req.FinalizedAt.Value
			updates["finalized_by"] = middleware.CurrentPrincipal(c).UserID
		} else {
			updates["finalized_at"] = nil
			updates["finalized_by"] = nil
		}
	}

	rbc.apply(c, rb, "updated", func(*models.RoundBus) map[string]interface{} { return updates })
}

// Finalize marks the caller's bus as done with the round
func (rbc *RoundBusController) Finalize(c *gin.Context) {
	rb, err := rbc.load(c)
	if err != nil {
		respondError(c, rbc.logger, err, "Round bus not found")
		return
	}

	userID := middleware.CurrentPrincipal(c).UserID
	rbc.apply(c, rb, "finalized", func(current *models.RoundBus) map[string]interface{} {
		if current.FinalizedAt != nil {
			return nil
		}
		return map[string]interface{}{
			"finalized_at": time.Now().UTC(),
			"finalized_by": userID,
		}
	})
}

func (rbc *RoundBusController) Unfinalize(c *gin.Context) {
	rb, err := rbc.load(c)
	if err != nil {
		respondError(c, rbc.logger, err, "Round bus not found")
		return
	}

	rbc.apply(c, rb, "unfinalized", func(current *models.RoundBus) map[string]interface{} {
		if current.FinalizedAt == nil {
			return nil
		}
		return map[string]interface{}{
			"finalized_at": nil,
			"finalized_by": nil,
		}
	})
}

// DeleteRoundBus removes the row and its check-ins, then re-syncs the round
func (rbc *RoundBusController) DeleteRoundBus(c *gin.Context) {
	rb, err := rbc.load(c)
	if err != nil {
		respondError(c, rbc.logger, err, "Round bus not found")
		return
	}

	ctx := c.Request.Context()
	var before *time.Time
	result, err := rbc.progress.Mutate(ctx, rb.RoundID, func(repo *repositories.RoundRepository, _ *models.Round) error {
		current, err := repo.GetRoundBus(ctx, rb.ID)
		if err != nil {
			return err
		}
		before = current.FinalizedAt
		if err := repo.DB().WithContext(ctx).Where("round_bus_id = ?", current.ID).Delete(&models.Transaction{}).Error; err != nil {
			return err
		}
		return repo.DeleteRoundBus(ctx, current)
	})
	if err != nil {
		respondError(c, rbc.logger, err, "Round bus not found")
		return
	}

	event := services.NewEvent(roundBusEntity, rb.ID, rb.Round.Trip.TenantID, "deleted")
	event.Before = map[string]interface{}{"finalized_at": before}
	event.Deleted = true
	rbc.notifier.Notify(ctx, event)
	rbc.afterMutation(ctx, rb.Round.Trip, "", nil, nil, result)

	utils.SendSuccess(c, gin.H{"message": "Round bus deleted successfully"})
}

// apply runs a RoundBus update under the round lock. changes receives the
// row as read under the lock and returns the columns to write, or nil for
// no change.
func (rbc *RoundBusController) apply(c *gin.Context, rb *models.RoundBus, action string, changes func(current *models.RoundBus) map[string]interface{}) {
	ctx := c.Request.Context()

	var before *time.Time
	result, err := rbc.progress.Mutate(ctx, rb.RoundID, func(repo *repositories.RoundRepository, _ *models.Round) error {
		current, err := repo.GetRoundBus(ctx, rb.ID)
		if err != nil {
			return err
		}
		before = current.FinalizedAt
		return repo.UpdateRoundBus(ctx, current, changes(current))
	})
	if err != nil {
		respondError(c, rbc.logger, err, "Round bus not found")
		return
	}

	updated, err := rbc.rounds.GetRoundBus(ctx, rb.ID)
	if err != nil {
		respondError(c, rbc.logger, err, "Round bus not found")
		return
	}

	rbc.afterMutation(ctx, rb.Round.Trip, action, before, updated, result)
	updated.Round = result.Round
	utils.SendSuccess(c, updated)
}

// afterMutation publishes the changes of a committed RoundBus write and
// mails the trip's bus leads when the round has just completed.
func (rbc *RoundBusController) afterMutation(ctx context.Context, trip *models.Trip, action string, before *time.Time, rb *models.RoundBus, result *services.SyncResult) {
	if rb != nil && finalizedChanged(before, rb.FinalizedAt) {
		event := services.NewEvent(roundBusEntity, rb.ID, trip.TenantID, action)
		event.Before = map[string]interface{}{"finalized_at": before}
		event.After = map[string]interface{}{
			"finalized_at": rb.FinalizedAt,
			"finalized_by": rb.FinalizedBy,
			"round_id":     rb.RoundID,
			"trip_bus_id":  rb.TripBusID,
		}
		rbc.notifier.Notify(ctx, event)
	}

	if result == nil || result.Round == nil {
		return
	}

	if result.Changed {
		event := services.NewEvent(roundEntity, result.Round.ID, trip.TenantID, "progress")
		event.Before = map[string]interface{}{"status": result.PreviousStatus}
		event.After = map[string]interface{}{
			"status":      result.Round.Status,
			"actual_time": result.Round.ActualTime,
		}
		rbc.notifier.Notify(ctx, event)
	}

	if result.Activated != nil {
		rbc.logger.Info("Next round activated",
			zap.String("round_id", result.Round.ID),
			zap.String("activated_round_id", result.Activated.ID),
			zap.Uint("trip_id", trip.ID),
		)
		event := services.NewEvent(roundEntity, result.Activated.ID, trip.TenantID, "activated")
		event.After = map[string]interface{}{"status": result.Activated.Status}
		rbc.notifier.Notify(ctx, event)
	}

	if result.JustCompleted {
		rbc.mailLeads(ctx, trip, result.Round)
	}
}

func (rbc *RoundBusController) mailLeads(ctx context.Context, trip *models.Trip, round *models.Round) {
	if rbc.emailService == nil {
		return
	}

	var recipients []string
	err := rbc.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id IN (?)", rbc.db.Model(&models.TripBus{}).Select("manager_id").Where("trip_id = ?", trip.ID)).
		Where("email <> ''").
		Pluck("email", &recipients).Error
	if err != nil {
		rbc.logger.Warn("Failed to load round completion recipients", zap.String("round_id", round.ID), zap.Error(err))
		return
	}

	rbc.emailService.QueueRoundCompletedEmail(*trip, *round, recipients)
}

// load fetches a round bus visible to the caller with its round and trip
func (rbc *RoundBusController) load(c *gin.Context) (*models.RoundBus, error) {
	var rb models.RoundBus
	err := rbc.db.WithContext(c.Request.Context()).
		Scopes(repositories.RoundBusesOfTenant(tenantScope(c))).
		Preload("Round.Trip").
		Preload("TripBus").
		First(&rb, "round_buses.id = ?", c.Param("id")).Error
	if err != nil {
		return nil, err
	}
	return &rb, nil
}

func finalizedChanged(before, after *time.Time) bool {
	if before == nil || after == nil {
		return before != after
	}
	return !before.Equal(*after)
}
