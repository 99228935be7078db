// File: /controllers/round_controller.go
package controllers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"tourops-api/models"
	"tourops-api/repositories"
	"tourops-api/utils"
)

type RoundController struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewRoundController(db *gorm.DB, logger *zap.Logger) *RoundController {
	return &RoundController{
		db:     db,
		logger: logger,
	}
}

func (rc *RoundController) GetRounds(c *gin.Context) {
	page := utils.ParsePage(c)
	query := rc.db.WithContext(c.Request.Context()).
		Model(&models.Round{}).
		Scopes(repositories.ByTripOfTenant("rounds", tenantScope(c)))

	tripID, present, ok := queryUint(c, "trip")
	if !ok {
		return
	}
	if present {
		query = query.Where("rounds.trip_id = ?", tripID)
	}
	if status := c.Query("status"); status != "" {
		if !models.ProgressStatus(status).IsValid() {
			utils.SendValidationError(c, "status must be one of planned, doing, done")
			return
		}
		query = query.Where("rounds.status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		respondError(c, rc.logger, err, "")
		return
	}

	var rounds []models.Round
	err := query.Scopes(page.Scope()).
		Order("rounds.trip_id ASC, rounds.sequence ASC").
		Find(&rounds).Error
	if err != nil {
		respondError(c, rc.logger, err, "")
		return
	}

	utils.SendPaginated(c, rounds, page, total)
}

func (rc *RoundController) GetRound(c *gin.Context) {
	var round models.Round
	err := rc.db.WithContext(c.Request.Context()).
		Scopes(repositories.ByTripOfTenant("rounds", tenantScope(c))).
		Preload("RoundBuses", func(db *gorm.DB) *gorm.DB {
			return db.Order("round_buses.trip_bus_id ASC")
		}).
		First(&round, "rounds.id = ?", c.Param("id")).Error
	if err != nil {
		respondError(c, rc.logger, err, "Round not found")
		return
	}

	utils.SendSuccess(c, round)
}

func (rc *RoundController) CreateRound(c *gin.Context) {
	var req models.CreateRoundRequest
	if !bindJSON(c, &req) {
		return
	}

	trip, err := loadTrip(c, rc.db, req.TripID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendValidationError(c, "trip does not exist")
			return
		}
		respondError(c, rc.logger, err, "")
		return
	}

	round := models.Round{
		TripID:       trip.ID,
		Name:         req.Name,
		Location:     req.Location,
		Sequence:     req.Sequence,
		EstimateTime: req.EstimateTime,
		Status:       models.StatusPlanned,
	}
	if err := rc.db.WithContext(c.Request.Context()).Omit("Trip", "RoundBuses").Create(&round).Error; err != nil {
		respondError(c, rc.logger, err, "")
		return
	}

	utils.SendCreated(c, round)
}

// UpdateRound edits the schedule fields of a round. Status and actual time
// follow the round's buses and cannot be set here.
func (rc *RoundController) UpdateRound(c *gin.Context) {
	round, err := loadRound(c, rc.db, c.Param("id"))
	if err != nil {
		respondError(c, rc.logger, err, "Round not found")
		return
	}

	var req models.UpdateRoundRequest
	if !bindJSON(c, &req) {
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Location != nil {
		updates["location"] = *req.Location
	}
	if req.Sequence != nil {
		updates["sequence"] = *req.Sequence
	}
	if req.EstimateTime != nil {
		updates["estimate_time"] = *req.EstimateTime
	}

	if len(updates) > 0 {
		if err := rc.db.WithContext(c.Request.Context()).Model(&models.Round{ID: round.ID}).Updates(updates).Error; err != nil {
			respondError(c, rc.logger, err, "Round not found")
			return
		}
	}

	var updated models.Round
	if err := rc.db.WithContext(c.Request.Context()).First(&updated, "id = ?", round.ID).Error; err != nil {
		respondError(c, rc.logger, err, "Round not found")
		return
	}
	utils.SendSuccess(c, updated)
}

// DeleteRound removes a round with its buses and their check-ins
func (rc *RoundController) DeleteRound(c *gin.Context) {
	round, err := loadRound(c, rc.db, c.Param("id"))
	if err != nil {
		respondError(c, rc.logger, err, "Round not found")
		return
	}

	err = rc.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		roundBusIDs := tx.Model(&models.RoundBus{}).Select("id").Where("round_id = ?", round.ID)
		if err := tx.Where("round_bus_id IN (?)", roundBusIDs).Delete(&models.Transaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("round_id = ?", round.ID).Delete(&models.RoundBus{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Round{}, "id = ?", round.ID).Error
	})
	if err != nil {
		respondError(c, rc.logger, err, "Round not found")
		return
	}

	utils.SendSuccess(c, gin.H{"message": "Round deleted successfully"})
}
