// File: /controllers/helpers.go
package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"tourops-api/middleware"
	"tourops-api/models"
	"tourops-api/repositories"
	"tourops-api/services"
	"tourops-api/utils"
)

// tenantScope is the tenant the caller's queries are limited to, or 0 when
// the caller may see every tenant.
func tenantScope(c *gin.Context) uint {
	p := middleware.CurrentPrincipal(c)
	if services.Can(p, services.CapViewAllTenants) {
		return 0
	}
	return p.Tenant()
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		utils.SendErrorMessage(c, http.StatusBadRequest, "Invalid id", "id must be a positive integer")
		return 0, false
	}
	return uint(id), true
}

// queryUint reads an optional numeric filter; ok is false when the value is
// present but malformed and a 400 has been written.
func queryUint(c *gin.Context, key string) (value uint, present bool, ok bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, false, true
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		utils.SendErrorMessage(c, http.StatusBadRequest, "Invalid filter", key+" must be a positive integer")
		return 0, false, false
	}
	return uint(n), true, true
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			utils.SendValidationError(c, utils.ValidationMessage(err))
		} else {
			utils.SendValidationError(c, err.Error())
		}
		return false
	}
	return true
}

// respondError maps domain and storage errors onto HTTP statuses
func respondError(c *gin.Context, logger *zap.Logger, err error, notFound string) {
	var verr *services.ValidationError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, repositories.ErrNotFound):
		utils.SendError(c, http.StatusNotFound, notFound)
	case errors.As(err, &verr):
		utils.SendValidationError(c, verr.Message)
	case utils.IsDuplicateKey(err):
		utils.SendErrorMessage(c, http.StatusConflict, "Conflict", "a record with the same unique fields already exists")
	default:
		logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		utils.SendError(c, http.StatusInternalServerError, "Internal server error")
	}
}

func forbid(c *gin.Context, message string) {
	utils.SendErrorMessage(c, http.StatusForbidden, "Forbidden", message)
}

// loadTrip fetches a trip visible to the caller
func loadTrip(c *gin.Context, db *gorm.DB, id uint) (*models.Trip, error) {
	var trip models.Trip
	err := db.WithContext(c.Request.Context()).
		Scopes(repositories.TripsOfTenant(tenantScope(c))).
		First(&trip, id).Error
	if err != nil {
		return nil, err
	}
	return &trip, nil
}

// loadTripBus fetches a trip bus whose trip is visible to the caller
func loadTripBus(c *gin.Context, db *gorm.DB, id uint) (*models.TripBus, error) {
	var tripBus models.TripBus
	err := db.WithContext(c.Request.Context()).
		Scopes(repositories.ByTripOfTenant("trip_buses", tenantScope(c))).
		Preload("Trip").
		First(&tripBus, id).Error
	if err != nil {
		return nil, err
	}
	return &tripBus, nil
}

// loadRound fetches a round whose trip is visible to the caller
func loadRound(c *gin.Context, db *gorm.DB, id string) (*models.Round, error) {
	var round models.Round
	err := db.WithContext(c.Request.Context()).
		Scopes(repositories.ByTripOfTenant("rounds", tenantScope(c))).
		Preload("Trip").
		First(&round, "rounds.id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &round, nil
}

// checkTripBus rejects a trip bus that is not part of tripID
func checkTripBus(c *gin.Context, db *gorm.DB, tripID, tripBusID uint) error {
	var count int64
	err := db.WithContext(c.Request.Context()).
		Model(&models.TripBus{}).
		Where("id = ? AND trip_id = ?", tripBusID, tripID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return &services.ValidationError{Message: "trip bus does not belong to the trip"}
	}
	return nil
}
