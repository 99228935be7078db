// File: /controllers/trip_bus_controller.go
package controllers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"tourops-api/models"
	"tourops-api/repositories"
	"tourops-api/services"
	"tourops-api/utils"
)

type TripBusController struct {
	db          *gorm.DB
	tripService *services.TripService
	cache       *services.CacheService
	logger      *zap.Logger
}

func NewTripBusController(db *gorm.DB, tripService *services.TripService, cache *services.CacheService, logger *zap.Logger) *TripBusController {
	return &TripBusController{
		db:          db,
		tripService: tripService,
		cache:       cache,
		logger:      logger,
	}
}

func (tbc *TripBusController) invalidate(c *gin.Context, tenantID uint) {
	tbc.cache.InvalidateScope(c.Request.Context(), tripCacheEntity, tenantID)
	tbc.cache.InvalidateScope(c.Request.Context(), dashboardCacheEntity, tenantID)
}

func (tbc *TripBusController) GetTripBuses(c *gin.Context) {
	page := utils.ParsePage(c)
	query := tbc.db.WithContext(c.Request.Context()).
		Model(&models.TripBus{}).
		Scopes(repositories.ByTripOfTenant("trip_buses", tenantScope(c)))

	tripID, present, ok := queryUint(c, "trip")
	if !ok {
		return
	}
	if present {
		query = query.Where("trip_buses.trip_id = ?", tripID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		respondError(c, tbc.logger, err, "")
		return
	}

	var tripBuses []models.TripBus
	err := query.Preload("Bus").Preload("Manager").Preload("Driver").
		Scopes(page.Scope()).
		Order("trip_buses.id ASC").
		Find(&tripBuses).Error
	if err != nil {
		respondError(c, tbc.logger, err, "")
		return
	}

	utils.SendPaginated(c, tripBuses, page, total)
}

func (tbc *TripBusController) GetTripBus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var tripBus models.TripBus
	err := tbc.db.WithContext(c.Request.Context()).
		Scopes(repositories.ByTripOfTenant("trip_buses", tenantScope(c))).
		Preload("Bus").Preload("Manager").Preload("Driver").
		First(&tripBus, id).Error
	if err != nil {
		respondError(c, tbc.logger, err, "Trip bus not found")
		return
	}

	utils.SendSuccess(c, tripBus)
}

func (tbc *TripBusController) CreateTripBus(c *gin.Context) {
	var req models.TripBusRequest
	if !bindJSON(c, &req) {
		return
	}

	trip, err := loadTrip(c, tbc.db, req.TripID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.SendValidationError(c, "trip does not exist")
			return
		}
		respondError(c, tbc.logger, err, "")
		return
	}

	if err := tbc.checkCrew(c, trip, req.BusID, req.ManagerID, req.DriverID); err != nil {
		respondError(c, tbc.logger, err, "")
		return
	}

	tripBus := models.TripBus{
		TripID:        trip.ID,
		BusID:         req.BusID,
		ManagerID:     req.ManagerID,
		DriverID:      req.DriverID,
		DriverName:    req.DriverName,
		DriverTel:     req.DriverTel,
		TourGuideName: req.TourGuideName,
		TourGuideTel:  req.TourGuideTel,
		Description:   req.Description,
	}
	if err := tbc.db.WithContext(c.Request.Context()).Omit("Trip", "Bus", "Manager", "Driver").Create(&tripBus).Error; err != nil {
		respondError(c, tbc.logger, err, "")
		return
	}

	tbc.invalidate(c, trip.TenantID)
	utils.SendCreated(c, tripBus)
}

func (tbc *TripBusController) UpdateTripBus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	tripBus, err := loadTripBus(c, tbc.db, id)
	if err != nil {
		respondError(c, tbc.logger, err, "Trip bus not found")
		return
	}

	var req models.TripBusRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.TripID != tripBus.TripID {
		utils.SendValidationError(c, "a trip bus cannot be moved to another trip")
		return
	}

	if err := tbc.checkCrew(c, tripBus.Trip, req.BusID, req.ManagerID, req.DriverID); err != nil {
		respondError(c, tbc.logger, err, "")
		return
	}

	updates := map[string]interface{}{
		"bus_id":          req.BusID,
		"manager_id":      req.ManagerID,
		"driver_id":       req.DriverID,
		"driver_name":     req.DriverName,
		"driver_tel":      req.DriverTel,
		"tour_guide_name": req.TourGuideName,
		"tour_guide_tel":  req.TourGuideTel,
		"description":     req.Description,
	}
	if err := tbc.db.WithContext(c.Request.Context()).Model(tripBus).Omit("Trip").Updates(updates).Error; err != nil {
		respondError(c, tbc.logger, err, "Trip bus not found")
		return
	}

	tbc.invalidate(c, tripBus.Trip.TenantID)

	var updated models.TripBus
	if err := tbc.db.WithContext(c.Request.Context()).Preload("Bus").Preload("Manager").Preload("Driver").First(&updated, id).Error; err != nil {
		respondError(c, tbc.logger, err, "Trip bus not found")
		return
	}
	utils.SendSuccess(c, updated)
}

func (tbc *TripBusController) DeleteTripBus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	tripBus, err := loadTripBus(c, tbc.db, id)
	if err != nil {
		respondError(c, tbc.logger, err, "Trip bus not found")
		return
	}

	tenantID := tripBus.Trip.TenantID
	tripBus.Trip = nil
	if err := tbc.tripService.DeleteTripBus(c.Request.Context(), tripBus); err != nil {
		respondError(c, tbc.logger, err, "Trip bus not found")
		return
	}

	tbc.invalidate(c, tenantID)
	utils.SendSuccess(c, gin.H{"message": "Trip bus deleted successfully"})
}

// checkCrew validates the bus and the people assigned to it
func (tbc *TripBusController) checkCrew(c *gin.Context, trip *models.Trip, busID, managerID uint, driverID *uint) error {
	ctx := c.Request.Context()

	var bus models.Bus
	if err := tbc.db.WithContext(ctx).First(&bus, busID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &services.ValidationError{Message: "bus does not exist"}
		}
		return err
	}

	check := func(userID uint, label string, capability services.Capability) error {
		var user models.User
		if err := tbc.db.WithContext(ctx).Preload("Role").First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &services.ValidationError{Message: label + " does not exist"}
			}
			return err
		}
		if user.TenantID != nil && *user.TenantID != trip.TenantID {
			return &services.ValidationError{Message: label + " belongs to another tenant"}
		}
		if !services.Can(services.PrincipalFromUser(&user), capability) {
			return &services.ValidationError{Message: label + " lacks the required role"}
		}
		return nil
	}

	if err := check(managerID, "manager", services.CapLeadBus); err != nil {
		return err
	}
	if driverID != nil {
		return check(*driverID, "driver", services.CapDriveBus)
	}
	return nil
}
