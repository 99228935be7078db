// File: /controllers/trip_controller.go
package controllers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"tourops-api/models"
	"tourops-api/repositories"
	"tourops-api/services"
	"tourops-api/utils"
)

const (
	tripCacheEntity      = "trips"
	dashboardCacheEntity = "dashboard"
)

type TripController struct {
	db          *gorm.DB
	trips       *repositories.TripRepository
	tripService *services.TripService
	cache       *services.CacheService
	logger      *zap.Logger
}

func NewTripController(db *gorm.DB, tripService *services.TripService, cache *services.CacheService, logger *zap.Logger) *TripController {
	return &TripController{
		db:          db,
		trips:       repositories.NewTripRepository(db),
		tripService: tripService,
		cache:       cache,
		logger:      logger,
	}
}

func (tc *TripController) invalidate(c *gin.Context, tenantID uint) {
	tc.cache.InvalidateScope(c.Request.Context(), tripCacheEntity, tenantID)
	tc.cache.InvalidateScope(c.Request.Context(), dashboardCacheEntity, tenantID)
}

func (tc *TripController) GetTrips(c *gin.Context) {
	ctx := c.Request.Context()
	scope := tenantScope(c)
	key := tc.cache.Key(tripCacheEntity, scope, "list", c.Request.URL.RawQuery)

	var cached utils.PaginatedResponse
	if tc.cache.GetJSON(ctx, key, &cached) {
		c.JSON(http.StatusOK, cached)
		return
	}

	page := utils.ParsePage(c)
	query := tc.db.WithContext(ctx).Model(&models.Trip{}).Scopes(repositories.TripsOfTenant(scope))

	if status := c.Query("status"); status != "" {
		if !models.ProgressStatus(status).IsValid() {
			utils.SendValidationError(c, "status must be one of planned, doing, done")
			return
		}
		query = query.Where("trips.status = ?", status)
	}
	if search := c.Query("search"); search != "" {
		query = query.Where("trips.name LIKE ?", "%"+search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		respondError(c, tc.logger, err, "")
		return
	}

	var trips []models.Trip
	err := query.Preload("TripBuses").
		Scopes(page.Scope()).
		Order("trips.start_date DESC, trips.id DESC").
		Find(&trips).Error
	if err != nil {
		respondError(c, tc.logger, err, "")
		return
	}

	resp := utils.NewPaginatedResponse(trips, page, total)
	tc.cache.SetJSON(ctx, key, resp)
	c.JSON(http.StatusOK, resp)
}

func (tc *TripController) GetTrip(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	scope := tenantScope(c)
	key := tc.cache.Key(tripCacheEntity, scope, "detail", fmt.Sprint(id))

	var cached utils.SuccessResponse
	if tc.cache.GetJSON(ctx, key, &cached) {
		c.JSON(http.StatusOK, cached)
		return
	}

	trip, err := tc.trips.GetTrip(ctx, id, scope)
	if err != nil {
		respondError(c, tc.logger, err, "Trip not found")
		return
	}

	resp := utils.SuccessResponse{Success: true, Data: trip}
	tc.cache.SetJSON(ctx, key, resp)
	c.JSON(http.StatusOK, resp)
}

func (tc *TripController) CreateTrip(c *gin.Context) {
	var req models.CreateTripRequest
	if !bindJSON(c, &req) {
		return
	}

	tenantID, ok := tc.resolveTenant(c, req.TenantID)
	if !ok {
		return
	}

	start, end, ok := parseTripDates(c, req.StartDate, req.EndDate)
	if !ok {
		return
	}

	status := req.Status
	if status == "" {
		status = models.StatusPlanned
	}

	trip := models.Trip{
		TenantID:    tenantID,
		Name:        req.Name,
		StartDate:   start,
		EndDate:     end,
		Status:      status,
		Description: req.Description,
	}

	if err := tc.tripService.CreateTrip(c.Request.Context(), &trip, req.BusAssignments); err != nil {
		respondError(c, tc.logger, err, "")
		return
	}

	created, err := tc.trips.GetTrip(c.Request.Context(), trip.ID, 0)
	if err != nil {
		respondError(c, tc.logger, err, "Trip not found")
		return
	}

	tc.invalidate(c, tenantID)
	utils.SendCreated(c, created)
}

func (tc *TripController) UpdateTrip(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	trip, err := tc.trips.GetTrip(c.Request.Context(), id, tenantScope(c))
	if err != nil {
		respondError(c, tc.logger, err, "Trip not found")
		return
	}

	var req models.UpdateTripRequest
	if !bindJSON(c, &req) {
		return
	}

	startRaw := trip.StartDate.Format(utils.DateLayout)
	endRaw := trip.EndDate.Format(utils.DateLayout)
	if req.StartDate != nil {
		startRaw = *req.StartDate
	}
	if req.EndDate != nil {
		endRaw = *req.EndDate
	}
	start, end, ok := parseTripDates(c, startRaw, endRaw)
	if !ok {
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.StartDate != nil {
		updates["start_date"] = start
	}
	if req.EndDate != nil {
		updates["end_date"] = end
	}
	if req.Status != nil {
		updates["status"] = *req.Status
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}

	if err := tc.tripService.UpdateTrip(c.Request.Context(), trip, updates, req.BusAssignments); err != nil {
		respondError(c, tc.logger, err, "Trip not found")
		return
	}

	updated, err := tc.trips.GetTrip(c.Request.Context(), id, 0)
	if err != nil {
		respondError(c, tc.logger, err, "Trip not found")
		return
	}

	tc.invalidate(c, trip.TenantID)
	utils.SendSuccess(c, updated)
}

func (tc *TripController) DeleteTrip(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	trip, err := loadTrip(c, tc.db, id)
	if err != nil {
		respondError(c, tc.logger, err, "Trip not found")
		return
	}

	if err := tc.tripService.DeleteTrip(c.Request.Context(), trip); err != nil {
		respondError(c, tc.logger, err, "Trip not found")
		return
	}

	tc.invalidate(c, trip.TenantID)
	utils.SendSuccess(c, gin.H{"message": "Trip deleted successfully"})
}

// ResyncRounds recomputes the progress of every round of the trip
func (tc *TripController) ResyncRounds(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	trip, err := loadTrip(c, tc.db, id)
	if err != nil {
		respondError(c, tc.logger, err, "Trip not found")
		return
	}

	corrected, err := tc.tripService.ResyncRounds(c.Request.Context(), trip.ID)
	if err != nil {
		respondError(c, tc.logger, err, "Trip not found")
		return
	}

	tc.logger.Info("Trip rounds resynced", zap.Uint("trip_id", trip.ID), zap.Int("corrected", corrected))
	utils.SendSuccess(c, gin.H{"trip": trip.ID, "corrected": corrected})
}

// resolveTenant picks the tenant a new trip belongs to
func (tc *TripController) resolveTenant(c *gin.Context, requested *uint) (uint, bool) {
	if scope := tenantScope(c); scope != 0 {
		if requested != nil && *requested != scope {
			forbid(c, "cannot create trips for another tenant")
			return 0, false
		}
		return scope, true
	}

	if requested == nil {
		utils.SendValidationError(c, "tenant_id is required for users without a tenant")
		return 0, false
	}

	var count int64
	if err := tc.db.WithContext(c.Request.Context()).Model(&models.Tenant{}).Where("id = ?", *requested).Count(&count).Error; err != nil {
		respondError(c, tc.logger, err, "")
		return 0, false
	}
	if count == 0 {
		utils.SendValidationError(c, "tenant does not exist")
		return 0, false
	}
	return *requested, true
}

func parseTripDates(c *gin.Context, startRaw, endRaw string) (start, end time.Time, ok bool) {
	start, err := utils.ParseDate(startRaw)
	if err != nil {
		utils.SendValidationError(c, err.Error())
		return start, end, false
	}
	end, err = utils.ParseDate(endRaw)
	if err != nil {
		utils.SendValidationError(c, err.Error())
		return start, end, false
	}
	if end.Before(start) {
		utils.SendValidationError(c, "end_date must not be before start_date")
		return start, end, false
	}
	return start, end, true
}
