// File: /controllers/dashboard_controller.go
package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"tourops-api/models"
	"tourops-api/repositories"
	"tourops-api/services"
	"tourops-api/utils"
)

type DashboardController struct {
	db     *gorm.DB
	cache  *services.CacheService
	logger *zap.Logger
}

func NewDashboardController(db *gorm.DB, cache *services.CacheService, logger *zap.Logger) *DashboardController {
	return &DashboardController{
		db:     db,
		cache:  cache,
		logger: logger,
	}
}

type statusCount struct {
	Status models.ProgressStatus
	Count  int64
}

// GetOverview counts trips, passengers and trip buses by the status of
// their trip.
func (dc *DashboardController) GetOverview(c *gin.Context) {
	ctx := c.Request.Context()
	scope := tenantScope(c)
	key := dc.cache.Key(dashboardCacheEntity, scope, "overview")

	var cached utils.SuccessResponse
	if dc.cache.GetJSON(ctx, key, &cached) {
		c.JSON(http.StatusOK, cached)
		return
	}

	var overview models.DashboardOverview
	var err error

	if overview.Trips, err = dc.countByTripStatus(c, "trips", ""); err != nil {
		respondError(c, dc.logger, err, "")
		return
	}
	if overview.Passengers, err = dc.countByTripStatus(c, "passengers", "JOIN trips ON trips.id = passengers.trip_id"); err != nil {
		respondError(c, dc.logger, err, "")
		return
	}
	if overview.Buses, err = dc.countByTripStatus(c, "trip_buses", "JOIN trips ON trips.id = trip_buses.trip_id"); err != nil {
		respondError(c, dc.logger, err, "")
		return
	}

	resp := utils.SuccessResponse{Success: true, Data: overview}
	dc.cache.SetJSON(ctx, key, resp)
	c.JSON(http.StatusOK, resp)
}

func (dc *DashboardController) countByTripStatus(c *gin.Context, table, join string) (models.StatusCounts, error) {
	query := dc.db.WithContext(c.Request.Context()).Table(table)
	if join != "" {
		query = query.Joins(join)
	}

	var rows []statusCount
	err := query.Scopes(repositories.TripsOfTenant(tenantScope(c))).
		Select("trips.status AS status, COUNT(*) AS count").
		Group("trips.status").
		Scan(&rows).Error
	if err != nil {
		return models.StatusCounts{}, err
	}

	var counts models.StatusCounts
	for _, row := range rows {
		counts.Total += row.Count
		switch row.Status {
		case models.StatusPlanned:
			counts.Planned = row.Count
		case models.StatusDoing:
			counts.Doing = row.Count
		case models.StatusDone:
			counts.Done = row.Count
		}
	}
	return counts, nil
}
