// File: /controllers/bus_controller.go
package controllers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"tourops-api/models"
	"tourops-api/services"
	"tourops-api/utils"
)

const busCacheEntity = "buses"

// BusController manages the fleet, which is shared by every tenant.
type BusController struct {
	db     *gorm.DB
	cache  *services.CacheService
	logger *zap.Logger
}

func NewBusController(db *gorm.DB, cache *services.CacheService, logger *zap.Logger) *BusController {
	return &BusController{db: db, cache: cache, logger: logger}
}

func (bc *BusController) GetBuses(c *gin.Context) {
	ctx := c.Request.Context()
	key := bc.cache.Key(busCacheEntity, 0, "list", c.Request.URL.RawQuery)

	var cached utils.PaginatedResponse
	if bc.cache.GetJSON(ctx, key, &cached) {
		c.JSON(http.StatusOK, cached)
		return
	}

	page := utils.ParsePage(c)
	query := bc.db.WithContext(ctx).Model(&models.Bus{})
	if search := c.Query("search"); search != "" {
		like := "%" + search + "%"
		query = query.Where("registration_number LIKE ? OR bus_code LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		respondError(c, bc.logger, err, "")
		return
	}

	var buses []models.Bus
	if err := query.Scopes(page.Scope()).Order("bus_code ASC").Find(&buses).Error; err != nil {
		respondError(c, bc.logger, err, "")
		return
	}

	resp := utils.NewPaginatedResponse(buses, page, total)
	bc.cache.SetJSON(ctx, key, resp)
	c.JSON(http.StatusOK, resp)
}

func (bc *BusController) GetBus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	key := bc.cache.Key(busCacheEntity, 0, "detail", fmt.Sprint(id))

	var cached utils.SuccessResponse
	if bc.cache.GetJSON(ctx, key, &cached) {
		c.JSON(http.StatusOK, cached)
		return
	}

	var bus models.Bus
	if err := bc.db.WithContext(ctx).First(&bus, id).Error; err != nil {
		respondError(c, bc.logger, err, "Bus not found")
		return
	}

	resp := utils.SuccessResponse{Success: true, Data: bus}
	bc.cache.SetJSON(ctx, key, resp)
	c.JSON(http.StatusOK, resp)
}

func (bc *BusController) CreateBus(c *gin.Context) {
	var req models.BusRequest
	if !bindJSON(c, &req) {
		return
	}

	var bus models.Bus
	if err := copier.Copy(&bus, &req); err != nil {
		respondError(c, bc.logger, err, "")
		return
	}

	if err := bc.db.WithContext(c.Request.Context()).Create(&bus).Error; err != nil {
		respondError(c, bc.logger, err, "")
		return
	}

	bc.cache.InvalidateScope(c.Request.Context(), busCacheEntity, 0)
	utils.SendCreated(c, bus)
}

func (bc *BusController) UpdateBus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var bus models.Bus
	if err := bc.db.WithContext(c.Request.Context()).First(&bus, id).Error; err != nil {
		respondError(c, bc.logger, err, "Bus not found")
		return
	}

	var req models.BusRequest
	if !bindJSON(c, &req) {
		return
	}

	updates := map[string]interface{}{
		"registration_number": req.RegistrationNumber,
		"bus_code":            req.BusCode,
		"capacity":            req.Capacity,
		"description":         req.Description,
	}

	if err := bc.db.WithContext(c.Request.Context()).Model(&bus).Updates(updates).Error; err != nil {
		respondError(c, bc.logger, err, "Bus not found")
		return
	}

	bc.cache.InvalidateScope(c.Request.Context(), busCacheEntity, 0)
	utils.SendSuccess(c, bus)
}

func (bc *BusController) DeleteBus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var bus models.Bus
	if err := bc.db.WithContext(c.Request.Context()).First(&bus, id).Error; err != nil {
		respondError(c, bc.logger, err, "Bus not found")
		return
	}

	var inUse int64
	if err := bc.db.WithContext(c.Request.Context()).Model(&models.TripBus{}).Where("bus_id = ?", id).Count(&inUse).Error; err != nil {
		respondError(c, bc.logger, err, "")
		return
	}
	if inUse > 0 {
		utils.SendErrorMessage(c, http.StatusConflict, "Bus in use", "The bus is assigned to at least one trip")
		return
	}

	if err := bc.db.WithContext(c.Request.Context()).Delete(&bus).Error; err != nil {
		respondError(c, bc.logger, err, "Bus not found")
		return
	}

	bc.cache.InvalidateScope(c.Request.Context(), busCacheEntity, 0)
	utils.SendSuccess(c, gin.H{"message": "Bus deleted successfully"})
}
