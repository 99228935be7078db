// File: /controllers/tenant_controller.go
package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"tourops-api/models"
	"tourops-api/utils"
)

type TenantController struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewTenantController(db *gorm.DB, logger *zap.Logger) *TenantController {
	return &TenantController{db: db, logger: logger}
}

func (tc *TenantController) scoped(c *gin.Context) *gorm.DB {
	query := tc.db.WithContext(c.Request.Context()).Model(&models.Tenant{})
	if scope := tenantScope(c); scope != 0 {
		query = query.Where("id = ?", scope)
	}
	return query
}

func (tc *TenantController) GetTenants(c *gin.Context) {
	page := utils.ParsePage(c)

	query := tc.scoped(c)
	if search := c.Query("search"); search != "" {
		query = query.Where("name LIKE ?", "%"+search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		respondError(c, tc.logger, err, "")
		return
	}

	var tenants []models.Tenant
	if err := query.Scopes(page.Scope()).Order("name ASC").Find(&tenants).Error; err != nil {
		respondError(c, tc.logger, err, "")
		return
	}

	utils.SendPaginated(c, tenants, page, total)
}

func (tc *TenantController) CreateTenant(c *gin.Context) {
	var req models.CreateTenantRequest
	if !bindJSON(c, &req) {
		return
	}

	tenant := models.Tenant{Name: req.Name, Description: req.Description}
	if err := tc.db.WithContext(c.Request.Context()).Create(&tenant).Error; err != nil {
		respondError(c, tc.logger, err, "")
		return
	}

	utils.SendCreated(c, tenant)
}

func (tc *TenantController) GetTenant(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var tenant models.Tenant
	if err := tc.scoped(c).First(&tenant, id).Error; err != nil {
		respondError(c, tc.logger, err, "Tenant not found")
		return
	}

	utils.SendSuccess(c, tenant)
}

func (tc *TenantController) UpdateTenant(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var tenant models.Tenant
	if err := tc.scoped(c).First(&tenant, id).Error; err != nil {
		respondError(c, tc.logger, err, "Tenant not found")
		return
	}

	var req models.CreateTenantRequest
	if !bindJSON(c, &req) {
		return
	}

	tenant.Name = req.Name
	tenant.Description = req.Description
	if err := tc.db.WithContext(c.Request.Context()).Save(&tenant).Error; err != nil {
		respondError(c, tc.logger, err, "Tenant not found")
		return
	}

	utils.SendSuccess(c, tenant)
}

func (tc *TenantController) DeleteTenant(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var tenant models.Tenant
	if err := tc.scoped(c).First(&tenant, id).Error; err != nil {
		respondError(c, tc.logger, err, "Tenant not found")
		return
	}

	var trips int64
	if err := tc.db.WithContext(c.Request.Context()).Model(&models.Trip{}).Where("tenant_id = ?", id).Count(&trips).Error; err != nil {
		respondError(c, tc.logger, err, "")
		return
	}
	if trips > 0 {
		utils.SendErrorMessage(c, http.StatusConflict, "Tenant has trips", "Delete the tenant's trips first")
		return
	}

	err := tc.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ?", id).Delete(&models.User{}).Error; err != nil {
			return err
		}
		return tx.Delete(&tenant).Error
	})
	if err != nil {
		respondError(c, tc.logger, err, "Tenant not found")
		return
	}

	utils.SendSuccess(c, gin.H{"message": "Tenant deleted successfully"})
}
