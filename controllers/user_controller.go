// File: /controllers/user_controller.go
package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"tourops-api/middleware"
	"tourops-api/models"
	"tourops-api/services"
	"tourops-api/utils"
)

type UserController struct {
	db           *gorm.DB
	emailService *services.EmailService
	logger       *zap.Logger
}

func NewUserController(db *gorm.DB, emailService *services.EmailService, logger *zap.Logger) *UserController {
	return &UserController{
		db:           db,
		emailService: emailService,
		logger:       logger,
	}
}

func (uc *UserController) scoped(c *gin.Context) *gorm.DB {
	query := uc.db.WithContext(c.Request.Context()).Model(&models.User{})
	if scope := tenantScope(c); scope != 0 {
		query = query.Where("users.tenant_id = ?", scope)
	}
	return query
}

func (uc *UserController) GetRoles(c *gin.Context) {
	var roles []models.Role
	if err := uc.db.WithContext(c.Request.Context()).Order("name ASC").Find(&roles).Error; err != nil {
		respondError(c, uc.logger, err, "")
		return
	}
	utils.SendSuccess(c, roles)
}

func (uc *UserController) GetUsers(c *gin.Context) {
	page := utils.ParsePage(c)
	query := uc.scoped(c)

	if role := c.Query("role"); role != "" {
		query = query.Where("users.role_id IN (?)",
			uc.db.Model(&models.Role{}).Select("id").Where("name = ?", role))
	}
	tenantID, present, ok := queryUint(c, "tenant")
	if !ok {
		return
	}
	if present {
		query = query.Where("users.tenant_id = ?", tenantID)
	}
	if search := c.Query("search"); search != "" {
		like := "%" + search + "%"
		query = query.Where("users.username LIKE ? OR users.name LIKE ? OR users.email LIKE ?", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		respondError(c, uc.logger, err, "")
		return
	}

	var users []models.User
	if err := query.Preload("Role").Preload("Tenant").Scopes(page.Scope()).Order("users.created_at DESC").Find(&users).Error; err != nil {
		respondError(c, uc.logger, err, "")
		return
	}

	utils.SendPaginated(c, users, page, total)
}

func (uc *UserController) GetUser(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var user models.User
	if err := uc.scoped(c).Preload("Role").Preload("Tenant").First(&user, id).Error; err != nil {
		respondError(c, uc.logger, err, "User not found")
		return
	}
	utils.SendSuccess(c, user)
}

func (uc *UserController) CreateUser(c *gin.Context) {
	var req models.CreateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	principal := middleware.CurrentPrincipal(c)
	if (req.IsSuperuser || req.IsStaff) && !principal.IsSuperuser {
		forbid(c, "only superusers can create staff or superuser accounts")
		return
	}

	if scope := tenantScope(c); scope != 0 {
		if req.TenantID == nil {
			req.TenantID = &scope
		} else if *req.TenantID != scope {
			forbid(c, "cannot create users for another tenant")
			return
		}
	}
	if req.TenantID == nil && !req.IsSuperuser {
		utils.SendValidationError(c, "a tenant is required for non-superuser accounts")
		return
	}
	if err := uc.checkReferences(c, req.TenantID, req.RoleID); err != nil {
		respondError(c, uc.logger, err, "")
		return
	}

	var user models.User
	if err := copier.Copy(&user, &req); err != nil {
		respondError(c, uc.logger, err, "")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Failed to hash password")
		return
	}
	user.Password = string(hashed)
	user.IsActive = true

	if err := uc.db.WithContext(c.Request.Context()).Omit("Tenant", "Role").Create(&user).Error; err != nil {
		respondError(c, uc.logger, err, "")
		return
	}

	uc.emailService.QueueAccountCreatedEmail(user)

	utils.SendCreated(c, user)
}

func (uc *UserController) UpdateUser(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var user models.User
	if err := uc.scoped(c).First(&user, id).Error; err != nil {
		respondError(c, uc.logger, err, "User not found")
		return
	}

	var req models.UpdateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	principal := middleware.CurrentPrincipal(c)
	if req.IsStaff != nil && !principal.IsSuperuser {
		forbid(c, "only superusers can change staff status")
		return
	}
	if req.TenantID != nil && tenantScope(c) != 0 && *req.TenantID != tenantScope(c) {
		forbid(c, "cannot move users to another tenant")
		return
	}
	if err := uc.checkReferences(c, req.TenantID, req.RoleID); err != nil {
		respondError(c, uc.logger, err, "")
		return
	}

	updates := map[string]interface{}{}
	if req.Email != nil {
		updates["email"] = *req.Email
	}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Password != nil {
		hashed, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			utils.SendError(c, http.StatusInternalServerError, "Failed to hash password")
			return
		}
		updates["password"] = string(hashed)
	}
	if req.TenantID != nil {
		updates["tenant_id"] = *req.TenantID
	}
	if req.RoleID != nil {
		updates["role_id"] = *req.RoleID
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.IsStaff != nil {
		updates["is_staff"] = *req.IsStaff
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}

	if len(updates) > 0 {
		if err := uc.db.WithContext(c.Request.Context()).Model(&user).Updates(updates).Error; err != nil {
			respondError(c, uc.logger, err, "User not found")
			return
		}
	}

	if err := uc.db.WithContext(c.Request.Context()).Preload("Role").Preload("Tenant").First(&user, id).Error; err != nil {
		respondError(c, uc.logger, err, "User not found")
		return
	}
	utils.SendSuccess(c, user)
}

func (uc *UserController) DeleteUser(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if id == middleware.CurrentPrincipal(c).UserID {
		utils.SendValidationError(c, "you cannot delete your own account")
		return
	}

	var user models.User
	if err := uc.scoped(c).First(&user, id).Error; err != nil {
		respondError(c, uc.logger, err, "User not found")
		return
	}

	if err := uc.db.WithContext(c.Request.Context()).Delete(&user).Error; err != nil {
		respondError(c, uc.logger, err, "User not found")
		return
	}

	utils.SendSuccess(c, gin.H{"message": "User deleted successfully"})
}

func (uc *UserController) checkReferences(c *gin.Context, tenantID, roleID *uint) error {
	ctx := c.Request.Context()
	if tenantID != nil {
		if err := uc.db.WithContext(ctx).Select("id").First(&models.Tenant{}, *tenantID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &services.ValidationError{Message: "tenant does not exist"}
			}
			return err
		}
	}
	if roleID != nil {
		if err := uc.db.WithContext(ctx).Select("id").First(&models.Role{}, *roleID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &services.ValidationError{Message: "role does not exist"}
			}
			return err
		}
	}
	return nil
}
