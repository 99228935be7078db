// File: /controllers/auth_controller.go
package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"tourops-api/config"
	"tourops-api/middleware"
	"tourops-api/models"
	"tourops-api/services"
	"tourops-api/utils"
)

type AuthController struct {
	db         *gorm.DB
	jwtSecret  string
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *zap.Logger
}

func NewAuthController(db *gorm.DB, cfg *config.Config, logger *zap.Logger) *AuthController {
	return &AuthController{
		db:         db,
		jwtSecret:  cfg.JWTSecret,
		accessTTL:  cfg.JWTAccessTTL,
		refreshTTL: cfg.JWTRefreshTTL,
		logger:     logger,
	}
}

// LoginRequest accepts either the username or the email as identifier
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	Refresh string `json:"refresh" binding:"required"`
}

type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type AuthResponse struct {
	TokenPair
	User models.User `json:"user"`
}

func (ac *AuthController) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	var user models.User
	err := ac.db.WithContext(c.Request.Context()).
		Preload("Role").Preload("Tenant").
		Where("username = ? OR email = ?", req.Username, req.Username).
		First(&user).Error
	if err != nil {
		utils.SendError(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		utils.SendError(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if !user.IsActive {
		utils.SendErrorMessage(c, http.StatusForbidden, "Account disabled", "Contact your administrator to reactivate the account.")
		return
	}

	pair, err := ac.issueTokens(&user)
	if err != nil {
		ac.logger.Error("Failed to sign tokens", zap.Uint("user_id", user.ID), zap.Error(err))
		utils.SendError(c, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	ac.logger.Info("User logged in", zap.Uint("user_id", user.ID))
	utils.SendSuccess(c, AuthResponse{TokenPair: pair, User: user})
}

func (ac *AuthController) Refresh(c *gin.Context) {
	var req RefreshRequest
	if !bindJSON(c, &req) {
		return
	}

	claims, err := middleware.ParseToken(ac.jwtSecret, req.Refresh, middleware.TokenTypeRefresh)
	if err != nil {
		utils.SendErrorMessage(c, http.StatusUnauthorized, "Invalid refresh token", err.Error())
		return
	}

	var user models.User
	if err := ac.db.WithContext(c.Request.Context()).Preload("Role").First(&user, claims.UserID).Error; err != nil || !user.IsActive {
		utils.SendError(c, http.StatusUnauthorized, "User not found")
		return
	}

	pair, err := ac.issueTokens(&user)
	if err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	utils.SendSuccess(c, pair)
}

type MeResponse struct {
	User         models.User           `json:"user"`
	Capabilities []services.Capability `json:"capabilities"`
}

func (ac *AuthController) Me(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		utils.SendError(c, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var full models.User
	if err := ac.db.WithContext(c.Request.Context()).Preload("Role").Preload("Tenant").First(&full, user.ID).Error; err != nil {
		respondError(c, ac.logger, err, "User not found")
		return
	}

	principal := middleware.CurrentPrincipal(c)
	all := []services.Capability{
		services.CapManageTenants,
		services.CapManageUsers,
		services.CapManageFleet,
		services.CapManageTrips,
		services.CapFinalizeRound,
		services.CapViewAllTenants,
		services.CapLeadBus,
		services.CapDriveBus,
	}
	granted := make([]services.Capability, 0, len(all))
	for _, capability := range all {
		if services.Can(principal, capability) {
			granted = append(granted, capability)
		}
	}

	utils.SendSuccess(c, MeResponse{User: full, Capabilities: granted})
}

func (ac *AuthController) issueTokens(user *models.User) (TokenPair, error) {
	access, err := middleware.GenerateToken(ac.jwtSecret, user, middleware.TokenTypeAccess, ac.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := middleware.GenerateToken(ac.jwtSecret, user, middleware.TokenTypeRefresh, ac.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}
