package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"tourops-api/database"
	"tourops-api/models"
	"tourops-api/services"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func setupAuthDB(t *testing.T) (*gorm.DB, *models.User) {
	t.Helper()
	db, err := database.OpenInMemory(uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	role := models.Role{Name: models.RoleFleetLead}
	require.NoError(t, db.Create(&role).Error)
	tenant := models.Tenant{Name: "Acme"}
	require.NoError(t, db.Create(&tenant).Error)

	user := &models.User{
		Username: "lead",
		Email:    "lead@example.com",
		Name:     "Lead",
		Password: "x",
		TenantID: &tenant.ID,
		RoleID:   &role.ID,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return db, user
}

func newAuthRouter(db *gorm.DB) *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(testSecret, db))
	r.GET("/me", func(c *gin.Context) {
		p := CurrentPrincipal(c)
		c.JSON(http.StatusOK, gin.H{"user_id": p.UserID, "role": p.Role, "tenant": p.Tenant()})
	})
	r.POST("/finalize", RequireCapability(services.CapFinalizeRound), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.POST("/tenants", RequireCapability(services.CapManageTenants), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	return r
}

func doRequest(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_AcceptsAccessToken(t *testing.T) {
	db, user := setupAuthDB(t)
	token, err := GenerateToken(testSecret, &models.User{ID: user.ID, TenantID: user.TenantID}, TokenTypeAccess, time.Hour)
	require.NoError(t, err)

	w := doRequest(newAuthRouter(db), http.MethodGet, "/me", token)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"fleet_lead"`)
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	db, user := setupAuthDB(t)
	refresh, err := GenerateToken(testSecret, user, TokenTypeRefresh, time.Hour)
	require.NoError(t, err)
	expired, err := GenerateToken(testSecret, user, TokenTypeAccess, -time.Minute)
	require.NoError(t, err)
	foreign, err := GenerateToken("other-secret", user, TokenTypeAccess, time.Hour)
	require.NoError(t, err)

	r := newAuthRouter(db)
	for name, token := range map[string]string{
		"missing": "",
		"refresh": refresh,
		"expired": expired,
		"foreign": foreign,
	} {
		t.Run(name, func(t *testing.T) {
			w := doRequest(r, http.MethodGet, "/me", token)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAuthMiddleware_InactiveUser(t *testing.T) {
	db, user := setupAuthDB(t)
	require.NoError(t, db.Model(user).Update("is_active", false).Error)
	token, err := GenerateToken(testSecret, user, TokenTypeAccess, time.Hour)
	require.NoError(t, err)

	w := doRequest(newAuthRouter(db), http.MethodGet, "/me", token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireCapability(t *testing.T) {
	db, user := setupAuthDB(t)
	token, err := GenerateToken(testSecret, user, TokenTypeAccess, time.Hour)
	require.NoError(t, err)
	r := newAuthRouter(db)

	assert.Equal(t, http.StatusNoContent, doRequest(r, http.MethodPost, "/finalize", token).Code)
	assert.Equal(t, http.StatusForbidden, doRequest(r, http.MethodPost, "/tenants", token).Code)
}

func TestValidateJSON(t *testing.T) {
	r := gin.New()
	r.Use(ValidateJSON())
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	empty := httptest.NewRequest(http.MethodPost, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, empty)
	assert.Equal(t, http.StatusOK, w.Code)

	form := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("a=b"))
	form.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, form)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{}`))
	body.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	stop := make(chan struct{})
	defer close(stop)

	r := gin.New()
	r.Use(RateLimit(60, 2, stop))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, doRequest(r, http.MethodGet, "/x", "").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestErrorHandler(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler(zap.NewNop()))
	r.GET("/x", func(c *gin.Context) { _ = c.Error(assert.AnError) })

	w := doRequest(r, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal server error")
}
