// File: /middleware/auth.go
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
	"tourops-api/models"
	"tourops-api/services"
	"tourops-api/utils"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	principalKey = "principal"
	userKey      = "user"
)

// Claims carried by access and refresh tokens
type Claims struct {
	UserID    uint   `json:"user_id"`
	TenantID  *uint  `json:"tenant_id"`
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token of the given type for user
func GenerateToken(secret string, user *models.User, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:    user.ID,
		TenantID:  user.TenantID,
		Role:      user.RoleName(),
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates signature, expiry and type of a token
func ParseToken(secret, tokenString, tokenType string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("expected %s token", tokenType)
	}
	return claims, nil
}

// AuthMiddleware authenticates the bearer token and loads the active user
func AuthMiddleware(secret string, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if header == "" || tokenString == header {
			utils.SendError(c, http.StatusUnauthorized, "Authorization header required")
			c.Abort()
			return
		}

		claims, err := ParseToken(secret, tokenString, TokenTypeAccess)
		if err != nil {
			utils.SendErrorMessage(c, http.StatusUnauthorized, "Invalid token", err.Error())
			c.Abort()
			return
		}

		var user models.User
		if err := db.WithContext(c.Request.Context()).Preload("Role").First(&user, claims.UserID).Error; err != nil {
			utils.SendError(c, http.StatusUnauthorized, "User not found")
			c.Abort()
			return
		}
		if !user.IsActive {
			utils.SendError(c, http.StatusUnauthorized, "User is inactive")
			c.Abort()
			return
		}

		c.Set(userKey, &user)
		c.Set(principalKey, services.PrincipalFromUser(&user))
		c.Next()
	}
}

// RequireCapability aborts with 403 unless the caller holds capability
func RequireCapability(capability services.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !services.Can(CurrentPrincipal(c), capability) {
			utils.SendErrorMessage(c, http.StatusForbidden, "Forbidden", fmt.Sprintf("missing capability %s", capability))
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentPrincipal returns the authenticated caller, or the zero principal
func CurrentPrincipal(c *gin.Context) services.Principal {
	p, _ := c.Get(principalKey)
	return principalOf(p)
}

// CurrentUser returns the authenticated user loaded by AuthMiddleware
func CurrentUser(c *gin.Context) *models.User {
	if u, ok := c.Get(userKey); ok {
		if user, ok := u.(*models.User); ok {
			return user
		}
	}
	return nil
}

// SetPrincipal stores a principal on the context
func SetPrincipal(c *gin.Context, p services.Principal) {
	c.Set(principalKey, p)
}

func principalOf(v interface{}) services.Principal {
	if p, ok := v.(services.Principal); ok {
		return p
	}
	return services.Principal{}
}
