// File: /models/tenant.go
package models

import (
	"time"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

type Tenant struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"not null;size:255"`
	Slug        string    `json:"slug" gorm:"uniqueIndex;not null;size:191"`
	Description string    `json:"description" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BeforeSave keeps the slug in line with the name
func (t *Tenant) BeforeSave(tx *gorm.DB) error {
	if t.Name != "" {
		t.Slug = slug.Make(t.Name)
	}
	return nil
}

type Role struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	Name        string `json:"name" gorm:"uniqueIndex;not null;size:100"`
	Description string `json:"description" gorm:"type:text"`
}

type User struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Username    string    `json:"username" gorm:"uniqueIndex;not null;size:150"`
	Email       string    `json:"email" gorm:"uniqueIndex;not null;size:191"`
	Name        string    `json:"name" gorm:"not null;size:255"`
	Password    string    `json:"-" gorm:"not null;size:255"`
	TenantID    *uint     `json:"tenant_id" gorm:"index"` // nil for superusers
	RoleID      *uint     `json:"role_id"`
	IsActive    bool      `json:"is_active" gorm:"default:true"`
	IsStaff     bool      `json:"is_staff" gorm:"default:false"`
	IsSuperuser bool      `json:"is_superuser" gorm:"default:false"`
	Description string    `json:"description" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Tenant *Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantID"`
	Role   *Role   `json:"role,omitempty" gorm:"foreignKey:RoleID"`
}

// RoleName returns the lower-case role name or "" when no role is loaded
func (u *User) RoleName() string {
	if u.Role == nil {
		return ""
	}
	return u.Role.Name
}

// DTO Models for API requests

type CreateTenantRequest struct {
	Name        string `json:"name" binding:"required,max=255"`
	Description string `json:"description"`
}

type CreateUserRequest struct {
	Username    string `json:"username" binding:"required,max=150"`
	Email       string `json:"email" binding:"required,email"`
	Name        string `json:"name" binding:"required"`
	Password    string `json:"password" binding:"required,min=6"`
	TenantID    *uint  `json:"tenant_id"`
	RoleID      *uint  `json:"role_id"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
	Description string `json:"description"`
}

type UpdateUserRequest struct {
	Email       *string `json:"email" binding:"omitempty,email"`
	Name        *string `json:"name"`
	Password    *string `json:"password" binding:"omitempty,min=6"`
	TenantID    *uint   `json:"tenant_id"`
	RoleID      *uint   `json:"role_id"`
	IsActive    *bool   `json:"is_active"`
	IsStaff     *bool   `json:"is_staff"`
	Description *string `json:"description"`
}
