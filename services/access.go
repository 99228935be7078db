// File: /services/access.go
package services

import (
	"strings"

	"tourops-api/models"
)

// Capability names an action a caller may be allowed to perform.
type Capability string

const (
	CapManageTenants  Capability = "manage_tenants"
	CapManageUsers    Capability = "manage_users"
	CapManageFleet    Capability = "manage_fleet"
	CapManageTrips    Capability = "manage_trips"
	CapFinalizeRound  Capability = "finalize_round"
	CapViewAllTenants Capability = "view_all_tenants"
	CapLeadBus        Capability = "lead_bus"
	CapDriveBus       Capability = "drive_bus"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID      uint
	TenantID    *uint
	Role        string
	IsStaff     bool
	IsSuperuser bool
}

func PrincipalFromUser(user *models.User) Principal {
	return Principal{
		UserID:      user.ID,
		TenantID:    user.TenantID,
		Role:        strings.ToLower(user.RoleName()),
		IsStaff:     user.IsStaff,
		IsSuperuser: user.IsSuperuser,
	}
}

// Tenant returns the caller's tenant id or 0 for callers without one
func (p Principal) Tenant() uint {
	if p.TenantID == nil {
		return 0
	}
	return *p.TenantID
}

var roleCapabilities = map[string][]Capability{
	models.RoleAdmin:       {CapManageUsers, CapManageFleet, CapManageTrips, CapFinalizeRound, CapLeadBus},
	models.RoleTourManager: {CapManageFleet, CapManageTrips, CapFinalizeRound, CapLeadBus},
	models.RoleFleetLead:   {CapFinalizeRound, CapLeadBus},
	models.RoleDriver:      {CapDriveBus},
}

// Can is the single authorization check of the API.
func Can(p Principal, capability Capability) bool {
	if p.IsSuperuser {
		return true
	}

	switch capability {
	case CapViewAllTenants:
		return p.TenantID == nil
	case CapManageTenants:
		return p.TenantID == nil && (p.IsStaff || p.Role == models.RoleAdmin)
	}

	if p.IsStaff {
		return true
	}
	for _, c := range roleCapabilities[p.Role] {
		if c == capability {
			return true
		}
	}
	return false
}
