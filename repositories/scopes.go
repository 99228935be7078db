// File: /repositories/scopes.go
package repositories

import (
	"gorm.io/gorm"
)

// Tenant scopes restrict a query to rows that belong to one tenant through
// their trip. They are no-ops for tenantID 0, the cross-tenant scope.

func TripsOfTenant(tenantID uint) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if tenantID == 0 {
			return db
		}
		return db.Where("trips.tenant_id = ?", tenantID)
	}
}

// ByTripOfTenant filters a table with a trip_id column
func ByTripOfTenant(table string, tenantID uint) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if tenantID == 0 {
			return db
		}
		return db.Where(table+".trip_id IN (?)", tripIDsOfTenant(db, tenantID))
	}
}

func RoundBusesOfTenant(tenantID uint) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if tenantID == 0 {
			return db
		}
		rounds := db.Session(&gorm.Session{NewDB: true}).
			Table("rounds").Select("id").
			Where("trip_id IN (?)", tripIDsOfTenant(db, tenantID))
		return db.Where("round_buses.round_id IN (?)", rounds)
	}
}

func TransactionsOfTenant(tenantID uint) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if tenantID == 0 {
			return db
		}
		passengers := db.Session(&gorm.Session{NewDB: true}).
			Table("passengers").Select("id").
			Where("trip_id IN (?)", tripIDsOfTenant(db, tenantID))
		return db.Where("transactions.passenger_id IN (?)", passengers)
	}
}

func tripIDsOfTenant(db *gorm.DB, tenantID uint) *gorm.DB {
	return db.Session(&gorm.Session{NewDB: true}).
		Table("trips").Select("id").
		Where("tenant_id = ?", tenantID)
}
