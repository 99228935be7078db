// File: /models/trip.go
package models

import "time"

type Trip struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	TenantID    uint           `json:"tenant_id" gorm:"not null;index"`
	Name        string         `json:"name" gorm:"not null;size:255"`
	StartDate   time.Time      `json:"start_date" gorm:"type:date;not null"`
	EndDate     time.Time      `json:"end_date" gorm:"type:date;not null"`
	Status      ProgressStatus `json:"status" gorm:"not null;size:20;default:'planned'"`
	Description string         `json:"description" gorm:"type:text"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	Tenant    *Tenant   `json:"tenant,omitempty" gorm:"foreignKey:TenantID"`
	TripBuses []TripBus `json:"trip_buses,omitempty" gorm:"foreignKey:TripID;constraint:OnDelete:CASCADE"`
	Rounds    []Round   `json:"rounds,omitempty" gorm:"foreignKey:TripID;constraint:OnDelete:CASCADE"`
}

// TripBus is a bus assigned to a trip with its lead and driver.
type TripBus struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	TripID        uint      `json:"trip_id" gorm:"not null;uniqueIndex:uk_trip_buses_trip_bus"`
	BusID         uint      `json:"bus_id" gorm:"not null;uniqueIndex:uk_trip_buses_trip_bus"`
	ManagerID     uint      `json:"manager_id" gorm:"not null;index"`
	DriverID      *uint     `json:"driver_id" gorm:"index"`
	DriverName    string    `json:"driver_name" gorm:"size:255"`
	DriverTel     string    `json:"driver_tel" gorm:"size:30"`
	TourGuideName string    `json:"tour_guide_name" gorm:"size:255"`
	TourGuideTel  string    `json:"tour_guide_tel" gorm:"size:30"`
	Description   string    `json:"description" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Trip    *Trip `json:"trip,omitempty" gorm:"foreignKey:TripID"`
	Bus     *Bus  `json:"bus,omitempty" gorm:"foreignKey:BusID"`
	Manager *User `json:"manager,omitempty" gorm:"foreignKey:ManagerID"`
	Driver  *User `json:"driver,omitempty" gorm:"foreignKey:DriverID"`
}

// BusAssignment attaches a bus to a trip together with its lead and driver
type BusAssignment struct {
	BusID     uint `json:"bus" binding:"required"`
	ManagerID uint `json:"manager" binding:"required"`
	DriverID  uint `json:"driver" binding:"required"`
}

type CreateTripRequest struct {
	TenantID       *uint           `json:"tenant_id"`
	Name           string          `json:"name" binding:"required,max=255"`
	StartDate      string          `json:"start_date" binding:"required,datetime=2006-01-02"`
	EndDate        string          `json:"end_date" binding:"required,datetime=2006-01-02"`
	Status         ProgressStatus  `json:"status" binding:"omitempty,progress_status"`
	Description    string          `json:"description"`
	BusAssignments []BusAssignment `json:"bus_assignments" binding:"omitempty,dive"`
}

type UpdateTripRequest struct {
	Name           *string         `json:"name" binding:"omitempty,max=255"`
	StartDate      *string         `json:"start_date" binding:"omitempty,datetime=2006-01-02"`
	EndDate        *string         `json:"end_date" binding:"omitempty,datetime=2006-01-02"`
	Status         *ProgressStatus `json:"status" binding:"omitempty,progress_status"`
	Description    *string         `json:"description"`
	BusAssignments []BusAssignment `json:"bus_assignments" binding:"omitempty,dive"`
}

type TripBusRequest struct {
	TripID        uint   `json:"trip" binding:"required"`
	BusID         uint   `json:"bus" binding:"required"`
	ManagerID     uint   `json:"manager" binding:"required"`
	DriverID      *uint  `json:"driver"`
	DriverName    string `json:"driver_name" binding:"max=255"`
	DriverTel     string `json:"driver_tel" binding:"max=30"`
	TourGuideName string `json:"tour_guide_name" binding:"max=255"`
	TourGuideTel  string `json:"tour_guide_tel" binding:"max=30"`
	Description   string `json:"description"`
}

// StatusCounts groups a count by trip status
type StatusCounts struct {
	Total   int64 `json:"total"`
	Planned int64 `json:"planned"`
	Doing   int64 `json:"doing"`
	Done    int64 `json:"done"`
}

type DashboardOverview struct {
	Trips      StatusCounts `json:"trips"`
	Passengers StatusCounts `json:"passengers"`
	Buses      StatusCounts `json:"buses"`
}
