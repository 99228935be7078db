// File: /models/passenger.go
package models

import "time"

type Passenger struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	TripID    uint      `json:"trip_id" gorm:"not null;index:idx_passengers_trip_name"`
	Name      string    `json:"name" gorm:"not null;size:255;index:idx_passengers_trip_name"`
	Phone     string    `json:"phone" gorm:"size:30"`
	Note      string    `json:"note" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Trip        *Trip                    `json:"trip,omitempty" gorm:"foreignKey:TripID"`
	Assignments []PassengerBusAssignment `json:"bus_assignments,omitempty" gorm:"foreignKey:PassengerID;constraint:OnDelete:CASCADE"`
	Transfer    *PassengerTransfer       `json:"transfer,omitempty" gorm:"foreignKey:PassengerID;constraint:OnDelete:CASCADE"`
}

// PassengerBusAssignment places a passenger on one bus of a trip.
type PassengerBusAssignment struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	PassengerID uint      `json:"passenger_id" gorm:"not null;uniqueIndex:uk_passenger_trip_assignment"`
	TripID      uint      `json:"trip_id" gorm:"not null;uniqueIndex:uk_passenger_trip_assignment;index:idx_assignments_trip_trip_bus"`
	TripBusID   uint      `json:"trip_bus_id" gorm:"not null;index:idx_assignments_trip_trip_bus"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	TripBus *TripBus `json:"trip_bus,omitempty" gorm:"foreignKey:TripBusID"`
}

// PassengerTransfer records a passenger moving between buses. One per passenger.
type PassengerTransfer struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	PassengerID   uint      `json:"passenger_id" gorm:"not null;uniqueIndex"`
	FromTripBusID *uint     `json:"from_trip_bus_id"`
	ToTripBusID   uint      `json:"to_trip_bus_id" gorm:"not null"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type PassengerRequest struct {
	TripID uint   `json:"trip" binding:"required"`
	Name   string `json:"name" binding:"required,max=255"`
	Phone  string `json:"phone" binding:"max=30"`
	Note   string `json:"note"`
}

type AssignPassengerRequest struct {
	TripBusID uint `json:"trip_bus" binding:"required"`
}

type TransferPassengerRequest struct {
	ToTripBusID uint `json:"to_trip_bus" binding:"required"`
}
