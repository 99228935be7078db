// File: /models/transaction.go
package models

import "time"

// Transaction is a passenger check-in (and optional check-out) on a round bus.
type Transaction struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	PassengerID uint       `json:"passenger_id" gorm:"not null;index:idx_transactions_passenger_round_bus"`
	RoundBusID  string     `json:"round_bus_id" gorm:"not null;size:36;index:idx_transactions_passenger_round_bus"`
	CheckIn     time.Time  `json:"check_in" gorm:"not null"`
	CheckOut    *time.Time `json:"check_out"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Passenger *Passenger `json:"passenger,omitempty" gorm:"foreignKey:PassengerID"`
	RoundBus  *RoundBus  `json:"round_bus,omitempty" gorm:"foreignKey:RoundBusID"`
}

type TransactionRequest struct {
	PassengerID uint       `json:"passenger" binding:"required"`
	RoundBusID  string     `json:"round_bus" binding:"required,uuid"`
	CheckIn     time.Time  `json:"check_in" binding:"required"`
	CheckOut    *time.Time `json:"check_out"`
}
