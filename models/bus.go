// File: /models/bus.go
package models

import "time"

type Bus struct {
	ID                 uint      `json:"id" gorm:"primaryKey"`
	RegistrationNumber string    `json:"registration_number" gorm:"uniqueIndex;not null;size:50"`
	BusCode            string    `json:"bus_code" gorm:"uniqueIndex;not null;size:50"`
	Capacity           uint      `json:"capacity" gorm:"not null"`
	Description        string    `json:"description" gorm:"type:text"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type BusRequest struct {
	RegistrationNumber string `json:"registration_number" binding:"required,max=50"`
	BusCode            string `json:"bus_code" binding:"required,max=50"`
	Capacity           uint   `json:"capacity" binding:"required,gt=0"`
	Description        string `json:"description"`
}
