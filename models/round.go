// File: /models/round.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Round is a scheduled stop of a trip. Status and ActualTime are derived from
// the finalize state of its RoundBus rows.
type Round struct {
	ID           string         `json:"id" gorm:"primaryKey;size:36"`
	TripID       uint           `json:"trip_id" gorm:"not null;uniqueIndex:uk_rounds_trip_sequence"`
	Name         string         `json:"name" gorm:"not null;size:255"`
	Location     string         `json:"location" gorm:"not null;size:255"`
	Sequence     uint           `json:"sequence" gorm:"not null;uniqueIndex:uk_rounds_trip_sequence"`
	EstimateTime time.Time      `json:"estimate_time" gorm:"not null"`
	ActualTime   *time.Time     `json:"actual_time"`
	Status       ProgressStatus `json:"status" gorm:"not null;size:20;default:'planned'"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`

	Trip       *Trip      `json:"trip,omitempty" gorm:"foreignKey:TripID"`
	RoundBuses []RoundBus `json:"round_buses,omitempty" gorm:"foreignKey:RoundID;constraint:OnDelete:CASCADE"`
}

func (r *Round) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = StatusPlanned
	}
	return nil
}

// RoundBus is one trip bus's completion state for one round.
type RoundBus struct {
	ID          string     `json:"id" gorm:"primaryKey;size:36"`
	RoundID     string     `json:"round_id" gorm:"not null;size:36;uniqueIndex:uk_round_buses_round_trip_bus"`
	TripBusID   uint       `json:"trip_bus_id" gorm:"not null;uniqueIndex:uk_round_buses_round_trip_bus"`
	FinalizedAt *time.Time `json:"finalized_at"`
	FinalizedBy *uint      `json:"finalized_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Round   *Round   `json:"round,omitempty" gorm:"foreignKey:RoundID"`
	TripBus *TripBus `json:"trip_bus,omitempty" gorm:"foreignKey:TripBusID"`
}

func (rb *RoundBus) BeforeCreate(tx *gorm.DB) error {
	if rb.ID == "" {
		rb.ID = uuid.New().String()
	}
	return nil
}

// RoundBusProgress is the aggregate over a round's RoundBus rows.
type RoundBusProgress struct {
	Total             int
	FinalizedCount    int
	LatestFinalizedAt *time.Time
}

// AllFinalized reports whether every bus of a non-empty round has finalized.
func (p RoundBusProgress) AllFinalized() bool {
	return p.Total > 0 && p.FinalizedCount == p.Total && p.LatestFinalizedAt != nil
}

// SummarizeFinalizedAt aggregates finalize timestamps, one entry per RoundBus row.
func SummarizeFinalizedAt(finalized []*time.Time) RoundBusProgress {
	progress := RoundBusProgress{Total: len(finalized)}
	for _, at := range finalized {
		if at == nil {
			continue
		}
		progress.FinalizedCount++
		if progress.LatestFinalizedAt == nil || at.After(*progress.LatestFinalizedAt) {
			latest := *at
			progress.LatestFinalizedAt = &latest
		}
	}
	return progress
}

type CreateRoundRequest struct {
	TripID       uint      `json:"trip" binding:"required"`
	Name         string    `json:"name" binding:"required,max=255"`
	Location     string    `json:"location" binding:"required,max=255"`
	Sequence     uint      `json:"sequence" binding:"required"`
	EstimateTime time.Time `json:"estimate_time" binding:"required"`
}

// UpdateRoundRequest has no status or actual_time: both are derived.
type UpdateRoundRequest struct {
	Name         *string    `json:"name" binding:"omitempty,max=255"`
	Location     *string    `json:"location" binding:"omitempty,max=255"`
	Sequence     *uint      `json:"sequence" binding:"omitempty,gt=0"`
	EstimateTime *time.Time `json:"estimate_time"`
}

type CreateRoundBusRequest struct {
	RoundID     string     `json:"round" binding:"required,uuid"`
	TripBusID   uint       `json:"trip_bus" binding:"required"`
	FinalizedAt *time.Time `json:"finalized_at"`
}

type UpdateRoundBusRequest struct {
	TripBusID   *uint        `json:"trip_bus"`
	FinalizedAt NullableTime `json:"finalized_at"`
}
