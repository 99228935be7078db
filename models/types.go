// File: /models/types.go
package models

import (
	"encoding/json"
	"time"
)

// ProgressStatus is shared by trips and rounds.
type ProgressStatus string

const (
	StatusPlanned ProgressStatus = "planned"
	StatusDoing   ProgressStatus = "doing"
	StatusDone    ProgressStatus = "done"
)

// IsValid reports whether s is one of the known statuses
func (s ProgressStatus) IsValid() bool {
	switch s {
	case StatusPlanned, StatusDoing, StatusDone:
		return true
	}
	return false
}

// Role names seeded on first start
const (
	RoleAdmin       = "admin"
	RoleTourManager = "tour_manager"
	RoleFleetLead   = "fleet_lead"
	RoleDriver      = "driver"
)

// Pagination describes a page of a list response.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPage  int   `json:"total_page"`
	TotalItems int64 `json:"total_items"`
}

// NullableTime records whether a JSON field was present, so an explicit null
// can clear a value while an absent field leaves it alone.
type NullableTime struct {
	Set   bool
	Value *time.Time
}

func (n *NullableTime) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	n.Value = &t
	return nil
}
