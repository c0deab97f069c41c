package models

import (
	"encoding/json"
	"time"
)

const (
	RoleAdmin   = "admin"
	RoleScanner = "scanner"
	RoleUser    = "user"
)

// DefaultAccessLevel is applied to active users that currently hold no
// in-window assignment.
const (
	DefaultAccessLevel         = "general"
	DefaultAccessLevelPriority = 1
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AccessLevel struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	IsActive    bool   `json:"is_active"`
}

type Area struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	RequiresScan bool   `json:"requires_scan"`
	IsActive     bool   `json:"is_active"`
}

type AccessAssignment struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	AccessLevelID int64     `json:"access_level_id"`
	AreaID        int64     `json:"area_id"`
	ValidFrom     time.Time `json:"valid_from"`
	ValidUntil    time.Time `json:"valid_until"`
	IsActive      bool      `json:"is_active"`
}

// SnapshotRow is the computed authorization projection for one user: the
// highest-priority access level among the user's active, in-window
// assignments, plus the deduplicated set of areas those assignments cover.
// It is derived on demand from the relational store and never persisted.
type SnapshotRow struct {
	UserID         int64    `json:"id"`
	Email          string   `json:"email"`
	Name           string   `json:"name"`
	Phone          string   `json:"phone"`
	AccessLevel    string   `json:"access_level"`
	AccessPriority int      `json:"access_priority"`
	AllowedAreas   []string `json:"allowed_areas"`
	AllowedAreaIDs []int64  `json:"allowed_area_ids"`
	IsActive       bool     `json:"is_active"`
}

// HasAreaID reports whether the row authorizes the given area.
func (r SnapshotRow) HasAreaID(areaID int64) bool {
	for _, id := range r.AllowedAreaIDs {
		if id == areaID {
			return true
		}
	}
	return false
}

type ScanLog struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	AreaID        int64           `json:"area_id"`
	ScannerUserID *int64          `json:"scanner_user_id"`
	AccessGranted bool            `json:"access_granted"`
	FailureReason string          `json:"failure_reason,omitempty"`
	ScannedAt     time.Time       `json:"scanned_at"`
	DeviceInfo    json.RawMessage `json:"device_info,omitempty"`
}
