package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BoldFlame-Enterprises/verigate-backend/internal/models"
)

type CreateUserInput struct {
	Email        string
	Name         string
	Phone        string
	PasswordHash string
	Role         string
}

// UsersSnapshot is the full authorization projection served to scanner
// devices: all active users with their computed access level and area set,
// plus a content checksum and a monotonic version marker for change
// detection.
type UsersSnapshot struct {
	Rows     []models.SnapshotRow
	Checksum string
	Version  int64
}

type AreasSnapshot struct {
	Areas    []models.Area
	Checksum string
	Version  int64
}

type ScanLogInput struct {
	UserID        int64
	AreaID        int64
	AccessGranted bool
	FailureReason string
	ScannedAt     time.Time
	DeviceInfo    json.RawMessage
}

// IngestFailure identifies a scan log entry that could not be persisted.
// Duplicates are not failures.
type IngestFailure struct {
	UserID    int64     `json:"user_id"`
	AreaID    int64     `json:"area_id"`
	ScannedAt time.Time `json:"scanned_at"`
	Reason    string    `json:"reason"`
}

type IngestResult struct {
	Processed  int
	Duplicates int
	Errors     int
	Failures   []IngestFailure
}

type Store interface {
	CreateUser(ctx context.Context, input CreateUserInput) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, string, error)
	DeactivateUser(ctx context.Context, userID int64) error

	GetUserSnapshot(ctx context.Context, userID int64) (models.SnapshotRow, error)
	GetUsersSnapshot(ctx context.Context) (UsersSnapshot, error)
	GetAreasSnapshot(ctx context.Context) (AreasSnapshot, error)
	CurrentVersions(ctx context.Context) (usersVersion, areasVersion int64, err error)

	ListAreas(ctx context.Context) ([]models.Area, error)
	ListAccessLevels(ctx context.Context) ([]models.AccessLevel, error)

	IngestScanLogs(ctx context.Context, entries []ScanLogInput, scannerUserID *int64) (IngestResult, error)
}
