package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/BoldFlame-Enterprises/verigate-backend/internal/models"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// unavailable translates a query-layer failure into the store boundary
// error so handlers never branch on driver error text.
func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

func (s *Store) CreateUser(ctx context.Context, input store.CreateUserInput) (models.User, error) {
	var user models.User
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, phone, password_hash, role, is_active, created_at, updated_at)
		VALUES (lower($1), $2, $3, $4, $5, TRUE, NOW(), NOW())
		RETURNING id, email, name, phone, role, is_active, created_at, updated_at
	`, input.Email, input.Name, input.Phone, input.PasswordHash, input.Role)
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Phone, &user.Role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.User{}, store.ErrDuplicateEmail
		}
		return models.User{}, unavailable(err)
	}
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, string, error) {
	var user models.User
	var passwordHash string
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, name, phone, password_hash, role, is_active, created_at, updated_at
		FROM users
		WHERE lower(email) = lower($1)
	`, email)
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Phone, &passwordHash, &user.Role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, "", store.ErrNotFound
		}
		return models.User{}, "", unavailable(err)
	}
	return user, passwordHash, nil
}

func (s *Store) DeactivateUser(ctx context.Context, userID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND is_active = TRUE
	`, userID)
	if err != nil {
		return unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// assignmentRow is one active, in-window assignment joined to its level and
// area. Rows arrive ordered best-level-first (priority DESC, level id ASC)
// so the first row per user decides the access level deterministically.
type assignmentRow struct {
	userID    int64
	levelID   int64
	levelName string
	priority  int
	areaID    int64
	areaName  string
}

const assignmentQuery = `
	SELECT aa.user_id, al.id, al.name, al.priority, a.id, a.name
	FROM access_assignments aa
	JOIN access_levels al ON al.id = aa.access_level_id AND al.is_active = TRUE
	JOIN areas a ON a.id = aa.area_id AND a.is_active = TRUE
	WHERE aa.is_active = TRUE
	  AND aa.valid_from <= NOW()
	  AND aa.valid_until > NOW()
`

func (s *Store) GetUserSnapshot(ctx context.Context, userID int64) (models.SnapshotRow, error) {
	var snap models.SnapshotRow
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, name, phone, is_active
		FROM users
		WHERE id = $1 AND is_active = TRUE
	`, userID)
	if err := row.Scan(&snap.UserID, &snap.Email, &snap.Name, &snap.Phone, &snap.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SnapshotRow{}, store.ErrNotFound
		}
		return models.SnapshotRow{}, unavailable(err)
	}

	rows, err := s.pool.Query(ctx, assignmentQuery+`
	  AND aa.user_id = $1
	ORDER BY al.priority DESC, al.id ASC, a.id ASC
	`, userID)
	if err != nil {
		return models.SnapshotRow{}, unavailable(err)
	}
	defer rows.Close()

	assignments, err := scanAssignments(rows)
	if err != nil {
		return models.SnapshotRow{}, unavailable(err)
	}
	applyAssignments(&snap, assignments)
	return snap, nil
}

func (s *Store) GetUsersSnapshot(ctx context.Context) (store.UsersSnapshot, error) {
	userRows, err := s.pool.Query(ctx, `
		SELECT id, email, name, phone, is_active
		FROM users
		WHERE is_active = TRUE
		ORDER BY id
	`)
	if err != nil {
		return store.UsersSnapshot{}, unavailable(err)
	}
	defer userRows.Close()

	var snaps []models.SnapshotRow
	index := make(map[int64]int)
	for userRows.Next() {
		var snap models.SnapshotRow
		if err := userRows.Scan(&snap.UserID, &snap.Email, &snap.Name, &snap.Phone, &snap.IsActive); err != nil {
			return store.UsersSnapshot{}, unavailable(err)
		}
		index[snap.UserID] = len(snaps)
		snaps = append(snaps, snap)
	}
	if err := userRows.Err(); err != nil {
		return store.UsersSnapshot{}, unavailable(err)
	}

	assignRows, err := s.pool.Query(ctx, assignmentQuery+`
	ORDER BY aa.user_id ASC, al.priority DESC, al.id ASC, a.id ASC
	`)
	if err != nil {
		return store.UsersSnapshot{}, unavailable(err)
	}
	defer assignRows.Close()

	assignments, err := scanAssignments(assignRows)
	if err != nil {
		return store.UsersSnapshot{}, unavailable(err)
	}
	perUser := make(map[int64][]assignmentRow)
	for _, a := range assignments {
		perUser[a.userID] = append(perUser[a.userID], a)
	}
	for userID, i := range index {
		applyAssignments(&snaps[i], perUser[userID])
	}

	version, err := s.usersVersion(ctx)
	if err != nil {
		return store.UsersSnapshot{}, err
	}

	return store.UsersSnapshot{
		Rows:     snaps,
		Checksum: store.SnapshotChecksum(snaps),
		Version:  version,
	}, nil
}

func (s *Store) GetAreasSnapshot(ctx context.Context) (store.AreasSnapshot, error) {
	areas, err := s.ListAreas(ctx)
	if err != nil {
		return store.AreasSnapshot{}, err
	}
	version, err := s.areasVersion(ctx)
	if err != nil {
		return store.AreasSnapshot{}, err
	}
	return store.AreasSnapshot{
		Areas:    areas,
		Checksum: store.AreasChecksum(areas),
		Version:  version,
	}, nil
}

func (s *Store) CurrentVersions(ctx context.Context) (int64, int64, error) {
	usersVersion, err := s.usersVersion(ctx)
	if err != nil {
		return 0, 0, err
	}
	areasVersion, err := s.areasVersion(ctx)
	if err != nil {
		return 0, 0, err
	}
	return usersVersion, areasVersion, nil
}

// usersVersion is derived from data, not the wall clock: unchanged rows
// must keep reporting the same version across calls.
func (s *Store) usersVersion(ctx context.Context) (int64, error) {
	var version int64
	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE((EXTRACT(EPOCH FROM MAX(updated_at)) * 1000)::BIGINT, 0)
		FROM users
		WHERE is_active = TRUE
	`)
	if err := row.Scan(&version); err != nil {
		return 0, unavailable(err)
	}
	return version, nil
}

func (s *Store) areasVersion(ctx context.Context) (int64, error) {
	var version int64
	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE((EXTRACT(EPOCH FROM MAX(updated_at)) * 1000)::BIGINT, 0)
		FROM areas
		WHERE is_active = TRUE
	`)
	if err := row.Scan(&version); err != nil {
		return 0, unavailable(err)
	}
	return version, nil
}

func (s *Store) ListAreas(ctx context.Context) ([]models.Area, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, COALESCE(description, ''), requires_scan, is_active
		FROM areas
		WHERE is_active = TRUE
		ORDER BY id
	`)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var areas []models.Area
	for rows.Next() {
		var area models.Area
		if err := rows.Scan(&area.ID, &area.Name, &area.Description, &area.RequiresScan, &area.IsActive); err != nil {
			return nil, unavailable(err)
		}
		areas = append(areas, area)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return areas, nil
}

func (s *Store) ListAccessLevels(ctx context.Context) ([]models.AccessLevel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, COALESCE(description, ''), priority, is_active
		FROM access_levels
		WHERE is_active = TRUE
		ORDER BY priority DESC, id
	`)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var levels []models.AccessLevel
	for rows.Next() {
		var level models.AccessLevel
		if err := rows.Scan(&level.ID, &level.Name, &level.Description, &level.Priority, &level.IsActive); err != nil {
			return nil, unavailable(err)
		}
		levels = append(levels, level)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return levels, nil
}

// IngestScanLogs persists a batch of scan events. Entries are independent:
// a uniqueness conflict on (user_id, scanned_at) is a suppressed duplicate,
// any other failure is recorded per entry, and the batch itself never
// fails once admitted.
func (s *Store) IngestScanLogs(ctx context.Context, entries []store.ScanLogInput, scannerUserID *int64) (store.IngestResult, error) {
	var result store.IngestResult
	for i, entry := range entries {
		if ctx.Err() != nil {
			for _, rest := range entries[i:] {
				result.Errors++
				result.Failures = append(result.Failures, store.IngestFailure{
					UserID:    rest.UserID,
					AreaID:    rest.AreaID,
					ScannedAt: rest.ScannedAt,
					Reason:    "store unavailable",
				})
			}
			break
		}

		tag, err := s.pool.Exec(ctx, `
			INSERT INTO scan_logs (user_id, area_id, scanner_user_id, access_granted, failure_reason, scanned_at, device_info)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
			ON CONFLICT (user_id, scanned_at) DO NOTHING
		`, entry.UserID, entry.AreaID, scannerUserID, entry.AccessGranted, entry.FailureReason, entry.ScannedAt, entry.DeviceInfo)
		if err != nil {
			result.Errors++
			result.Failures = append(result.Failures, store.IngestFailure{
				UserID:    entry.UserID,
				AreaID:    entry.AreaID,
				ScannedAt: entry.ScannedAt,
				Reason:    "insert failed",
			})
			continue
		}
		if tag.RowsAffected() == 0 {
			result.Duplicates++
			continue
		}
		result.Processed++
	}
	return result, nil
}

func scanAssignments(rows pgx.Rows) ([]assignmentRow, error) {
	var assignments []assignmentRow
	for rows.Next() {
		var a assignmentRow
		if err := rows.Scan(&a.userID, &a.levelID, &a.levelName, &a.priority, &a.areaID, &a.areaName); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

// applyAssignments fills in the computed access level and area set for one
// user. Assignments arrive best-level-first, so the first one wins the
// level; areas are collected from every assignment and deduplicated.
func applyAssignments(snap *models.SnapshotRow, assignments []assignmentRow) {
	snap.AccessLevel = models.DefaultAccessLevel
	snap.AccessPriority = models.DefaultAccessLevelPriority
	snap.AllowedAreas = []string{}
	snap.AllowedAreaIDs = []int64{}

	if len(assignments) == 0 {
		return
	}
	snap.AccessLevel = assignments[0].levelName
	snap.AccessPriority = assignments[0].priority

	seen := make(map[int64]bool)
	for _, a := range assignments {
		if seen[a.areaID] {
			continue
		}
		seen[a.areaID] = true
		snap.AllowedAreas = append(snap.AllowedAreas, a.areaName)
		snap.AllowedAreaIDs = append(snap.AllowedAreaIDs, a.areaID)
	}
}
