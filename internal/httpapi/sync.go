package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/BoldFlame-Enterprises/verigate-backend/internal/models"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/store"
)

const (
	cacheKeyUsers = "sync:users-database"
	cacheKeyAreas = "sync:areas-database"
)

type syncMetadata struct {
	Checksum  string `json:"checksum"`
	Timestamp string `json:"timestamp"`
	Count     int    `json:"count"`
	Version   int64  `json:"version"`
}

type syncUsersResponse struct {
	Users    []models.SnapshotRow `json:"users"`
	Metadata syncMetadata         `json:"metadata"`
}

type syncAreasResponse struct {
	Areas    []models.Area `json:"areas"`
	Metadata syncMetadata  `json:"metadata"`
}

// cachedSnapshot pairs a serialized response body with the dataset version
// it was computed from. Staleness is detected by comparing the version
// against the store, never by trusting the cache TTL alone.
type cachedSnapshot struct {
	Version int64           `json:"version"`
	Body    json.RawMessage `json:"body"`
}

func (h *Handler) handleSyncUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireScannerOrAdmin(w, r); !ok {
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	if body, ok := h.cachedBody(ctx, cacheKeyUsers, func() (int64, error) {
		usersVersion, _, err := h.store.CurrentVersions(ctx)
		return usersVersion, err
	}); ok {
		writeRaw(w, http.StatusOK, body)
		return
	}

	snap, err := h.store.GetUsersSnapshot(ctx)
	if err != nil {
		writeStoreError(w, r, err, "Failed to get users database")
		return
	}
	if snap.Rows == nil {
		snap.Rows = []models.SnapshotRow{}
	}

	body, err := json.Marshal(apiResponse{Success: true, Data: syncUsersResponse{
		Users: snap.Rows,
		Metadata: syncMetadata{
			Checksum:  snap.Checksum,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Count:     len(snap.Rows),
			Version:   snap.Version,
		},
	}})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get users database")
		return
	}
	h.storeCached(r.Context(), cacheKeyUsers, snap.Version, body)
	writeRaw(w, http.StatusOK, body)
}

func (h *Handler) handleSyncAreas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireScannerOrAdmin(w, r); !ok {
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	if body, ok := h.cachedBody(ctx, cacheKeyAreas, func() (int64, error) {
		_, areasVersion, err := h.store.CurrentVersions(ctx)
		return areasVersion, err
	}); ok {
		writeRaw(w, http.StatusOK, body)
		return
	}

	snap, err := h.store.GetAreasSnapshot(ctx)
	if err != nil {
		writeStoreError(w, r, err, "Failed to get areas database")
		return
	}
	if snap.Areas == nil {
		snap.Areas = []models.Area{}
	}

	body, err := json.Marshal(apiResponse{Success: true, Data: syncAreasResponse{
		Areas: snap.Areas,
		Metadata: syncMetadata{
			Checksum:  snap.Checksum,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Count:     len(snap.Areas),
			Version:   snap.Version,
		},
	}})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get areas database")
		return
	}
	h.storeCached(r.Context(), cacheKeyAreas, snap.Version, body)
	writeRaw(w, http.StatusOK, body)
}

// cachedBody serves a cached snapshot response only when the store
// confirms the dataset version has not moved. Any cache or version error
// falls through to a fresh computation.
func (h *Handler) cachedBody(ctx context.Context, key string, currentVersion func() (int64, error)) ([]byte, bool) {
	raw, ok := h.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var cached cachedSnapshot
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		h.cache.Delete(ctx, key)
		return nil, false
	}
	version, err := currentVersion()
	if err != nil || version != cached.Version {
		return nil, false
	}
	return cached.Body, true
}

func (h *Handler) storeCached(ctx context.Context, key string, version int64, body []byte) {
	raw, err := json.Marshal(cachedSnapshot{Version: version, Body: body})
	if err != nil {
		return
	}
	h.cache.Set(ctx, key, string(raw), h.cacheTTL)
}

func (h *Handler) invalidateUsersCache(ctx context.Context) {
	h.cache.Delete(ctx, cacheKeyUsers)
}

type scanLogEntry struct {
	UserID        int64           `json:"user_id"`
	AreaID        int64           `json:"area_id"`
	AccessGranted bool            `json:"access_granted"`
	FailureReason string          `json:"failure_reason"`
	ScannedAt     time.Time       `json:"scanned_at"`
	DeviceInfo    json.RawMessage `json:"device_info"`
}

type scanLogsRequest struct {
	Logs     []scanLogEntry `json:"logs"`
	DeviceID string         `json:"device_id"`
}

type scanLogsResponse struct {
	Processed  int                   `json:"processed"`
	Duplicates int                   `json:"duplicates"`
	Errors     int                   `json:"errors"`
	Total      int                   `json:"total"`
	Failures   []store.IngestFailure `json:"failures,omitempty"`
}

func (h *Handler) handleSyncScanLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, ok := requireScannerOrAdmin(w, r)
	if !ok {
		return
	}

	var req scanLogsRequest
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&req); err != nil || req.Logs == nil {
		writeError(w, http.StatusBadRequest, "Invalid logs data")
		return
	}

	// Shape errors are per-entry failures, not batch failures: a sync job
	// re-uploading days of offline logs must never lose the whole batch to
	// one bad row.
	result := store.IngestResult{}
	entries := make([]store.ScanLogInput, 0, len(req.Logs))
	for _, log := range req.Logs {
		if log.UserID == 0 || log.AreaID == 0 || log.ScannedAt.IsZero() {
			result.Errors++
			result.Failures = append(result.Failures, store.IngestFailure{
				UserID:    log.UserID,
				AreaID:    log.AreaID,
				ScannedAt: log.ScannedAt,
				Reason:    "user_id, area_id and scanned_at are required",
			})
			continue
		}
		entries = append(entries, store.ScanLogInput{
			UserID:        log.UserID,
			AreaID:        log.AreaID,
			AccessGranted: log.AccessGranted,
			FailureReason: log.FailureReason,
			ScannedAt:     log.ScannedAt,
			DeviceInfo:    mergeDeviceInfo(log.DeviceInfo, map[string]interface{}{"device_id": req.DeviceID}),
		})
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()
	ingested, err := h.store.IngestScanLogs(ctx, entries, &claims.UserID)
	if err != nil {
		writeStoreError(w, r, err, "Failed to upload scan logs")
		return
	}

	result.Processed = ingested.Processed
	result.Duplicates = ingested.Duplicates
	result.Errors += ingested.Errors
	result.Failures = append(result.Failures, ingested.Failures...)

	writeData(w, http.StatusOK, scanLogsResponse{
		Processed:  result.Processed,
		Duplicates: result.Duplicates,
		Errors:     result.Errors,
		Total:      len(req.Logs),
		Failures:   result.Failures,
	})
}

func (h *Handler) handleCheckUpdates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireScannerOrAdmin(w, r); !ok {
		return
	}

	clientUsers := parseVersion(r.URL.Query().Get("users_version"))
	clientAreas := parseVersion(r.URL.Query().Get("areas_version"))

	ctx, cancel := h.storeCtx(r)
	defer cancel()
	usersVersion, areasVersion, err := h.store.CurrentVersions(ctx)
	if err != nil {
		writeStoreError(w, r, err, "Failed to check updates")
		return
	}

	// Strictly monotonic: a client at or ahead of the current version has
	// nothing to fetch.
	writeData(w, http.StatusOK, map[string]interface{}{
		"users_update_available": usersVersion > clientUsers,
		"areas_update_available": areasVersion > clientAreas,
		"current_users_version":  usersVersion,
		"current_areas_version":  areasVersion,
	})
}

func parseVersion(raw string) int64 {
	if raw == "" {
		return 0
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || version < 0 {
		return 0
	}
	return version
}

// mergeDeviceInfo folds extra fields into the client-supplied device
// metadata blob. The blob is forward-compatible and unvalidated, so an
// unparseable client value is kept under a raw key rather than dropped.
func mergeDeviceInfo(info json.RawMessage, extra map[string]interface{}) json.RawMessage {
	merged := make(map[string]interface{})
	if len(info) > 0 {
		if err := json.Unmarshal(info, &merged); err != nil {
			merged = map[string]interface{}{"raw": string(info)}
		}
	}
	for key, value := range extra {
		merged[key] = value
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil
	}
	return raw
}
