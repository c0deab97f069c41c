package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BoldFlame-Enterprises/verigate-backend/internal/cache"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/credential"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/models"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/store"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/verify"
)

type fakeStore struct {
	mu sync.Mutex

	createUserFn   func(ctx context.Context, input store.CreateUserInput) (models.User, error)
	userByEmailFn  func(ctx context.Context, email string) (models.User, string, error)
	deactivateFn   func(ctx context.Context, userID int64) error
	userSnapshotFn func(ctx context.Context, userID int64) (models.SnapshotRow, error)
	usersSnapFn    func(ctx context.Context) (store.UsersSnapshot, error)
	areasSnapFn    func(ctx context.Context) (store.AreasSnapshot, error)
	versionsFn     func(ctx context.Context) (int64, int64, error)
	listAreasFn    func(ctx context.Context) ([]models.Area, error)
	listLevelsFn   func(ctx context.Context) ([]models.AccessLevel, error)

	usersSnapCalls int
	scanLogs       map[string]store.ScanLogInput
}

func (f *fakeStore) CreateUser(ctx context.Context, input store.CreateUserInput) (models.User, error) {
	if f.createUserFn == nil {
		return models.User{ID: 1, Email: input.Email, Name: input.Name, Role: input.Role, IsActive: true}, nil
	}
	return f.createUserFn(ctx, input)
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (models.User, string, error) {
	if f.userByEmailFn == nil {
		return models.User{}, "", store.ErrNotFound
	}
	return f.userByEmailFn(ctx, email)
}

func (f *fakeStore) DeactivateUser(ctx context.Context, userID int64) error {
	if f.deactivateFn == nil {
		return store.ErrNotFound
	}
	return f.deactivateFn(ctx, userID)
}

func (f *fakeStore) GetUserSnapshot(ctx context.Context, userID int64) (models.SnapshotRow, error) {
	if f.userSnapshotFn == nil {
		return models.SnapshotRow{}, store.ErrNotFound
	}
	return f.userSnapshotFn(ctx, userID)
}

func (f *fakeStore) GetUsersSnapshot(ctx context.Context) (store.UsersSnapshot, error) {
	f.mu.Lock()
	f.usersSnapCalls++
	f.mu.Unlock()
	if f.usersSnapFn == nil {
		return store.UsersSnapshot{Rows: []models.SnapshotRow{}, Checksum: store.SnapshotChecksum(nil)}, nil
	}
	return f.usersSnapFn(ctx)
}

func (f *fakeStore) GetAreasSnapshot(ctx context.Context) (store.AreasSnapshot, error) {
	if f.areasSnapFn == nil {
		return store.AreasSnapshot{Areas: []models.Area{}, Checksum: store.AreasChecksum(nil)}, nil
	}
	return f.areasSnapFn(ctx)
}

func (f *fakeStore) CurrentVersions(ctx context.Context) (int64, int64, error) {
	if f.versionsFn == nil {
		return 0, 0, nil
	}
	return f.versionsFn(ctx)
}

func (f *fakeStore) ListAreas(ctx context.Context) ([]models.Area, error) {
	if f.listAreasFn == nil {
		return nil, nil
	}
	return f.listAreasFn(ctx)
}

func (f *fakeStore) ListAccessLevels(ctx context.Context) ([]models.AccessLevel, error) {
	if f.listLevelsFn == nil {
		return nil, nil
	}
	return f.listLevelsFn(ctx)
}

// IngestScanLogs mimics the database uniqueness constraint on
// (user_id, scanned_at) so ingestion idempotency is observable in tests.
func (f *fakeStore) IngestScanLogs(ctx context.Context, entries []store.ScanLogInput, scannerUserID *int64) (store.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanLogs == nil {
		f.scanLogs = make(map[string]store.ScanLogInput)
	}
	var result store.IngestResult
	for _, entry := range entries {
		key := fmt.Sprintf("%d|%d", entry.UserID, entry.ScannedAt.UnixMilli())
		if _, exists := f.scanLogs[key]; exists {
			result.Duplicates++
			continue
		}
		f.scanLogs[key] = entry
		result.Processed++
	}
	return result, nil
}

const testQRSecret = "test-qr-secret"

func testTokens() *TokenManager {
	return NewTokenManager("access-secret", "refresh-secret", time.Hour, 24*time.Hour)
}

func newTestHandler(t *testing.T, st store.Store) http.Handler {
	t.Helper()
	codec := credential.NewCodec(testQRSecret, time.Hour)
	tokens := testTokens()
	h := NewHandler(Config{
		Store:        st,
		Cache:        cache.NewMemory(),
		Codec:        codec,
		Verifier:     verify.New(codec, st, false),
		Tokens:       tokens,
		CacheTTL:     time.Minute,
		StoreTimeout: time.Second,
	})
	return AuthMiddleware(tokens, h.Routes())
}

func authHeader(t *testing.T, role string) string {
	t.Helper()
	access, _, err := testTokens().GeneratePair(models.User{ID: 9, Email: role + "@example.com", Role: role})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return "Bearer " + access
}

func doJSON(t *testing.T, handler http.Handler, method, path, auth string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func decodeData(t *testing.T, resp *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, resp.Body.String())
	}
	if out != nil && envelope.Data != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	st := &fakeStore{
		createUserFn: func(ctx context.Context, input store.CreateUserInput) (models.User, error) {
			return models.User{}, store.ErrDuplicateEmail
		},
	}
	handler := newTestHandler(t, st)

	resp := doJSON(t, handler, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "dup@example.com",
		"name":     "Dup User",
		"phone":    "+1234567890",
		"password": "password123",
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body %s)", resp.Code, resp.Body.String())
	}
}

func TestLoginDeactivatedAccount(t *testing.T) {
	st := &fakeStore{
		userByEmailFn: func(ctx context.Context, email string) (models.User, string, error) {
			return models.User{ID: 5, Email: email, IsActive: false}, "$2a$10$hash", nil
		},
	}
	handler := newTestHandler(t, st)

	resp := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "gone@example.com",
		"password": "password123",
	})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Code)
	}
}

func TestProtectedEndpointRequiresToken(t *testing.T) {
	handler := newTestHandler(t, &fakeStore{})
	resp := doJSON(t, handler, http.MethodGet, "/api/qr/generate", "", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Code)
	}
}

func TestSyncEndpointsRejectUserRole(t *testing.T) {
	handler := newTestHandler(t, &fakeStore{})
	for _, path := range []string{"/api/sync/users-database", "/api/sync/areas-database", "/api/sync/check-updates"} {
		resp := doJSON(t, handler, http.MethodGet, path, authHeader(t, models.RoleUser), nil)
		if resp.Code != http.StatusForbidden {
			t.Fatalf("%s: status = %d, want 403", path, resp.Code)
		}
	}
}

func vipSnapshotRow() models.SnapshotRow {
	return models.SnapshotRow{
		UserID:         9,
		Email:          "user@example.com",
		Name:           "Vera Iverson",
		AccessLevel:    "VIP",
		AccessPriority: 5,
		AllowedAreas:   []string{"Main Arena"},
		AllowedAreaIDs: []int64{1},
		IsActive:       true,
	}
}

func TestQRGenerateRoundTrip(t *testing.T) {
	st := &fakeStore{
		userSnapshotFn: func(ctx context.Context, userID int64) (models.SnapshotRow, error) {
			if userID != 9 {
				return models.SnapshotRow{}, store.ErrNotFound
			}
			return vipSnapshotRow(), nil
		},
	}
	handler := newTestHandler(t, st)

	resp := doJSON(t, handler, http.MethodGet, "/api/qr/generate", authHeader(t, models.RoleUser), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", resp.Code, resp.Body.String())
	}

	var data struct {
		QRContent   string `json:"qr_content"`
		ExpiresAt   int64  `json:"expires_at"`
		GeneratedAt int64  `json:"generated_at"`
	}
	decodeData(t, resp, &data)

	cred, err := credential.NewCodec(testQRSecret, time.Hour).Parse(data.QRContent)
	if err != nil {
		t.Fatalf("issued QR content does not parse: %v", err)
	}
	if cred.UserID != 9 || cred.AccessLevel != "VIP" {
		t.Fatalf("credential = %+v", cred)
	}
	if data.ExpiresAt-data.GeneratedAt != time.Hour.Milliseconds() {
		t.Fatalf("TTL = %dms, want 1h", data.ExpiresAt-data.GeneratedAt)
	}
}

func TestQRVerifyGrantedAndLogged(t *testing.T) {
	st := &fakeStore{
		userSnapshotFn: func(ctx context.Context, userID int64) (models.SnapshotRow, error) {
			return vipSnapshotRow(), nil
		},
	}
	handler := newTestHandler(t, st)

	token, _, err := credential.NewCodec(testQRSecret, time.Hour).Issue(vipSnapshotRow(), time.Now().UTC())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	resp := doJSON(t, handler, http.MethodPost, "/api/qr/verify", "", map[string]interface{}{
		"qr_content": token,
		"area_id":    1,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", resp.Code, resp.Body.String())
	}
	var data struct {
		AccessGranted bool   `json:"access_granted"`
		UserName      string `json:"user_name"`
		AccessLevel   string `json:"access_level"`
	}
	decodeData(t, resp, &data)
	if !data.AccessGranted || data.UserName != "Vera Iverson" || data.AccessLevel != "VIP" {
		t.Fatalf("data = %+v", data)
	}
	if len(st.scanLogs) != 1 {
		t.Fatalf("scan log entries = %d, want 1", len(st.scanLogs))
	}
	for _, entry := range st.scanLogs {
		if !entry.AccessGranted || entry.AreaID != 1 {
			t.Fatalf("logged entry = %+v", entry)
		}
	}
}

func TestQRVerifyRevokedAccessDenied(t *testing.T) {
	revoked := vipSnapshotRow()
	revoked.AllowedAreas = []string{}
	revoked.AllowedAreaIDs = []int64{}
	st := &fakeStore{
		userSnapshotFn: func(ctx context.Context, userID int64) (models.SnapshotRow, error) {
			return revoked, nil
		},
	}
	handler := newTestHandler(t, st)

	token, _, err := credential.NewCodec(testQRSecret, time.Hour).Issue(vipSnapshotRow(), time.Now().UTC())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	resp := doJSON(t, handler, http.MethodPost, "/api/qr/verify", "", map[string]interface{}{
		"qr_content": token,
		"area_id":    1,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	var data struct {
		AccessGranted bool   `json:"access_granted"`
		Reason        string `json:"reason"`
	}
	decodeData(t, resp, &data)
	if data.AccessGranted {
		t.Fatal("revoked access still granted")
	}
	for _, entry := range st.scanLogs {
		if entry.AccessGranted || entry.FailureReason == "" {
			t.Fatalf("logged entry = %+v, want denial with reason", entry)
		}
	}
}

func TestQRVerifyMalformed(t *testing.T) {
	handler := newTestHandler(t, &fakeStore{})
	resp := doJSON(t, handler, http.MethodPost, "/api/qr/verify", "", map[string]interface{}{
		"qr_content": "garbage",
		"area_id":    1,
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}

func TestScanLogIngestionIdempotent(t *testing.T) {
	st := &fakeStore{}
	handler := newTestHandler(t, st)

	scannedAt := time.Now().UTC().Truncate(time.Millisecond)
	payload := map[string]interface{}{
		"device_id": "scanner-7",
		"logs": []map[string]interface{}{
			{"user_id": 1, "area_id": 1, "access_granted": true, "scanned_at": scannedAt.Format(time.RFC3339Nano)},
			{"user_id": 2, "area_id": 1, "access_granted": false, "failure_reason": "credential expired", "scanned_at": scannedAt.Format(time.RFC3339Nano)},
		},
	}

	first := doJSON(t, handler, http.MethodPost, "/api/sync/scan-logs", authHeader(t, models.RoleScanner), payload)
	if first.Code != http.StatusOK {
		t.Fatalf("first upload status = %d (body %s)", first.Code, first.Body.String())
	}
	var firstData struct {
		Processed  int `json:"processed"`
		Duplicates int `json:"duplicates"`
		Errors     int `json:"errors"`
		Total      int `json:"total"`
	}
	decodeData(t, first, &firstData)
	if firstData.Processed != 2 || firstData.Duplicates != 0 || firstData.Errors != 0 {
		t.Fatalf("first = %+v", firstData)
	}

	second := doJSON(t, handler, http.MethodPost, "/api/sync/scan-logs", authHeader(t, models.RoleScanner), payload)
	var secondData struct {
		Processed  int `json:"processed"`
		Duplicates int `json:"duplicates"`
		Errors     int `json:"errors"`
		Total      int `json:"total"`
	}
	decodeData(t, second, &secondData)
	if secondData.Processed != 0 || secondData.Duplicates != 2 || secondData.Errors != 0 {
		t.Fatalf("second = %+v", secondData)
	}
	if len(st.scanLogs) != 2 {
		t.Fatalf("persisted rows = %d, want 2", len(st.scanLogs))
	}
}

func TestScanLogIngestionRejectsBadEntriesNotBatch(t *testing.T) {
	st := &fakeStore{}
	handler := newTestHandler(t, st)

	payload := map[string]interface{}{
		"device_id": "scanner-7",
		"logs": []map[string]interface{}{
			{"user_id": 0, "area_id": 1, "access_granted": true, "scanned_at": time.Now().UTC().Format(time.RFC3339)},
			{"user_id": 3, "area_id": 1, "access_granted": true, "scanned_at": time.Now().UTC().Format(time.RFC3339)},
		},
	}
	resp := doJSON(t, handler, http.MethodPost, "/api/sync/scan-logs", authHeader(t, models.RoleAdmin), payload)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite entry error", resp.Code)
	}
	var data struct {
		Processed int `json:"processed"`
		Errors    int `json:"errors"`
		Total     int `json:"total"`
	}
	decodeData(t, resp, &data)
	if data.Processed != 1 || data.Errors != 1 || data.Total != 2 {
		t.Fatalf("data = %+v", data)
	}
}

func TestCheckUpdatesMonotonic(t *testing.T) {
	st := &fakeStore{
		versionsFn: func(ctx context.Context) (int64, int64, error) {
			return 1000, 2000, nil
		},
	}
	handler := newTestHandler(t, st)

	cases := []struct {
		query string
		users bool
		areas bool
	}{
		{"users_version=1000&areas_version=2000", false, false},
		{"users_version=999&areas_version=2000", true, false},
		{"users_version=1000&areas_version=1999", false, true},
		{"users_version=1001&areas_version=2001", false, false},
		{"", true, true},
	}
	for _, tt := range cases {
		resp := doJSON(t, handler, http.MethodGet, "/api/sync/check-updates?"+tt.query, authHeader(t, models.RoleScanner), nil)
		if resp.Code != http.StatusOK {
			t.Fatalf("%q: status = %d", tt.query, resp.Code)
		}
		var data struct {
			UsersUpdateAvailable bool  `json:"users_update_available"`
			AreasUpdateAvailable bool  `json:"areas_update_available"`
			CurrentUsersVersion  int64 `json:"current_users_version"`
		}
		decodeData(t, resp, &data)
		if data.UsersUpdateAvailable != tt.users || data.AreasUpdateAvailable != tt.areas {
			t.Fatalf("%q: got users=%v areas=%v, want users=%v areas=%v", tt.query, data.UsersUpdateAvailable, data.AreasUpdateAvailable, tt.users, tt.areas)
		}
		if data.CurrentUsersVersion != 1000 {
			t.Fatalf("%q: current_users_version = %d", tt.query, data.CurrentUsersVersion)
		}
	}
}

func TestSyncUsersServedFromCacheWhileVersionUnchanged(t *testing.T) {
	st := &fakeStore{
		usersSnapFn: func(ctx context.Context) (store.UsersSnapshot, error) {
			rows := []models.SnapshotRow{vipSnapshotRow()}
			return store.UsersSnapshot{Rows: rows, Checksum: store.SnapshotChecksum(rows), Version: 1234}, nil
		},
		versionsFn: func(ctx context.Context) (int64, int64, error) {
			return 1234, 0, nil
		},
	}
	handler := newTestHandler(t, st)

	for i := 0; i < 3; i++ {
		resp := doJSON(t, handler, http.MethodGet, "/api/sync/users-database", authHeader(t, models.RoleScanner), nil)
		if resp.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, resp.Code)
		}
		var data struct {
			Users    []models.SnapshotRow `json:"users"`
			Metadata struct {
				Checksum string `json:"checksum"`
				Count    int    `json:"count"`
				Version  int64  `json:"version"`
			} `json:"metadata"`
		}
		decodeData(t, resp, &data)
		if data.Metadata.Count != 1 || data.Metadata.Version != 1234 || data.Metadata.Checksum == "" {
			t.Fatalf("request %d: metadata = %+v", i, data.Metadata)
		}
	}

	if st.usersSnapCalls != 1 {
		t.Fatalf("full snapshot computed %d times, want 1 (cache should serve repeats)", st.usersSnapCalls)
	}
}

func TestAdminDeactivateUser(t *testing.T) {
	var deactivated int64
	st := &fakeStore{
		deactivateFn: func(ctx context.Context, userID int64) error {
			deactivated = userID
			return nil
		},
	}
	handler := newTestHandler(t, st)

	resp := doJSON(t, handler, http.MethodPost, "/api/admin/users/42/deactivate", authHeader(t, models.RoleAdmin), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", resp.Code, resp.Body.String())
	}
	if deactivated != 42 {
		t.Fatalf("deactivated user = %d, want 42", deactivated)
	}

	resp = doJSON(t, handler, http.MethodPost, "/api/admin/users/42/deactivate", authHeader(t, models.RoleScanner), nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("scanner role status = %d, want 403", resp.Code)
	}
}
