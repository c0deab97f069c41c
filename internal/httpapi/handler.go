package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/BoldFlame-Enterprises/verigate-backend/internal/cache"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/credential"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/models"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/store"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/verify"

	"golang.org/x/crypto/bcrypt"
)

type Handler struct {
	store        store.Store
	cache        cache.Cache
	codec        *credential.Codec
	verifier     *verify.Verifier
	tokens       *TokenManager
	cacheTTL     time.Duration
	storeTimeout time.Duration
}

type Config struct {
	Store        store.Store
	Cache        cache.Cache
	Codec        *credential.Codec
	Verifier     *verify.Verifier
	Tokens       *TokenManager
	CacheTTL     time.Duration
	StoreTimeout time.Duration
}

func NewHandler(cfg Config) *Handler {
	return &Handler{
		store:        cfg.Store,
		cache:        cfg.Cache,
		codec:        cfg.Codec,
		verifier:     cfg.Verifier,
		tokens:       cfg.Tokens,
		cacheTTL:     cfg.CacheTTL,
		storeTimeout: cfg.StoreTimeout,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/auth/register", h.handleRegister)
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/api/users/me", h.handleMe)
	mux.HandleFunc("/api/areas", h.handleAreas)
	mux.HandleFunc("/api/access-levels", h.handleAccessLevels)
	mux.HandleFunc("/api/qr/generate", h.handleQRGenerate)
	mux.HandleFunc("/api/qr/verify", h.handleQRVerify)
	mux.HandleFunc("/api/sync/users-database", h.handleSyncUsers)
	mux.HandleFunc("/api/sync/areas-database", h.handleSyncAreas)
	mux.HandleFunc("/api/sync/scan-logs", h.handleSyncScanLogs)
	mux.HandleFunc("/api/sync/check-updates", h.handleCheckUpdates)
	mux.HandleFunc("/api/admin/users/", h.handleAdminUser)
	return mux
}

// storeCtx bounds every store round trip so a wedged database surfaces as
// StoreUnavailable instead of a hung request.
func (h *Handler) storeCtx(r *http.Request) (context.Context, context.CancelFunc) {
	if h.storeTimeout <= 0 {
		return r.Context(), func() {}
	}
	return context.WithTimeout(r.Context(), h.storeTimeout)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type authResponse struct {
	User         models.User `json:"user"`
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Role == "" {
		req.Role = models.RoleUser
	}

	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "A valid email is required")
		return
	}
	if len(req.Name) < 2 || len(req.Name) > 100 {
		writeError(w, http.StatusBadRequest, "Name must be 2-100 characters")
		return
	}
	if len(req.Phone) < 10 || len(req.Phone) > 15 {
		writeError(w, http.StatusBadRequest, "Phone must be 10-15 characters")
		return
	}
	if len(req.Password) < 8 || len(req.Password) > 128 {
		writeError(w, http.StatusBadRequest, "Password must be 8-128 characters")
		return
	}
	if req.Role != models.RoleUser && req.Role != models.RoleScanner && req.Role != models.RoleAdmin {
		writeError(w, http.StatusBadRequest, "Unknown role")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()
	user, err := h.store.CreateUser(ctx, store.CreateUserInput{
		Email:        req.Email,
		Name:         req.Name,
		Phone:        req.Phone,
		PasswordHash: string(hash),
		Role:         req.Role,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			writeError(w, http.StatusConflict, "User already exists with this email")
			return
		}
		writeStoreError(w, r, err, "Failed to register user")
		return
	}
	h.invalidateUsersCache(r.Context())

	access, refresh, err := h.tokens.GeneratePair(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}
	writeData(w, http.StatusCreated, authResponse{User: user, AccessToken: access, RefreshToken: refresh})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()
	user, passwordHash, err := h.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		writeStoreError(w, r, err, "Failed to login")
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusUnauthorized, "Account is deactivated")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	access, refresh, err := h.tokens.GeneratePair(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to login")
		return
	}
	writeData(w, http.StatusOK, authResponse{User: user, AccessToken: access, RefreshToken: refresh})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusUnauthorized, "Refresh token required")
		return
	}

	claims, err := h.tokens.VerifyRefresh(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}

	user := models.User{ID: claims.UserID, Email: claims.Email, Role: claims.Role}
	access, refresh, err := h.tokens.GeneratePair(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to refresh tokens")
		return
	}
	writeData(w, http.StatusOK, map[string]string{
		"access_token":  access,
		"refresh_token": refresh,
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, ok := requireRole(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"id":    claims.UserID,
		"email": claims.Email,
		"role":  claims.Role,
	})
}

func (h *Handler) handleAreas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireRole(w, r); !ok {
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	areas, err := h.store.ListAreas(ctx)
	if err != nil {
		writeStoreError(w, r, err, "Failed to list areas")
		return
	}
	if areas == nil {
		areas = []models.Area{}
	}
	writeData(w, http.StatusOK, areas)
}

func (h *Handler) handleAccessLevels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireRole(w, r); !ok {
		return
	}
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	levels, err := h.store.ListAccessLevels(ctx)
	if err != nil {
		writeStoreError(w, r, err, "Failed to list access levels")
		return
	}
	if levels == nil {
		levels = []models.AccessLevel{}
	}
	writeData(w, http.StatusOK, levels)
}

// handleAdminUser routes /api/admin/users/{id}/deactivate.
func (h *Handler) handleAdminUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, models.RoleAdmin); !ok {
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[1] != "deactivate" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	userID, ok := parseID(parts[0])
	if !ok {
		writeError(w, http.StatusBadRequest, "user id must be numeric")
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()
	if err := h.store.DeactivateUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found or already inactive")
			return
		}
		writeStoreError(w, r, err, "Failed to deactivate user")
		return
	}
	h.invalidateUsersCache(r.Context())
	writeData(w, http.StatusOK, map[string]interface{}{"id": userID, "is_active": false})
}
