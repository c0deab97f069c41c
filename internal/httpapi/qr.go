package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/BoldFlame-Enterprises/verigate-backend/internal/store"
	"github.com/BoldFlame-Enterprises/verigate-backend/internal/verify"
)

type qrGenerateResponse struct {
	QRContent   string     `json:"qr_content"`
	UserInfo    qrUserInfo `json:"user_info"`
	ExpiresAt   int64      `json:"expires_at"`
	GeneratedAt int64      `json:"generated_at"`
}

type qrUserInfo struct {
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	AccessLevel  string   `json:"access_level"`
	AllowedAreas []string `json:"allowed_areas"`
}

func (h *Handler) handleQRGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, ok := requireRole(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()
	row, err := h.store.GetUserSnapshot(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found or inactive")
			return
		}
		writeStoreError(w, r, err, "Failed to generate QR code")
		return
	}

	token, cred, err := h.codec.Issue(row, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate QR code")
		return
	}

	writeData(w, http.StatusOK, qrGenerateResponse{
		QRContent: token,
		UserInfo: qrUserInfo{
			Name:         cred.Name,
			Email:        cred.Email,
			AccessLevel:  cred.AccessLevel,
			AllowedAreas: cred.AllowedAreas,
		},
		ExpiresAt:   cred.ExpiresAt,
		GeneratedAt: cred.Timestamp,
	})
}

type qrVerifyRequest struct {
	QRContent  string          `json:"qr_content"`
	AreaID     int64           `json:"area_id"`
	DeviceInfo json.RawMessage `json:"device_info"`
}

type qrVerifyResponse struct {
	AccessGranted bool   `json:"access_granted"`
	UserName      string `json:"user_name,omitempty"`
	AccessLevel   string `json:"access_level,omitempty"`
	Reason        string `json:"reason"`
	Degraded      bool   `json:"degraded,omitempty"`
}

func (h *Handler) handleQRVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req qrVerifyRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if req.QRContent == "" || req.AreaID == 0 {
		writeError(w, http.StatusBadRequest, "QR content and area ID required")
		return
	}

	now := time.Now().UTC()
	ctx, cancel := h.storeCtx(r)
	defer cancel()
	outcome, err := h.verifier.Verify(ctx, req.QRContent, req.AreaID, now)
	if err != nil {
		writeStoreError(w, r, err, "Failed to verify QR code")
		return
	}

	h.recordScan(r, outcome, req.AreaID, now, req.DeviceInfo)

	resp := qrVerifyResponse{
		AccessGranted: outcome.Granted,
		UserName:      outcome.Credential.Name,
		AccessLevel:   outcome.Credential.AccessLevel,
		Reason:        outcome.Reason,
		Degraded:      outcome.Degraded,
	}
	if outcome.Code == verify.DeniedMalformed {
		writeJSON(w, http.StatusBadRequest, apiResponse{Success: false, Error: "Invalid QR code format", Data: resp})
		return
	}
	writeData(w, http.StatusOK, resp)
}

// recordScan persists the verification outcome as a scan log entry. A
// malformed credential carries no user identity, so there is nothing the
// append-only log could key it by; those attempts are only visible in the
// request log. Persistence failures never block the scan response.
func (h *Handler) recordScan(r *http.Request, outcome verify.Outcome, areaID int64, scannedAt time.Time, deviceInfo json.RawMessage) {
	if outcome.Credential.UserID == 0 {
		return
	}

	info := deviceInfo
	if outcome.Degraded {
		info = mergeDeviceInfo(deviceInfo, map[string]interface{}{"degraded": true})
	}

	var scannerUserID *int64
	if claims, ok := claimsFromContext(r.Context()); ok {
		scannerUserID = &claims.UserID
	}

	entry := store.ScanLogInput{
		UserID:        outcome.Credential.UserID,
		AreaID:        areaID,
		AccessGranted: outcome.Granted,
		ScannedAt:     scannedAt,
		DeviceInfo:    info,
	}
	if !outcome.Granted {
		entry.FailureReason = outcome.Reason
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()
	if _, err := h.store.IngestScanLogs(ctx, []store.ScanLogInput{entry}, scannerUserID); err != nil {
		logStoreError(r, err)
	}
}
