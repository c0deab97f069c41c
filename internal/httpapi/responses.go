package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/BoldFlame-Enterprises/verigate-backend/internal/store"
)

// apiResponse is the envelope every endpoint answers with; scanner apps
// branch on the success flag before touching data.
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, apiResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiResponse{Success: false, Error: message})
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeStoreError maps store failures to a 503 with a generic message.
// The underlying error is logged with request context and never shown to
// the caller.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, message string) {
	logStoreError(r, err)
	if errors.Is(err, store.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, message)
		return
	}
	writeError(w, http.StatusInternalServerError, message)
}

func logStoreError(r *http.Request, err error) {
	log.Printf("store error method=%s path=%s request_id=%s err=%v", r.Method, r.URL.Path, requestIDFromRequest(r), err)
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
