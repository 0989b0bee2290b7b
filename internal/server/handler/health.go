package handler

import (
	"net/http"
	"time"
)

// HealthHandler serves liveness and status endpoints.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	sessions  func() int
}

// NewHealthHandler creates a HealthHandler. sessions reports the number of
// live broker sessions and may be nil.
func NewHealthHandler(mode string, sessions func() int) *HealthHandler {
	return &HealthHandler{mode: mode, startedAt: time.Now().UTC(), sessions: sessions}
}

// Healthz answers plain-text "ok".
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Status reports the trading mode and session count.
// GET /api/status
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	n := 0
	if h.sessions != nil {
		n = h.sessions()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"sessions":       n,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
