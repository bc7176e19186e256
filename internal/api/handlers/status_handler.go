// internal/api/handlers/status_handler.go
package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

type StatusHandler struct {
	startedAt time.Time
}

func NewStatusHandler() *StatusHandler {
	return &StatusHandler{startedAt: time.Now()}
}

func (h *StatusHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":        "healthy",
		"uptimeSeconds": int(time.Since(h.startedAt).Seconds()),
	})
}
