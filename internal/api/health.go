package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger checks a dependency is reachable.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// ConnStatus reports whether a long-lived connection is up.
type ConnStatus interface {
	IsConnected() bool
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	db        Pinger
	mqtt      ConnStatus
	backend   string
	version   string
	startTime time.Time
}

func NewHealthHandler(db Pinger, mqtt ConnStatus, backend, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		mqtt:      mqtt,
		backend:   backend,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Database check
	if h.db == nil {
		checks["database"] = "not_configured"
	} else if err := h.db.HealthCheck(r.Context()); err != nil {
		checks["database"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	if h.backend != "" {
		checks["transcription"] = h.backend
	} else {
		checks["transcription"] = "not_configured"
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}
