package http

import (
	"net/http"
	"sort"
	"time"

	"market-dashboard/internal/handler/http/respond"
)

// Health states reported by checks. Degraded still answers 200.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthResponse is the JSON body of /health.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks,omitempty"`
	Version   string                 `json:"version,omitempty"`
}

// CheckStatus is the result of one named check.
type CheckStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Check reports the state of one dependency.
type Check func() CheckStatus

// HealthHandler answers liveness probes. It is 503 only when a check is unhealthy.
type HealthHandler struct {
	Version string
	Checks  map[string]Check
	now     func() time.Time
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := time.Now
	if h.now != nil {
		now = h.now
	}

	status := StatusHealthy
	var checks map[string]CheckStatus
	if len(h.Checks) > 0 {
		checks = make(map[string]CheckStatus, len(h.Checks))
		names := make([]string, 0, len(h.Checks))
		for name := range h.Checks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			res := h.Checks[name]()
			checks[name] = res
			switch {
			case res.Status == StatusUnhealthy:
				status = StatusUnhealthy
			case res.Status == StatusDegraded && status == StatusHealthy:
				status = StatusDegraded
			}
		}
	}

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	respond.JSON(w, code, HealthResponse{
		Status:    status,
		Timestamp: now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Version:   h.Version,
	})
}
