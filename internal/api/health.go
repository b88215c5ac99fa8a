package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Pinger is an interface for checking store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler provides HTTP handlers for health check endpoints.
type HealthHandler struct {
	Store   Pinger
	Backend string
	Logger  *zap.Logger
}

type healthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Store     string `json:"store,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Healthz is a liveness probe. Returns 200 if the process is running.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// Health reports whether the KV store is reachable. Returns 503 when it is not.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	st := healthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Store:     h.Backend,
	}

	if h.Store == nil {
		st.Status = "unhealthy"
		st.Error = "store not configured"
		RespondPlain(w, http.StatusServiceUnavailable, st)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("health check failed", zap.Error(err))
		}
		st.Status = "unhealthy"
		st.Error = "store unreachable"
		RespondPlain(w, http.StatusServiceUnavailable, st)
		return
	}

	RespondPlain(w, http.StatusOK, st)
}
