package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	apierrors "github.com/agent-smit/marketplace-mcp/internal/errors"
	"github.com/agent-smit/marketplace-mcp/internal/mcp"
	"github.com/agent-smit/marketplace-mcp/internal/ratelimit"
	"github.com/agent-smit/marketplace-mcp/internal/usage"
)

// InfoHandler serves GET /.
func InfoHandler(w http.ResponseWriter, r *http.Request) {
	RespondPlain(w, http.StatusOK, map[string]interface{}{
		"name":        "directus-marketplace-search-mcp",
		"version":     ServerVersion,
		"description": "MCP server for Directus Marketplace search functionality",
		"endpoints": map[string]string{
			"mcp":    "/mcp",
			"health": "/health",
			"usage":  "/usage",
			"admin":  "/admin/stats",
		},
		"protocolVersions": mcp.SupportedProtocolVersions(),
	})
}

// UsageReporter reports a client's rate limit consumption.
// Satisfied by *ratelimit.RateLimiter.
type UsageReporter interface {
	Usage(ctx context.Context, client string) (ratelimit.Usage, error)
}

// UsageHandler serves GET /usage for the calling client.
type UsageHandler struct {
	Limiter UsageReporter
	Logger  *zap.Logger
}

func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	client := ratelimit.ClientIdentity(r)
	u, err := h.Limiter.Usage(r.Context(), client)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("usage lookup failed", zap.String("client", client), zap.Error(err))
		}
		RespondError(w, r, apierrors.ServiceUnavailable("usage data unavailable"))
		return
	}
	RespondJSON(w, r, http.StatusOK, u)
}

// SummaryProvider produces the admin usage summary.
// Satisfied by *usage.Monitor.
type SummaryProvider interface {
	Summary(ctx context.Context) (*usage.Summary, error)
}

// AdminHandler serves the admin statistics endpoint.
type AdminHandler struct {
	Monitor SummaryProvider
	Logger  *zap.Logger
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Monitor.Summary(r.Context())
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("usage summary failed", zap.Error(err))
		}
		RespondError(w, r, apierrors.Internal("failed to load usage summary"))
		return
	}
	RespondJSON(w, r, http.StatusOK, sum)
}
