package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apierrors "github.com/agent-smit/marketplace-mcp/internal/errors"
	"github.com/agent-smit/marketplace-mcp/internal/telemetry"
	"github.com/agent-smit/marketplace-mcp/internal/usage"
)

// RouterConfig holds all dependencies needed to build the router.
type RouterConfig struct {
	Health     *HealthHandler
	MCP        http.Handler // the MCP transport
	Usage      *UsageHandler
	Admin      *AdminHandler
	AdminToken string        // empty = /admin/stats is open
	Tracker    usage.Tracker // nil = no usage accounting
	Logger     *zap.Logger
}

// NewRouter creates the chi router with middleware and all routes.
func NewRouter(cfg RouterConfig) chi.Router {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Standard middleware
	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware)
	r.Use(CORSMiddleware)
	r.Use(securityHeaders)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		RespondError(w, r, apierrors.NotFound("route", r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		RespondError(w, r, apierrors.MethodNotAllowed(r.Method))
	})

	r.Get("/", InfoHandler)

	// Health routes
	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Health)
		r.Get("/healthz", cfg.Health.Healthz)
	}

	// MCP endpoint, all methods; the transport answers unsupported ones.
	if cfg.MCP != nil {
		mcpRoute := r.With()
		if cfg.Tracker != nil {
			mcpRoute = r.With(UsageMiddleware(cfg.Tracker))
		}
		mcpRoute.Handle("/mcp", cfg.MCP)
	}

	if cfg.Usage != nil {
		r.Get("/usage", cfg.Usage.Get)
	}

	if cfg.Admin != nil {
		r.With(AdminAuth(cfg.AdminToken)).Get("/admin/stats", cfg.Admin.Stats)
	}

	return r
}
