// Package httptransport assembles the chi router: shared middleware, one
// route group per caller role, and the unauthenticated ops and verification
// endpoints.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	capacityhandler "badal/internal/capacity/handler"
	certificatehandler "badal/internal/certificate/handler"
	certificationhandler "badal/internal/certification/handler"
	"badal/internal/platform/metrics"
	ritualhandler "badal/internal/ritual/handler"
	id "badal/pkg/domain"
	"badal/pkg/platform/httputil"
	"badal/pkg/platform/middleware/auth"
	"badal/pkg/platform/middleware/metadata"
	"badal/pkg/platform/middleware/request"
	"badal/pkg/platform/middleware/requesttime"
)

// Handlers are the domain handlers mounted by NewRouter.
type Handlers struct {
	Certification *certificationhandler.Handler
	Ritual        *ritualhandler.Handler
	Capacity      *capacityhandler.Handler
	Certificate   *certificatehandler.Handler
}

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	Validator auth.TokenValidator
	Logger    *slog.Logger
	// Metrics enables request metrics and the /metrics endpoint.
	Metrics *metrics.Metrics
	Health  map[string]HealthCheck
}

var reviewerRoles = []id.Role{id.RoleScholar, id.RoleAdmin, id.RoleSuperAdmin}

func NewRouter(h Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/healthz", healthHandler(cfg.Health))
	h.Certificate.RegisterPublicRoutes(r)

	requireAuth := auth.RequireAuth(cfg.Validator, cfg.Logger)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth, auth.RequireRole(cfg.Logger, id.RoleProvider))
		h.Certification.RegisterProviderRoutes(r)
	})
	r.Group(func(r chi.Router) {
		// Reviewers and the booking service read ledgers too; the service
		// narrows providers to their own bookings.
		r.Use(requireAuth, auth.RequireRole(cfg.Logger, append([]id.Role{id.RoleProvider, id.RoleSystem}, reviewerRoles...)...))
		h.Ritual.RegisterProviderRoutes(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(requireAuth, auth.RequireRole(cfg.Logger, reviewerRoles...))
		h.Certification.RegisterReviewerRoutes(r)
		h.Ritual.RegisterReviewerRoutes(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(requireAuth, auth.RequireRole(cfg.Logger, id.RoleSystem))
		h.Capacity.Register(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(requireAuth, auth.RequireRole(cfg.Logger, id.RoleSystem, id.RoleAdmin, id.RoleSuperAdmin))
		h.Certificate.RegisterSystemRoutes(r)
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
