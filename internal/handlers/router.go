package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/payforge/api/internal/platform/httpx"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// RouteRegistrar registers a group of routes on the router.
type RouteRegistrar func(r chi.Router)

// Option customises router construction.
type Option func(*routerConfig)

type routerConfig struct {
	basePath          string
	middlewares       []func(http.Handler) http.Handler
	tenantMiddlewares []func(http.Handler) http.Handler
	health            *HealthHandlers
	groups            map[string]RouteRegistrar
}

// WithMiddlewares appends global middleware, applied to every route
// including health checks.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

// WithTenantMiddlewares replaces the middleware stack guarding the API group.
func WithTenantMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.tenantMiddlewares = mw }
}

// WithHealthHandlers overrides the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithCheckoutRoutes mounts the checkout session endpoints.
func WithCheckoutRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups["/checkouts"] = reg }
}

// WithOrderRoutes mounts the order endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups["/orders"] = reg }
}

// WithWebhookRoutes mounts the webhook endpoint management routes.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups["/webhook-endpoints"] = reg }
}

// NewRouter assembles the chi router. Health endpoints sit outside the API
// prefix so probes skip tenant resolution; everything under the prefix runs
// the tenant middleware stack.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: apiPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
		tenantMiddlewares: []func(http.Handler) http.Handler{RequireTenant()},
		health:            NewHealthHandlers(),
		groups: map[string]RouteRegistrar{
			"/checkouts":         nil,
			"/orders":            nil,
			"/webhook-endpoints": nil,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(errorHandler("route_not_found", http.StatusNotFound, func(req *http.Request) string {
		return fmt.Sprintf("no route for %s", req.URL.Path)
	}))
	r.MethodNotAllowed(errorHandler("method_not_allowed", http.StatusMethodNotAllowed, func(req *http.Request) string {
		return fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path)
	}))

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, mw := range cfg.tenantMiddlewares {
			if mw != nil {
				api.Use(mw)
			}
		}
		for _, path := range []string{"/checkouts", "/orders", "/webhook-endpoints"} {
			reg := cfg.groups[path]
			api.Route(path, func(group chi.Router) {
				if reg == nil {
					stubGroup(group, path)
					return
				}
				reg(group)
			})
		}
	})

	return r
}

func errorHandler(code string, status int, message func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(code, message(req), status))
	}
}

// stubGroup answers 501 for a route group that was not wired, which keeps
// partial router setups in tests honest.
func stubGroup(r chi.Router, path string) {
	h := errorHandler("not_implemented", http.StatusNotImplemented, func(*http.Request) string {
		return fmt.Sprintf("%s routes not implemented", path)
	})
	r.HandleFunc("/", h)
	r.HandleFunc("/*", h)
	r.NotFound(h)
	r.MethodNotAllowed(h)
}
