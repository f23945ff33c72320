// Package introspect serves a read-only HTTP view of a registry: health,
// registrations, the dependency graph and metrics.
package introspect

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/openfroyo/servicecore/pkg/depcheck"
	"github.com/openfroyo/servicecore/pkg/registry"
	"github.com/openfroyo/servicecore/pkg/telemetry"
)

type handler struct {
	reg          *registry.Registry
	metrics      *telemetry.Metrics
	logger       zerolog.Logger
	dependencies func() *depcheck.ValidationResult
}

// Option configures the handler.
type Option func(*handler)

// WithMetrics serves m on /metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(h *handler) {
		h.metrics = m
	}
}

// WithLogger logs every request at debug level.
func WithLogger(logger zerolog.Logger) Option {
	return func(h *handler) {
		h.logger = logger
	}
}

// WithDependencyReport serves the latest dependency validation on /dependencies.
func WithDependencyReport(fn func() *depcheck.ValidationResult) Option {
	return func(h *handler) {
		h.dependencies = fn
	}
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Healthy  bool            `json:"healthy"`
	Services map[string]bool `json:"services"`
}

// GraphResponse is the /graph?format=json body.
type GraphResponse struct {
	Order  []string   `json:"order,omitempty"`
	Levels [][]string `json:"levels,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// NewHandler returns a router exposing reg.
func NewHandler(reg *registry.Registry, opts ...Option) http.Handler {
	h := &handler{reg: reg, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With().Str("component", "introspect").Logger()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.health)
	r.Get("/services", h.listServices)
	r.Get("/services/{name}", h.getService)
	r.Get("/graph", h.graph)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	if h.dependencies != nil {
		r.Get("/dependencies", h.dependencyReport)
	}
	return r
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	services := h.reg.HealthCheck(r.Context())
	resp := HealthResponse{Healthy: true, Services: services}
	for _, ok := range services {
		if !ok {
			resp.Healthy = false
			break
		}
	}

	status := http.StatusOK
	if !resp.Healthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

func (h *handler) listServices(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.reg.Infos())
}

func (h *handler) getService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, ok := h.reg.Info(name)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{
			"error": registry.NewServiceNotAvailableError(name).Error(),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// graph renders DOT by default and the startup plan with ?format=json.
func (h *handler) graph(w http.ResponseWriter, r *http.Request) {
	g := h.reg.Graph()

	if r.URL.Query().Get("format") != "json" {
		w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(g.ToDOT(h.reg.Status)))
		return
	}

	var resp GraphResponse
	order, err := g.TopologicalOrder()
	if err != nil {
		resp.Error = err.Error()
		h.writeJSON(w, http.StatusConflict, resp)
		return
	}
	levels, _ := g.Levels()
	resp.Order, resp.Levels = order, levels
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handler) dependencyReport(w http.ResponseWriter, _ *http.Request) {
	res := h.dependencies()
	if res == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no requirements manifest loaded"})
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to encode response")
	}
}
