package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// serviceStatuses are the label values of the service_status gauge.
var serviceStatuses = []string{
	"not_registered", "registered", "initializing", "initialized", "error", "shutdown",
}

// Metrics provides Prometheus metrics for the registry, lifecycle driver and
// import manager. All recorders are safe to call on a nil *Metrics.
type Metrics struct {
	config MetricsConfig

	// Registry metrics
	servicesRegistered prometheus.Gauge
	resolutions        *prometheus.CounterVec
	serviceStatus      *prometheus.GaugeVec
	serviceHealth      *prometheus.GaugeVec

	// Lifecycle metrics
	initDuration     *prometheus.HistogramVec
	shutdownDuration *prometheus.HistogramVec
	shutdownTimeouts *prometheus.CounterVec
	validations      *prometheus.CounterVec

	// Import metrics
	imports            *prometheus.CounterVec
	importCacheEntries *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with its own Prometheus registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		servicesRegistered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "services_registered",
				Help:      "Current number of registered services",
			},
		),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "service_resolutions_total",
				Help:      "Total number of service resolutions by result",
			},
			[]string{"service", "result"},
		),
		serviceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "service_status",
				Help:      "Current lifecycle status of services (1 for the active status)",
			},
			[]string{"service", "status"},
		),
		serviceHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "service_health",
				Help:      "Last health check result of services (1=healthy, 0=unhealthy)",
			},
			[]string{"service"},
		),
		initDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "service_init_duration_seconds",
				Help:      "Duration of service initialization in seconds",
				Buckets:   buckets,
			},
			[]string{"service", "result"},
		),
		shutdownDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "service_shutdown_duration_seconds",
				Help:      "Duration of service shutdown in seconds",
				Buckets:   buckets,
			},
			[]string{"service", "result"},
		),
		shutdownTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "shutdown_timeouts_total",
				Help:      "Total number of shutdown hooks abandoned after their deadline",
			},
			[]string{"service"},
		),
		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validations_total",
				Help:      "Total number of validation passes by kind and result",
			},
			[]string{"kind", "result"},
		),
		imports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "imports_total",
				Help:      "Total number of capability imports by result",
			},
			[]string{"module", "result"},
		),
		importCacheEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "import_cache_entries",
				Help:      "Current number of entries in the import caches",
			},
			[]string{"cache"},
		),
	}

	registry.MustRegister(
		m.servicesRegistered,
		m.resolutions,
		m.serviceStatus,
		m.serviceHealth,
		m.initDuration,
		m.shutdownDuration,
		m.shutdownTimeouts,
		m.validations,
		m.imports,
		m.importCacheEntries,
	)

	return m, nil
}

// Registry Metrics

// SetServicesRegistered sets the number of registered services.
func (m *Metrics) SetServicesRegistered(count int) {
	if m == nil || m.servicesRegistered == nil {
		return
	}
	m.servicesRegistered.Set(float64(count))
}

// RecordResolution records one Get call with its result (hit, created, missing, error).
func (m *Metrics) RecordResolution(service, result string) {
	if m == nil || m.resolutions == nil {
		return
	}
	m.resolutions.WithLabelValues(service, result).Inc()
}

// SetServiceStatus marks status as the active status of service.
func (m *Metrics) SetServiceStatus(service, status string) {
	if m == nil || m.serviceStatus == nil {
		return
	}
	for _, s := range serviceStatuses {
		value := 0.0
		if s == status {
			value = 1.0
		}
		m.serviceStatus.WithLabelValues(service, s).Set(value)
	}
}

// SetServiceHealth records the last health check result of service.
func (m *Metrics) SetServiceHealth(service string, healthy bool) {
	if m == nil || m.serviceHealth == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.serviceHealth.WithLabelValues(service).Set(value)
}

// Lifecycle Metrics

// RecordInitialization records a service initialization with its result and duration.
func (m *Metrics) RecordInitialization(service, result string, duration time.Duration) {
	if m == nil || m.initDuration == nil {
		return
	}
	m.initDuration.WithLabelValues(service, result).Observe(duration.Seconds())
}

// RecordShutdown records a service shutdown with its result and duration.
func (m *Metrics) RecordShutdown(service, result string, duration time.Duration) {
	if m == nil || m.shutdownDuration == nil {
		return
	}
	m.shutdownDuration.WithLabelValues(service, result).Observe(duration.Seconds())
	if result == "timeout" {
		m.shutdownTimeouts.WithLabelValues(service).Inc()
	}
}

// RecordValidation records a validation pass (graph, policy, dependencies).
func (m *Metrics) RecordValidation(kind string, valid bool) {
	if m == nil || m.validations == nil {
		return
	}
	result := "valid"
	if !valid {
		result = "invalid"
	}
	m.validations.WithLabelValues(kind, result).Inc()
}

// Import Metrics

// RecordImport records a capability import (success, failure, cached_success, cached_failure).
func (m *Metrics) RecordImport(module, result string) {
	if m == nil || m.imports == nil {
		return
	}
	m.imports.WithLabelValues(module, result).Inc()
}

// SetImportCacheEntries sets the size of an import cache (success or failure).
func (m *Metrics) SetImportCacheEntries(cache string, count int) {
	if m == nil || m.importCacheEntries == nil {
		return
	}
	m.importCacheEntries.WithLabelValues(cache).Set(float64(count))
}

// Gatherer returns the underlying registry for tests and custom exposition, or nil when disabled.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil || m.registry == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
