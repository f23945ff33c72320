package telemetry

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config selects which observability backends a process wires up.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string `validate:"required"`
	Environment    string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog root logger.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error fatal"`
	Format string `validate:"oneof=console json"`

	// Caller adds file:line to every entry.
	Caller bool
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool

	// Exporter is otlp, stdout or none.
	Exporter string `validate:"omitempty,oneof=otlp stdout none"`
	Endpoint string
	Insecure bool
	Headers  map[string]string
	Ratio    float64 `validate:"gte=0,lte=1"`

	ExportTimeout time.Duration
}

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool
	Namespace string

	// Buckets are the latency histogram buckets in seconds; prometheus.DefBuckets when empty.
	Buckets []float64
}

// EventsConfig configures the event publisher.
type EventsConfig struct {
	Enabled bool

	// Async delivers from a background goroutine through a buffer of BufferSize.
	Async      bool
	BufferSize int `validate:"gte=0,required_if=Async true"`
}

// DefaultConfig logs to the console at info, keeps metrics and async events
// on and leaves tracing off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "servicecore",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging:        LoggingConfig{Level: "info", Format: "console"},
		Tracing: TracingConfig{
			Exporter:      "none",
			Ratio:         1,
			ExportTimeout: 30 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{Enabled: true, Namespace: "servicecore"},
		Events:  EventsConfig{Enabled: true, Async: true, BufferSize: 256},
	}
}

// Environment variables read by ConfigFromEnv.
const (
	EnvLogLevel       = "SERVICECORE_LOG_LEVEL"
	EnvLogFormat      = "SERVICECORE_LOG_FORMAT"
	EnvEnvironment    = "SERVICECORE_ENV"
	EnvTraceExporter  = "SERVICECORE_TRACE_EXPORTER"
	EnvTraceRatio     = "SERVICECORE_TRACE_RATIO"
	EnvMetricsEnabled = "SERVICECORE_METRICS"
	EnvOTLPEndpoint   = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvOTLPHeaders    = "OTEL_EXPORTER_OTLP_HEADERS"
)

// ConfigFromEnv overlays environment variables on DefaultConfig. Setting a
// trace exporter other than none enables tracing.
func ConfigFromEnv(lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()

	if v, ok := lookup(EnvLogLevel); ok {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvLogFormat); ok {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v, ok := lookup(EnvEnvironment); ok {
		cfg.Environment = v
	}
	if v, ok := lookup(EnvTraceExporter); ok {
		cfg.Tracing.Exporter = strings.ToLower(v)
		cfg.Tracing.Enabled = cfg.Tracing.Exporter != "none"
	}
	if v, ok := lookup(EnvTraceRatio); ok {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvTraceRatio, err)
		}
		cfg.Tracing.Ratio = ratio
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok {
		cfg.Tracing.Endpoint = v
	}
	if v, ok := lookup(EnvOTLPHeaders); ok {
		cfg.Tracing.Headers = parseHeaders(v)
	}
	if v, ok := lookup(EnvMetricsEnabled); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvMetricsEnabled, err)
		}
		cfg.Metrics.Enabled = enabled
	}

	return cfg, cfg.Validate()
}

// parseHeaders reads the OTLP "k1=v1,k2=v2" header format.
func parseHeaders(s string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("invalid telemetry config: %s failed %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value())
	}
	return fmt.Errorf("invalid telemetry config: %w", err)
}
