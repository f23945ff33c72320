package telemetry

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "empty name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "ServiceName"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "Logging.Level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "Logging.Format"},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Exporter = "jaeger" }, wantErr: "Tracing.Exporter"},
		{name: "bad ratio", mutate: func(c *Config) { c.Tracing.Ratio = 2 }, wantErr: "Tracing.Ratio"},
		{name: "async without buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: "Events.BufferSize"},
		{name: "sync without buffer", mutate: func(c *Config) {
			c.Events.Async = false
			c.Events.BufferSize = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	env := map[string]string{
		EnvLogLevel:       "DEBUG",
		EnvLogFormat:      "json",
		EnvTraceExporter:  "otlp",
		EnvTraceRatio:     "0.25",
		EnvOTLPEndpoint:   "collector:4317",
		EnvOTLPHeaders:    "x-team=core, x-token = abc ,bogus",
		EnvMetricsEnabled: "false",
	}
	cfg, err := ConfigFromEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, 0.25, cfg.Tracing.Ratio)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
	assert.Equal(t, map[string]string{"x-team": "core", "x-token": "abc"}, cfg.Tracing.Headers)
	assert.False(t, cfg.Metrics.Enabled)

	_, err = ConfigFromEnv(func(k string) (string, bool) {
		if k == EnvTraceRatio {
			return "most", true
		}
		return "", false
	})
	assert.ErrorContains(t, err, EnvTraceRatio)

	_, err = ConfigFromEnv(func(k string) (string, bool) {
		if k == EnvLogLevel {
			return "loud", true
		}
		return "", false
	})
	assert.ErrorContains(t, err, "Logging.Level")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("dropped")
	child := logger.With().Str("component", "lifecycle").Logger()
	child.Warn().Str("service", "cache").Msg("slow shutdown")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"component":"lifecycle"`)
	assert.Contains(t, out, `"service":"cache"`)
	assert.Contains(t, out, `"message":"slow shutdown"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
}

func TestNewTelemetry(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Logging.Format = "json"

	tel, err := NewTelemetry(context.Background(), cfg, WithLogOutput(&buf))
	require.NoError(t, err)
	tel.Logger.Info().Msg("ready")
	assert.Contains(t, buf.String(), `"message":"ready"`)
	assert.NotNil(t, tel.Metrics.Gatherer())
	assert.NoError(t, tel.Shutdown(context.Background()))

	cfg.ServiceVersion = ""
	_, err = NewTelemetry(context.Background(), cfg)
	assert.Error(t, err)
}

func TestMetricsRecorders(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	require.NoError(t, err)

	m.SetServicesRegistered(3)
	m.RecordResolution("cache", "hit")
	m.RecordResolution("cache", "hit")
	m.SetServiceStatus("cache", "initialized")
	m.SetServiceHealth("cache", false)
	m.RecordShutdown("cache", "timeout", time.Second)
	m.RecordImport("vector_store", "failure")
	m.SetImportCacheEntries("failure", 1)
	m.RecordValidation("graph", false)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.servicesRegistered))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.resolutions.WithLabelValues("cache", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.serviceStatus.WithLabelValues("cache", "initialized")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.serviceStatus.WithLabelValues("cache", "registered")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.serviceHealth.WithLabelValues("cache")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.shutdownTimeouts.WithLabelValues("cache")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.imports.WithLabelValues("vector_store", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.validations.WithLabelValues("graph", "invalid")))
}

func TestMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)

	m.RecordResolution("cache", "hit")
	assert.Nil(t, m.Gatherer())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsHandler(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	require.NoError(t, err)
	m.SetServicesRegistered(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_services_registered 2"))
}

func TestEventPublisherAsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, Async: true, BufferSize: 16})
	require.NoError(t, err)

	var mu sync.Mutex
	var got []string
	ep.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Type)
	}, nil)

	require.NoError(t, ep.PublishServiceRegistered("cache", "factory", nil))
	require.NoError(t, ep.PublishServiceStatus("cache", "initializing", "error", "boom"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ep.Shutdown(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{EventTypeServiceRegistered, EventTypeServiceFailed}, got)

	assert.ErrorIs(t, ep.PublishServiceRegistered("late", "factory", nil), ErrPublisherStopped)
}

func TestEventPublisherFilters(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	require.NoError(t, err)

	var got []Event
	ep.AddFilter(FilterByLevel(EventLevelWarning))
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByService("search"))

	_ = ep.PublishServiceStatus("search", "registered", "initializing", "")
	_ = ep.PublishServiceStatus("cache", "initializing", "error", "x")
	_ = ep.PublishServiceStatus("search", "initializing", "error", "index missing")

	require.Len(t, got, 1)
	assert.Equal(t, "search", got[0].Service)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestNilEventPublisher(t *testing.T) {
	var ep *EventPublisher
	assert.NoError(t, ep.PublishImportFailed("plugin", "missing"))
	assert.NoError(t, ep.Shutdown(context.Background()))
}

func TestTracerServiceSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := NewTracerFromProvider(provider)

	_, span := tracer.StartServiceSpan(context.Background(), "cache", "initialize", 1)
	RecordSuccess(span)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "service.initialize", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "cache", attrs["servicecore.service"])
	assert.Equal(t, "initialize", attrs["servicecore.operation"])
	assert.Equal(t, "1", attrs["servicecore.level"])
}

func TestNilTracer(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.StartImportSpan(context.Background(), "plugin")
	span.End()
	assert.NotNil(t, ctx)
	assert.NoError(t, tracer.Shutdown(ctx))
}
