package telemetry

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Telemetry bundles the observability backends handed to the registry, the
// lifecycle driver and the import manager.
type Telemetry struct {
	Logger  zerolog.Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// Option adjusts NewTelemetry.
type Option func(*options)

type options struct {
	logOutput io.Writer
}

// WithLogOutput sends logs to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) {
		o.logOutput = w
	}
}

// NewTelemetry validates cfg and builds every backend it enables.
func NewTelemetry(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	tracer, err := NewTracer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, errors.Join(err, tracer.Shutdown(ctx))
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, errors.Join(err, tracer.Shutdown(ctx))
	}

	return &Telemetry{
		Logger:  NewLogger(cfg.Logging, o.logOutput),
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// Shutdown drains pending events, then flushes spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Events.Shutdown(ctx), t.Tracer.Shutdown(ctx))
}
