// Package lifecycle drives registered services through initialization and shutdown
// in dependency order.
//
// Start validates the whole graph first and initializes nothing when validation
// fails. Services are then initialized level by level: services of one level
// are independent and may run concurrently, and no service starts before all of
// its dependencies have initialized. The first failure stops start-up and the
// returned StartReport lists what completed, what failed and what never started.
//
// Stop shuts services down in the reverse of the order they were initialized.
// Each shutdown hook is bounded by a deadline; a hook that overruns is abandoned
// and reported, and shutdown continues with the next service.
//
// Failed services are never retried automatically. ResetAndReinitialize is the
// operator-triggered retry.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/servicecore/pkg/registry"
	"github.com/openfroyo/servicecore/pkg/service"
	"github.com/openfroyo/servicecore/pkg/telemetry"
)

// DefaultShutdownTimeout bounds each shutdown hook unless overridden.
const DefaultShutdownTimeout = 10 * time.Second

// Driver runs the start-up and shutdown sequence of one registry.
type Driver struct {
	reg *registry.Registry

	logger          zerolog.Logger
	tracer          *telemetry.Tracer
	metrics         *telemetry.Metrics
	events          *telemetry.EventPublisher
	shutdownTimeout time.Duration
	parallel        bool
	maxParallel     int

	// mu protects attempted.
	mu sync.Mutex

	// attempted lists services whose initialization was attempted, in order.
	attempted []string
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithTracer traces every initialization and shutdown.
func WithTracer(t *telemetry.Tracer) Option {
	return func(d *Driver) {
		d.tracer = t
	}
}

// WithMetrics records initialization and shutdown durations.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Driver) {
		d.metrics = m
	}
}

// WithEvents publishes validation failures.
func WithEvents(ep *telemetry.EventPublisher) Option {
	return func(d *Driver) {
		d.events = ep
	}
}

// WithShutdownTimeout sets the per-service shutdown deadline.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		d.shutdownTimeout = timeout
	}
}

// WithParallel initializes independent services of a level concurrently,
// with at most maxParallel hooks running at once (0 means unbounded).
func WithParallel(maxParallel int) Option {
	return func(d *Driver) {
		d.parallel = true
		d.maxParallel = maxParallel
	}
}

// NewDriver creates a driver for reg. Initialization is sequential unless WithParallel is given.
func NewDriver(reg *registry.Registry, opts ...Option) *Driver {
	d := &Driver{
		reg:             reg,
		logger:          zerolog.Nop(),
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With().Str("component", "lifecycle").Logger()
	return d
}

// StartReport describes the outcome of Start.
type StartReport struct {
	// Order is the planned initialization order.
	Order []string `json:"order"`

	// Levels groups Order into independent initialization levels.
	Levels [][]string `json:"levels"`

	// Completed lists services that initialized successfully, in completion order.
	Completed []string `json:"completed"`

	// Failed lists services whose initialization failed.
	Failed []string `json:"failed,omitempty"`

	// NotStarted lists services that were never attempted.
	NotStarted []string `json:"not_started,omitempty"`

	// Duration is the wall time of Start.
	Duration time.Duration `json:"duration"`
}

// Plan validates the registry and returns the initialization order.
func (d *Driver) Plan() ([]string, error) {
	return d.reg.StartupOrder()
}

// Start validates the dependency graph and initializes every service in order.
// On a validation error nothing is initialized and the *registry.ValidationReport
// is returned. On the first initialization failure start-up stops.
func (d *Driver) Start(ctx context.Context) (*StartReport, error) {
	start := time.Now()
	report := &StartReport{}

	graph := d.reg.Graph()
	if err := graph.Validate(); err != nil {
		d.metrics.RecordValidation("graph", false)
		var vr *registry.ValidationReport
		if errors.As(err, &vr) {
			_ = d.events.PublishValidationFailed("lifecycle", len(vr.Errors), vr.Error())
		}
		d.logger.Error().Err(err).Msg("Dependency validation failed, no services initialized")
		return report, err
	}
	d.metrics.RecordValidation("graph", true)

	levels, err := graph.Levels()
	if err != nil {
		return report, err
	}
	order, err := graph.TopologicalOrder()
	if err != nil {
		return report, err
	}
	report.Order = order
	report.Levels = levels

	d.logger.Info().Int("services", len(order)).Int("levels", len(levels)).Msg("Starting services")

	var startErr error
	if d.parallel {
		startErr = d.startParallel(ctx, levels, report)
	} else {
		startErr = d.startSequential(ctx, order, levels, report)
	}

	done := make(map[string]bool, len(report.Completed)+len(report.Failed))
	for _, name := range append(append([]string(nil), report.Completed...), report.Failed...) {
		done[name] = true
	}
	for _, name := range order {
		if !done[name] {
			report.NotStarted = append(report.NotStarted, name)
		}
	}
	report.Duration = time.Since(start)

	if startErr != nil {
		d.logger.Error().
			Err(startErr).
			Strs("completed", report.Completed).
			Strs("failed", report.Failed).
			Strs("not_started", report.NotStarted).
			Msg("Service start-up aborted")
		return report, startErr
	}

	d.logger.Info().Dur("duration", report.Duration).Msg("All services initialized")
	return report, nil
}

func (d *Driver) startSequential(ctx context.Context, order []string, levels [][]string, report *StartReport) error {
	levelOf := make(map[string]int, len(order))
	for i, level := range levels {
		for _, name := range level {
			levelOf[name] = i
		}
	}

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("start-up cancelled: %w", err)
		}
		if err := d.initialize(ctx, name, levelOf[name]); err != nil {
			report.Failed = append(report.Failed, name)
			return err
		}
		report.Completed = append(report.Completed, name)
	}
	return nil
}

func (d *Driver) startParallel(ctx context.Context, levels [][]string, report *StartReport) error {
	for i, level := range levels {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("start-up cancelled: %w", err)
		}

		// Hooks of one level all run to completion; a failure only prevents later levels.
		var g errgroup.Group
		if d.maxParallel > 0 {
			g.SetLimit(d.maxParallel)
		}

		var mu sync.Mutex
		results := make(map[string]error, len(level))
		for _, name := range level {
			g.Go(func() error {
				err := d.initialize(ctx, name, i)
				mu.Lock()
				results[name] = err
				if err == nil {
					report.Completed = append(report.Completed, name)
				}
				mu.Unlock()
				return err
			})
		}
		_ = g.Wait()

		var firstErr error
		for _, name := range level {
			if err := results[name]; err != nil {
				report.Failed = append(report.Failed, name)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		if firstErr != nil {
			return fmt.Errorf("level %d failed: %w", i, firstErr)
		}
	}
	return nil
}

// initialize resolves and initializes one service, mirroring its status into the registry.
func (d *Driver) initialize(ctx context.Context, name string, level int) (err error) {
	if d.reg.Status(name) == registry.StatusInitialized {
		return nil
	}

	ctx, span := d.tracer.StartServiceSpan(ctx, name, "initialize", level)
	timer := telemetry.NewTimer()
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
		d.metrics.RecordInitialization(name, result, timer.Duration())
	}()

	if err := d.reg.SetStatus(name, registry.StatusInitializing, ""); err != nil {
		return registry.NewServiceInitializationError(name, err)
	}
	d.recordAttempt(name)

	d.logger.Debug().Str("service", name).Int("level", level).Msg("Initializing service")

	instance, err := d.reg.Get(ctx, name)
	if err == nil {
		if svc, ok := instance.(service.Service); ok {
			err = svc.Initialize(ctx)
		}
	}

	if err != nil {
		if !registry.IsServiceInitialization(err) {
			err = registry.NewServiceInitializationError(name, err)
		}
		_ = d.reg.SetStatus(name, registry.StatusError, rootMessage(err))
		d.logger.Error().Err(err).Str("service", name).Msg("Service initialization failed")
		return err
	}

	if setErr := d.reg.SetStatus(name, registry.StatusInitialized, ""); setErr != nil {
		return registry.NewServiceInitializationError(name, setErr)
	}
	d.logger.Info().Str("service", name).Dur("duration", timer.Duration()).Msg("Service initialized")
	return nil
}

// Initialized returns the services whose initialization was attempted, in order.
func (d *Driver) Initialized() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.attempted...)
}

func (d *Driver) recordAttempt(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range d.attempted {
		if n == name {
			return
		}
	}
	d.attempted = append(d.attempted, name)
}

// Stop shuts services down in reverse initialization order. Every attempted
// service is visited even when earlier hooks fail; the collected errors are returned.
func (d *Driver) Stop(ctx context.Context) []error {
	d.mu.Lock()
	order := registry.Reverse(d.attempted)
	d.attempted = nil
	d.mu.Unlock()

	d.logger.Info().Int("services", len(order)).Msg("Shutting down services")

	var errs []error
	for _, name := range order {
		if err := d.shutdown(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// shutdown runs the shutdown hook of one service bounded by the shutdown timeout.
func (d *Driver) shutdown(ctx context.Context, name string) error {
	status := d.reg.Status(name)
	if status != registry.StatusInitialized && status != registry.StatusError {
		return nil
	}

	ctx, span := d.tracer.StartServiceSpan(ctx, name, "shutdown", -1)
	defer span.End()
	timer := telemetry.NewTimer()

	var err error
	if instance, ok := d.reg.Instance(name); ok {
		err = d.runShutdown(ctx, name, instance)
	}

	result := "success"
	switch {
	case registry.IsShutdownTimeout(err):
		result = "timeout"
		d.logger.Warn().Str("service", name).Dur("timeout", d.shutdownTimeout).Msg("Shutdown hook abandoned")
	case ctx.Err() != nil && err != nil:
		result = "cancelled"
		d.logger.Warn().Err(err).Str("service", name).Msg("Shutdown hook abandoned on cancellation")
	case err != nil:
		result = "error"
		d.logger.Warn().Err(err).Str("service", name).Msg("Shutdown hook failed")
	}
	if err != nil {
		telemetry.RecordError(span, err)
	}
	d.metrics.RecordShutdown(name, result, timer.Duration())

	_ = d.reg.SetStatus(name, registry.StatusShutdown, d.errorMessage(name))
	return err
}

func (d *Driver) runShutdown(ctx context.Context, name string, instance any) error {
	var hook func(ctx context.Context) error
	switch v := instance.(type) {
	case service.Service:
		hook = v.Shutdown
	case io.Closer:
		hook = func(context.Context) error { return v.Close() }
	default:
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, d.shutdownTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("shutdown of service %q panicked: %v", name, rec)
			}
		}()
		done <- hook(sctx)
	}()

	select {
	case err := <-done:
		return err
	case <-sctx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("shutdown of service %q interrupted: %w", name, context.Cause(ctx))
		}
		return registry.NewShutdownTimeoutError(name, d.shutdownTimeout)
	}
}

// ResetAndReinitialize retries a service in Error. Its dependencies must all be initialized.
func (d *Driver) ResetAndReinitialize(ctx context.Context, name string) error {
	if !d.reg.Has(name) {
		return registry.NewServiceNotAvailableError(name)
	}
	if status := d.reg.Status(name); status != registry.StatusError {
		return fmt.Errorf("service %q is %s, only failed services can be reset", name, status)
	}
	for _, dep := range d.reg.Dependencies(name) {
		if d.reg.Status(dep) != registry.StatusInitialized {
			return fmt.Errorf("service %q cannot be reset: dependency %q is %s", name, dep, d.reg.Status(dep))
		}
	}

	if instance, ok := d.reg.Instance(name); ok {
		if r, ok := instance.(service.Resettable); ok {
			if err := r.Reset(); err != nil {
				return fmt.Errorf("failed to reset service %q: %w", name, err)
			}
		}
	}
	if err := d.reg.SetStatus(name, registry.StatusRegistered, ""); err != nil {
		return err
	}

	d.logger.Info().Str("service", name).Msg("Re-initializing service")
	return d.initialize(ctx, name, -1)
}

func (d *Driver) errorMessage(name string) string {
	if info, ok := d.reg.Info(name); ok {
		return info.ErrorMessage
	}
	return ""
}

// rootMessage returns the message of the innermost cause.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
