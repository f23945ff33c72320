// Package service defines the contract every managed component implements and
// an embeddable Base that provides the lifecycle state machine, configuration
// lookup and health reporting.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/servicecore/pkg/registry"
)

// Service is the lifecycle contract of a managed component.
type Service interface {
	// Initialize prepares the service. It is idempotent once the service is ready.
	Initialize(ctx context.Context) error

	// Shutdown releases resources. It is a no-op before initialization.
	Shutdown(ctx context.Context) error

	// HealthCheck reports readiness. It never panics.
	HealthCheck() bool

	// Dependencies returns the names that must be initialized first.
	Dependencies() []string
}

// Resettable is implemented by services that support operator-triggered retry
// after a failed initialization.
type Resettable interface {
	Reset() error
}

// Named is implemented by services that know their registry name.
type Named interface {
	Name() string
}

// StatusReporter is implemented by services that expose their lifecycle status.
type StatusReporter interface {
	Status() registry.ServiceStatus
	ErrorMessage() string
}

// ErrShutdown is the cause reported when initializing a service that was already shut down.
var ErrShutdown = errors.New("service has been shut down")

// Base implements the lifecycle state machine shared by concrete services.
//
//	NotRegistered -> Registered -> Initializing -> Initialized | Error -> Shutdown
//
// Initialize runs the initializer hook at most once per attempt. A failed attempt
// leaves the service in Error and later Initialize calls return the same error
// without re-running the hook until Reset is called.
type Base struct {
	name   string
	deps   []string
	config map[string]any
	logger zerolog.Logger

	initFn     func(ctx context.Context) error
	shutdownFn func(ctx context.Context) error
	healthFn   func() bool
	onChange   []func(old, new registry.ServiceStatus)

	// lifeMu serializes Initialize, Shutdown and Reset.
	lifeMu sync.Mutex

	// mu guards the state fields below.
	mu      sync.RWMutex
	status  registry.ServiceStatus
	errMsg  string
	initErr error
}

// Option configures a Base.
type Option func(*Base)

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Base) {
		b.logger = logger
	}
}

// WithInitializer sets the initialization hook.
func WithInitializer(fn func(ctx context.Context) error) Option {
	return func(b *Base) {
		b.initFn = fn
	}
}

// WithShutdowner sets the shutdown hook.
func WithShutdowner(fn func(ctx context.Context) error) Option {
	return func(b *Base) {
		b.shutdownFn = fn
	}
}

// WithHealthFunc sets a custom health probe consulted once the service is initialized.
func WithHealthFunc(fn func() bool) Option {
	return func(b *Base) {
		b.healthFn = fn
	}
}

// OnStatusChange registers a callback invoked after every status transition.
func OnStatusChange(fn func(old, new registry.ServiceStatus)) Option {
	return func(b *Base) {
		b.onChange = append(b.onChange, fn)
	}
}

// NewBase creates a Base. The dependency list and configuration are copied and
// frozen for the lifetime of the service.
func NewBase(name string, deps []string, cfg map[string]any, opts ...Option) *Base {
	b := &Base{
		name:   name,
		deps:   append([]string(nil), deps...),
		config: cloneMap(cfg),
		logger: zerolog.Nop(),
		status: registry.StatusNotRegistered,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With().Str("service", name).Logger()
	return b
}

// NewFunc creates a service from plain initializer and shutdown functions.
func NewFunc(name string, deps []string, initialize, shutdown func(ctx context.Context) error) *Base {
	return NewBase(name, deps, nil, WithInitializer(initialize), WithShutdowner(shutdown))
}

// Name returns the service name.
func (b *Base) Name() string {
	return b.name
}

// Dependencies returns a copy of the frozen dependency list.
func (b *Base) Dependencies() []string {
	return append([]string(nil), b.deps...)
}

// Status returns the current lifecycle status.
func (b *Base) Status() registry.ServiceStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// ErrorMessage returns the last initialization failure message.
func (b *Base) ErrorMessage() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.errMsg
}

// Logger returns the service logger.
func (b *Base) Logger() zerolog.Logger {
	return b.logger
}

// MarkRegistered moves a fresh service to Registered. The registry calls it on insertion.
func (b *Base) MarkRegistered() {
	b.mu.Lock()
	if b.status != registry.StatusNotRegistered {
		b.mu.Unlock()
		return
	}
	b.status = registry.StatusRegistered
	callbacks := b.onChange
	b.mu.Unlock()

	for _, fn := range callbacks {
		fn(registry.StatusNotRegistered, registry.StatusRegistered)
	}
}

// Initialize runs the initializer hook and moves the service to Initialized or Error.
func (b *Base) Initialize(ctx context.Context) error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	switch b.Status() {
	case registry.StatusInitialized:
		return nil
	case registry.StatusError:
		b.mu.RLock()
		defer b.mu.RUnlock()
		return b.initErr
	case registry.StatusShutdown:
		return registry.NewServiceInitializationError(b.name, ErrShutdown)
	case registry.StatusNotRegistered:
		b.setStatus(registry.StatusRegistered, "")
	}

	b.setStatus(registry.StatusInitializing, "")
	b.logger.Debug().Msg("Initializing service")

	if err := b.runHook(ctx, b.initFn); err != nil {
		initErr := registry.NewServiceInitializationError(b.name, err)
		b.mu.Lock()
		b.initErr = initErr
		b.mu.Unlock()
		b.setStatus(registry.StatusError, err.Error())
		b.logger.Error().Err(err).Msg("Service initialization failed")
		return initErr
	}

	b.setStatus(registry.StatusInitialized, "")
	b.logger.Debug().Msg("Service initialized")
	return nil
}

// Shutdown runs the shutdown hook for an initialized or failed service and moves
// it to Shutdown even when the hook fails. It is a no-op in every other state.
func (b *Base) Shutdown(ctx context.Context) error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	status := b.Status()
	if status != registry.StatusInitialized && status != registry.StatusError {
		return nil
	}

	err := b.runHook(ctx, b.shutdownFn)
	b.setStatus(registry.StatusShutdown, b.ErrorMessage())
	if err != nil {
		b.logger.Warn().Err(err).Msg("Service shutdown hook failed")
		return fmt.Errorf("shutdown of service %q failed: %w", b.name, err)
	}

	b.logger.Debug().Msg("Service shut down")
	return nil
}

// Reset moves a failed service back to Registered so the next Initialize
// re-runs the initializer hook.
func (b *Base) Reset() error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	if status := b.Status(); status != registry.StatusError {
		return fmt.Errorf("service %q cannot be reset from status %s", b.name, status)
	}

	b.mu.Lock()
	b.initErr = nil
	b.mu.Unlock()
	b.setStatus(registry.StatusRegistered, "")
	b.logger.Info().Msg("Service reset for re-initialization")
	return nil
}

// HealthCheck reports true only for an initialized service whose health probe,
// if any, succeeds. A panicking probe reports false.
func (b *Base) HealthCheck() (healthy bool) {
	if b.Status() != registry.StatusInitialized {
		return false
	}
	if b.healthFn == nil {
		return true
	}
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Warn().Interface("panic", rec).Msg("Health probe panicked")
			healthy = false
		}
	}()
	return b.healthFn()
}

func (b *Base) runHook(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

func (b *Base) setStatus(status registry.ServiceStatus, msg string) {
	b.mu.Lock()
	old := b.status
	b.status = status
	b.errMsg = msg
	callbacks := b.onChange
	b.mu.Unlock()

	for _, fn := range callbacks {
		fn(old, status)
	}
}
