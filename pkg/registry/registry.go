// Package registry implements the service registry: named registrations of
// instances and factories, dependency graph validation, memoized resolution and
// health aggregation.
package registry

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/servicecore/pkg/telemetry"
)

// HealthChecker is implemented by instances that can report their own health.
type HealthChecker interface {
	HealthCheck() bool
}

// registrationAware is implemented by instances that track their own lifecycle status.
type registrationAware interface {
	MarkRegistered()
}

// lifecycleManaged is implemented by instances with initialize and shutdown
// hooks. Those hooks run against the cached instance, so such instances cannot
// come from a transient factory.
type lifecycleManaged interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Registry holds service registrations. Registration is expected during
// single-threaded bootstrap; resolution and inspection are safe for concurrent use.
type Registry struct {
	// id identifies this registry in logs and events.
	id string

	// mu protects entries and order.
	mu sync.RWMutex

	// entries maps service names to their registration.
	entries map[string]*entry

	// order lists service names in registration order.
	order []string

	logger  zerolog.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
}

// entry guards one descriptor. ctorMu serializes construction so a singleton
// factory runs at most once per successful construction; mu guards the fields.
type entry struct {
	ctorMu       sync.Mutex
	mu           sync.RWMutex
	desc         ServiceDescriptor
	instantiated bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics enables registry metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithEvents enables lifecycle event publishing.
func WithEvents(ep *telemetry.EventPublisher) Option {
	return func(r *Registry) {
		r.events = ep
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		id:      uuid.New().String(),
		entries: make(map[string]*entry),
		order:   make([]string, 0),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "registry").Str("registry_id", r.id).Logger()
	return r
}

// ID returns the unique identifier of this registry.
func (r *Registry) ID() string {
	return r.id
}

// Logger returns the registry logger.
func (r *Registry) Logger() zerolog.Logger {
	return r.logger
}

// RegisterSingleton registers a pre-built instance under name.
func (r *Registry) RegisterSingleton(name string, instance any) error {
	if instance == nil {
		return NewServiceRegistrationError(name, fmt.Sprintf("service %q has a nil instance", name))
	}
	deps := dependenciesOf(instance)
	return r.add(ServiceDescriptor{
		Name:         name,
		Kind:         KindSingleton,
		Instance:     instance,
		Dependencies: deps,
		IsSingleton:  true,
		ClassPath:    fmt.Sprintf("%T", instance),
	}, true)
}

// RegisterFactory registers a constructor under name. Factories are singletons
// unless Transient is given.
func (r *Registry) RegisterFactory(name string, factory Factory, opts ...FactoryOption) error {
	if factory == nil {
		return NewServiceRegistrationError(name, fmt.Sprintf("service %q has a nil factory", name))
	}
	desc := ServiceDescriptor{
		Name:        name,
		Kind:        KindFactory,
		Factory:     factory,
		IsSingleton: true,
	}
	for _, opt := range opts {
		opt(&desc)
	}
	return r.add(desc, false)
}

// RegisterConfig registers a factory described by a declarative ServiceConfig.
func (r *Registry) RegisterConfig(cfg ServiceConfig, factory Factory) error {
	opts := []FactoryOption{
		WithDependencies(cfg.Dependencies...),
		WithClassPath(cfg.ClassPath),
		WithConfig(cfg.Config),
	}
	if !cfg.Singleton {
		opts = append(opts, Transient())
	}
	return r.RegisterFactory(cfg.Name, factory, opts...)
}

func (r *Registry) add(desc ServiceDescriptor, instantiated bool) error {
	if desc.Name == "" {
		return NewServiceRegistrationError("", "service name cannot be empty")
	}

	r.mu.Lock()
	if _, exists := r.entries[desc.Name]; exists {
		r.mu.Unlock()
		return NewServiceRegistrationError(desc.Name, fmt.Sprintf("service %q already registered", desc.Name))
	}

	desc.Dependencies = dedupe(desc.Dependencies)
	desc.Status = StatusRegistered
	desc.RegisteredAt = time.Now()
	desc.Order = len(r.order)

	r.entries[desc.Name] = &entry{desc: desc, instantiated: instantiated}
	r.order = append(r.order, desc.Name)
	count := len(r.order)
	r.mu.Unlock()

	if aware, ok := desc.Instance.(registrationAware); ok {
		aware.MarkRegistered()
	}

	r.logger.Debug().
		Str("service", desc.Name).
		Str("kind", string(desc.Kind)).
		Strs("dependencies", desc.Dependencies).
		Msg("Service registered")

	r.metrics.SetServicesRegistered(count)
	r.metrics.SetServiceStatus(desc.Name, string(StatusRegistered))
	_ = r.events.PublishServiceRegistered(desc.Name, string(desc.Kind), desc.Dependencies)

	return nil
}

// Get resolves name, constructing it on first use for factory registrations.
// Singleton factories are constructed once; a failed construction is not cached.
func (r *Registry) Get(ctx context.Context, name string) (any, error) {
	e, ok := r.lookup(name)
	if !ok {
		r.metrics.RecordResolution(name, "missing")
		return nil, NewServiceNotAvailableError(name)
	}

	if e.desc.Kind == KindSingleton {
		r.metrics.RecordResolution(name, "hit")
		return e.desc.Instance, nil
	}

	if chain := resolvingChain(ctx); containsString(chain, name) {
		path := append(append([]string(nil), chain[indexOf(chain, name):]...), name)
		return nil, NewCircularDependencyError(path)
	}
	ctx = withResolving(ctx, name)

	if !e.desc.IsSingleton {
		instance, err := r.construct(ctx, e)
		if err != nil {
			r.metrics.RecordResolution(name, "error")
			return nil, err
		}
		if _, ok := instance.(lifecycleManaged); ok {
			r.metrics.RecordResolution(name, "error")
			return nil, NewServiceRegistrationError(name,
				fmt.Sprintf("transient factory for %q built %T, which has lifecycle hooks and must be registered as a singleton", name, instance))
		}
		if aware, ok := instance.(registrationAware); ok {
			aware.MarkRegistered()
		}
		r.metrics.RecordResolution(name, "created")
		return instance, nil
	}

	if instance, ok := e.cached(); ok {
		r.metrics.RecordResolution(name, "hit")
		return instance, nil
	}

	e.ctorMu.Lock()
	defer e.ctorMu.Unlock()

	if instance, ok := e.cached(); ok {
		r.metrics.RecordResolution(name, "hit")
		return instance, nil
	}

	instance, err := r.construct(ctx, e)
	if err != nil {
		r.metrics.RecordResolution(name, "error")
		return nil, err
	}

	e.mu.Lock()
	e.desc.Instance = instance
	e.instantiated = true
	e.mu.Unlock()

	if aware, ok := instance.(registrationAware); ok {
		aware.MarkRegistered()
	}

	r.metrics.RecordResolution(name, "created")
	r.logger.Debug().Str("service", name).Msg("Service instantiated")

	return instance, nil
}

// construct invokes the factory, converting panics and nil results into errors.
func (r *Registry) construct(ctx context.Context, e *entry) (instance any, err error) {
	name := e.desc.Name
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("factory for service %q panicked: %v", name, rec)
		}
	}()

	instance, err = e.desc.Factory(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("failed to construct service %q: %w", name, err)
	}
	if instance == nil {
		return nil, fmt.Errorf("factory for service %q returned nil", name)
	}
	return instance, nil
}

// Resolve resolves name and asserts the instance to T.
func Resolve[T any](ctx context.Context, r *Registry, name string) (T, error) {
	var zero T
	v, err := r.Get(ctx, name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, NewTypeMismatchError(name, reflect.TypeFor[T]().String(), v)
	}
	return t, nil
}

// Has reports whether name is registered, without constructing anything.
func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// ListServices returns registered names in registration order.
func (r *Registry) ListServices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Descriptor returns a snapshot of the registration for name.
func (r *Registry) Descriptor(name string) (ServiceDescriptor, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return ServiceDescriptor{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	d := e.desc
	d.Dependencies = append([]string(nil), d.Dependencies...)
	d.Config = copyConfig(d.Config)
	return d, true
}

// Info returns the read-only projection for name.
func (r *Registry) Info(name string) (ServiceInfo, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return ServiceInfo{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.desc.info(e.instantiated), true
}

// Infos returns projections of every registration in registration order.
func (r *Registry) Infos() []ServiceInfo {
	names := r.ListServices()
	infos := make([]ServiceInfo, 0, len(names))
	for _, name := range names {
		if info, ok := r.Info(name); ok {
			infos = append(infos, info)
		}
	}
	return infos
}

// Dependencies returns the declared dependencies of name.
func (r *Registry) Dependencies(name string) []string {
	e, ok := r.lookup(name)
	if !ok {
		return nil
	}
	return append([]string(nil), e.desc.Dependencies...)
}

// Instance returns the constructed instance for name without triggering construction.
func (r *Registry) Instance(name string) (any, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, false
	}
	return e.cached()
}

// Status returns the lifecycle status of name, or StatusNotRegistered.
func (r *Registry) Status(name string) ServiceStatus {
	e, ok := r.lookup(name)
	if !ok {
		return StatusNotRegistered
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.desc.Status
}

// SetStatus records a lifecycle transition for name. Setting the current status again is a no-op.
func (r *Registry) SetStatus(name string, status ServiceStatus, errMsg string) error {
	e, ok := r.lookup(name)
	if !ok {
		return NewServiceNotAvailableError(name)
	}

	e.mu.Lock()
	old := e.desc.Status
	if old == status {
		e.desc.ErrorMessage = errMsg
		e.mu.Unlock()
		return nil
	}
	if !old.CanTransitionTo(status) {
		e.mu.Unlock()
		return fmt.Errorf("service %q cannot transition from %s to %s", name, old, status)
	}
	e.desc.Status = status
	e.desc.ErrorMessage = errMsg
	e.mu.Unlock()

	r.logger.Debug().
		Str("service", name).
		Str("from", string(old)).
		Str("to", string(status)).
		Msg("Service status changed")

	r.metrics.SetServiceStatus(name, string(status))
	_ = r.events.PublishServiceStatus(name, string(old), string(status), errMsg)

	return nil
}

// Graph returns a snapshot dependency graph of the current registrations.
func (r *Registry) Graph() *Graph {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g := NewGraph()
	for _, name := range r.order {
		g.AddNode(name, r.entries[name].desc.Dependencies...)
	}
	return g
}

// ValidateDependencies checks the dependency graph without side effects.
// It returns missing-dependency errors in registration order followed by one
// circular dependency error per distinct cycle. An empty result means the graph is valid.
func (r *Registry) ValidateDependencies() []error {
	return r.Graph().Errors()
}

// Validate returns the consolidated *ValidationReport, or nil for a valid graph.
func (r *Registry) Validate() error {
	return r.Graph().Validate()
}

// StartupOrder returns a valid initialization order with ties broken by registration order.
func (r *Registry) StartupOrder() ([]string, error) {
	return r.Graph().TopologicalOrder()
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

func (e *entry) cached() (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.instantiated {
		return nil, false
	}
	return e.desc.Instance, true
}

// dependenciesOf returns the frozen dependency list an instance declares, if any.
func dependenciesOf(instance any) []string {
	if d, ok := instance.(interface{ Dependencies() []string }); ok {
		return d.Dependencies()
	}
	return nil
}

func containsString(list []string, s string) bool {
	return indexOf(list, s) >= 0
}
