// Package imports probes optional capabilities without letting their absence
// crash the process.
//
// A capability is a named probe registered explicitly, either at init() time via
// Provide or on a Manager via Register. SafeImport runs the probe once and caches
// the outcome: successes in one map, failures in another, so a known-missing
// capability is answered without probing again until ClearFailedImports is called.
package imports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/openfroyo/servicecore/pkg/result"
	"github.com/openfroyo/servicecore/pkg/telemetry"
)

var (
	// ErrNotRegistered is returned when no probe exists for a module.
	ErrNotRegistered = errors.New("capability not registered")

	// ErrSymbolNotFound is returned when a module does not expose the requested symbol.
	ErrSymbolNotFound = errors.New("symbol not found")
)

// ProbeFunc loads a capability and returns its value.
type ProbeFunc func(ctx context.Context) (any, error)

// SymbolTable is a capability value exposing named symbols.
type SymbolTable map[string]any

// Lookup returns the symbol registered under name.
func (t SymbolTable) Lookup(name string) (any, bool) {
	v, ok := t[name]
	return v, ok
}

// SymbolLookup is implemented by capability values that resolve symbols by name.
type SymbolLookup interface {
	Lookup(name string) (any, bool)
}

var (
	providedMu sync.Mutex
	provided   = map[string]ProbeFunc{}
)

// Provide registers a probe for every Manager created afterwards. It is meant
// for init() functions and panics when module is empty, probe is nil or module
// is already provided.
func Provide(module string, probe ProbeFunc) {
	providedMu.Lock()
	defer providedMu.Unlock()
	if module == "" || probe == nil {
		panic("imports: Provide requires a module name and a probe")
	}
	if _, dup := provided[module]; dup {
		panic("imports: Provide called twice for " + module)
	}
	provided[module] = probe
}

// Stats reports cache usage.
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	FailedHits   int64 `json:"failed_hits"`
	Cached       int   `json:"cached"`
	Failed       int   `json:"failed"`
	Capabilities int   `json:"capabilities"`
}

// Manager probes capabilities and caches the outcomes.
type Manager struct {
	mu      sync.RWMutex
	probes  map[string]ProbeFunc
	cache   map[string]any
	failed  map[string]error
	flights singleflight.Group

	hits       atomic.Int64
	misses     atomic.Int64
	failedHits atomic.Int64

	logger  zerolog.Logger
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithTracer traces every probe.
func WithTracer(t *telemetry.Tracer) Option {
	return func(m *Manager) {
		m.tracer = t
	}
}

// WithMetrics records import outcomes and cache sizes.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithEvents publishes import failures.
func WithEvents(ep *telemetry.EventPublisher) Option {
	return func(m *Manager) {
		m.events = ep
	}
}

// NewManager creates a manager seeded with every probe passed to Provide.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		probes: make(map[string]ProbeFunc),
		cache:  make(map[string]any),
		failed: make(map[string]error),
		logger: zerolog.Nop(),
	}

	providedMu.Lock()
	for module, probe := range provided {
		m.probes[module] = probe
	}
	providedMu.Unlock()

	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "imports").Logger()
	return m
}

// Register adds a probe for module.
func (m *Manager) Register(module string, probe ProbeFunc) error {
	if module == "" {
		return errors.New("module name must not be empty")
	}
	if probe == nil {
		return fmt.Errorf("probe for module %q must not be nil", module)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.probes[module]; exists {
		return fmt.Errorf("capability %q already registered", module)
	}
	m.probes[module] = probe
	return nil
}

// Modules returns the registered module names, sorted.
func (m *Manager) Modules() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	modules := make([]string, 0, len(m.probes))
	for module := range m.probes {
		modules = append(modules, module)
	}
	sort.Strings(modules)
	return modules
}

type importConfig struct {
	symbol      string
	caller      string
	noCache     bool
	factoryArgs map[string]any
}

// ImportOption adjusts a single import.
type ImportOption func(*importConfig)

// WithSymbol resolves a named symbol of the module instead of the module itself.
func WithSymbol(name string) ImportOption {
	return func(c *importConfig) {
		c.symbol = name
	}
}

// WithContext names the caller in log output.
func WithContext(caller string) ImportOption {
	return func(c *importConfig) {
		c.caller = caller
	}
}

// NoCache bypasses both caches for this import and records nothing.
func NoCache() ImportOption {
	return func(c *importConfig) {
		c.noCache = true
	}
}

// WithFactoryArgs passes arguments to a factory symbol in TryImportService.
func WithFactoryArgs(args map[string]any) ImportOption {
	return func(c *importConfig) {
		c.factoryArgs = args
	}
}

func newImportConfig(opts []ImportOption) importConfig {
	var cfg importConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func cacheKey(module, symbol string) string {
	if symbol == "" {
		return module
	}
	return module + "." + symbol
}

// SafeImport returns the value of module (or its symbol), or nil when the
// capability is unavailable. It never panics.
func (m *Manager) SafeImport(ctx context.Context, module string, opts ...ImportOption) any {
	cfg := newImportConfig(opts)
	value, err := m.load(ctx, module, cfg)
	if err != nil {
		event := m.logger.Debug().Err(err).Str("module", module)
		if cfg.symbol != "" {
			event = event.Str("symbol", cfg.symbol)
		}
		if cfg.caller != "" {
			event = event.Str("caller", cfg.caller)
		}
		event.Msg("Optional capability unavailable")
		return nil
	}
	return value
}

// TryImport is SafeImport returning the failure reason instead of nil.
func (m *Manager) TryImport(ctx context.Context, module string, opts ...ImportOption) result.Result[any, error] {
	value, err := m.load(ctx, module, newImportConfig(opts))
	return result.FromPair(value, err)
}

// Available reports whether module can be imported.
func (m *Manager) Available(ctx context.Context, module string) bool {
	return m.SafeImport(ctx, module) != nil
}

func (m *Manager) load(ctx context.Context, module string, cfg importConfig) (any, error) {
	key := cacheKey(module, cfg.symbol)

	if !cfg.noCache {
		m.mu.RLock()
		value, hit := m.cache[key]
		failure, failedBefore := m.failed[key]
		m.mu.RUnlock()

		switch {
		case hit:
			m.hits.Add(1)
			m.metrics.RecordImport(module, "cached")
			return value, nil
		case failedBefore:
			m.failedHits.Add(1)
			m.metrics.RecordImport(module, "cached_failure")
			return nil, failure
		}
	}
	m.misses.Add(1)

	if cfg.noCache {
		return m.probe(ctx, module, cfg.symbol)
	}

	v, err, _ := m.flights.Do(key, func() (any, error) {
		value, err := m.probe(ctx, module, cfg.symbol)
		m.store(key, value, err)
		return value, err
	})
	return v, err
}

func (m *Manager) probe(ctx context.Context, module, symbol string) (value any, err error) {
	m.mu.RLock()
	probe, ok := m.probes[module]
	m.mu.RUnlock()

	ctx, span := m.tracer.StartImportSpan(ctx, module)
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
			m.metrics.RecordImport(module, "failure")
			_ = m.events.PublishImportFailed(module, err.Error())
		} else {
			telemetry.RecordSuccess(span)
			m.metrics.RecordImport(module, "success")
		}
		span.End()
	}()

	if !ok {
		return nil, fmt.Errorf("module %q: %w", module, ErrNotRegistered)
	}

	value, err = runProbe(ctx, module, probe)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, fmt.Errorf("module %q: probe returned no value", module)
	}
	if symbol == "" {
		return value, nil
	}
	return lookupSymbol(module, symbol, value)
}

func runProbe(ctx context.Context, module string, probe ProbeFunc) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			value = nil
			err = fmt.Errorf("module %q: probe panicked: %v", module, rec)
		}
	}()
	value, err = probe(ctx)
	if err != nil {
		return nil, fmt.Errorf("module %q: %w", module, err)
	}
	return value, nil
}

func lookupSymbol(module, symbol string, value any) (any, error) {
	var (
		v  any
		ok bool
	)
	switch t := value.(type) {
	case SymbolLookup:
		v, ok = t.Lookup(symbol)
	case map[string]any:
		v, ok = t[symbol]
	}
	if !ok || v == nil {
		return nil, fmt.Errorf("module %q: %q: %w", module, symbol, ErrSymbolNotFound)
	}
	return v, nil
}

func (m *Manager) store(key string, value any, err error) {
	m.mu.Lock()
	if err != nil {
		m.failed[key] = err
	} else {
		m.cache[key] = value
	}
	cached, failed := len(m.cache), len(m.failed)
	m.mu.Unlock()

	m.metrics.SetImportCacheEntries("success", cached)
	m.metrics.SetImportCacheEntries("failure", failed)
}

// ClearFailedImports forgets every cached failure so the next import probes again.
func (m *Manager) ClearFailedImports() {
	m.mu.Lock()
	n := len(m.failed)
	m.failed = make(map[string]error)
	m.mu.Unlock()

	m.metrics.SetImportCacheEntries("failure", 0)
	m.logger.Debug().Int("cleared", n).Msg("Cleared failed imports")
}

// ClearCache forgets every cached outcome.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	m.cache = make(map[string]any)
	m.failed = make(map[string]error)
	m.mu.Unlock()

	m.metrics.SetImportCacheEntries("success", 0)
	m.metrics.SetImportCacheEntries("failure", 0)
}

// Failures returns the cached failure reasons keyed by module (or module.symbol).
func (m *Manager) Failures() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.failed))
	for key, err := range m.failed {
		out[key] = err.Error()
	}
	return out
}

// Stats returns a snapshot of cache usage.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Hits:         m.hits.Load(),
		Misses:       m.misses.Load(),
		FailedHits:   m.failedHits.Load(),
		Cached:       len(m.cache),
		Failed:       len(m.failed),
		Capabilities: len(m.probes),
	}
}
