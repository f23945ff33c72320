package imports

import (
	"context"
	"fmt"
	"reflect"

	"github.com/openfroyo/servicecore/pkg/registry"
)

// RequireService resolves a service the caller cannot work without. Absence or a
// construction failure is reported as a ServiceRequiredError naming caller.
func RequireService(ctx context.Context, reg *registry.Registry, name, caller string) (any, error) {
	if !reg.Has(name) {
		return nil, registry.NewServiceRequiredError(name, caller, registry.NewServiceNotAvailableError(name))
	}
	instance, err := reg.Get(ctx, name)
	if err != nil {
		return nil, registry.NewServiceRequiredError(name, caller, err)
	}
	return instance, nil
}

// OptionalService resolves a service the caller can do without. It returns def
// when the service is absent, fails to construct or panics, and when reg is nil.
func OptionalService(ctx context.Context, reg *registry.Registry, name string, def any, caller string) (instance any) {
	if reg == nil {
		return def
	}
	logger := reg.Logger()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Warn().
				Str("service", name).
				Str("caller", caller).
				Interface("panic", rec).
				Msg("Optional service panicked during resolution")
			instance = def
		}
	}()

	if !reg.Has(name) {
		logger.Debug().Str("service", name).Str("caller", caller).Msg("Optional service not registered")
		return def
	}
	instance, err := reg.Get(ctx, name)
	if err != nil {
		logger.Warn().Err(err).Str("service", name).Str("caller", caller).Msg("Optional service unavailable")
		return def
	}
	return instance
}

// Require is RequireService with a type assertion.
func Require[T any](ctx context.Context, reg *registry.Registry, name, caller string) (T, error) {
	var zero T
	instance, err := RequireService(ctx, reg, name, caller)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, registry.NewServiceRequiredError(name, caller,
			registry.NewTypeMismatchError(name, reflect.TypeFor[T]().String(), instance))
	}
	return typed, nil
}

// Optional is OptionalService with a type assertion. A value of the wrong type yields def.
func Optional[T any](ctx context.Context, reg *registry.Registry, name string, def T, caller string) T {
	instance := OptionalService(ctx, reg, name, nil, caller)
	if instance == nil {
		return def
	}
	typed, ok := instance.(T)
	if !ok {
		logger := reg.Logger()
		logger.Warn().
			Str("service", name).
			Str("caller", caller).
			Str("want", reflect.TypeFor[T]().String()).
			Str("got", fmt.Sprintf("%T", instance)).
			Msg("Optional service has unexpected type")
		return def
	}
	return typed
}

// TryImportService imports module (or the symbol named by WithSymbol) and
// registers it under serviceName. Constructor values become factories and any
// other value a singleton. It reports false when the import or registration fails.
func (m *Manager) TryImportService(ctx context.Context, reg *registry.Registry, module, serviceName string, opts ...ImportOption) bool {
	cfg := newImportConfig(opts)
	value, err := m.load(ctx, module, cfg)
	if err != nil {
		m.logger.Debug().Err(err).Str("module", module).Str("service", serviceName).Msg("Service import unavailable")
		return false
	}

	classPath := cacheKey(module, cfg.symbol)
	factory, isFactory := asFactory(value, cfg.factoryArgs)
	if isFactory {
		err = reg.RegisterFactory(serviceName, factory, registry.WithClassPath(classPath), registry.WithConfig(cfg.factoryArgs))
	} else {
		err = reg.RegisterSingleton(serviceName, value)
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("module", module).Str("service", serviceName).Msg("Imported service could not be registered")
		return false
	}

	m.logger.Debug().Str("module", module).Str("service", serviceName).Bool("factory", isFactory).Msg("Imported service registered")
	return true
}

func asFactory(value any, args map[string]any) (registry.Factory, bool) {
	switch fn := value.(type) {
	case registry.Factory:
		return fn, true
	case func(context.Context, *registry.Registry) (any, error):
		return fn, true
	case func() (any, error):
		return func(context.Context, *registry.Registry) (any, error) { return fn() }, true
	case func() any:
		return func(context.Context, *registry.Registry) (any, error) { return fn(), nil }, true
	case func(map[string]any) (any, error):
		return func(context.Context, *registry.Registry) (any, error) { return fn(args) }, true
	}
	return nil, false
}
