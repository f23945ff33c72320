package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/servicecore/pkg/telemetry"
)

type widget struct {
	id int
}

type healthyWidget struct {
	healthy bool
	panics  bool
}

func (w *healthyWidget) HealthCheck() bool {
	if w.panics {
		panic("probe failure")
	}
	return w.healthy
}

func TestRegistry_SingletonFactoryReturnsSameInstance(t *testing.T) {
	reg := New()
	var built atomic.Int32
	require.NoError(t, reg.RegisterFactory("widget", func(context.Context, *Registry) (any, error) {
		return &widget{id: int(built.Add(1))}, nil
	}))

	first, err := reg.Get(context.Background(), "widget")
	require.NoError(t, err)
	second, err := reg.Get(context.Background(), "widget")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), built.Load())
}

func TestRegistry_TransientFactoryReturnsDistinctInstances(t *testing.T) {
	reg := New()
	require.NoError(t, reg.RegisterFactory("widget", func(context.Context, *Registry) (any, error) {
		return &widget{}, nil
	}, Transient()))

	first, err := reg.Get(context.Background(), "widget")
	require.NoError(t, err)
	second, err := reg.Get(context.Background(), "widget")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	_, instantiated := reg.Instance("widget")
	assert.False(t, instantiated)
}

type hookedWidget struct{}

func (hookedWidget) Initialize(context.Context) error { return nil }
func (hookedWidget) Shutdown(context.Context) error   { return nil }

func TestRegistry_TransientFactoryRejectsLifecycleInstances(t *testing.T) {
	reg := New()
	require.NoError(t, reg.RegisterFactory("worker", func(context.Context, *Registry) (any, error) {
		return &hookedWidget{}, nil
	}, Transient()))

	instance, err := reg.Get(context.Background(), "worker")
	require.Error(t, err)
	assert.Nil(t, instance)
	assert.True(t, IsServiceRegistration(err))
	assert.Contains(t, err.Error(), "singleton")
}

func TestRegistry_ConcurrentFirstGetConstructsOnce(t *testing.T) {
	reg := New()
	var built atomic.Int32
	require.NoError(t, reg.RegisterFactory("widget", func(context.Context, *Registry) (any, error) {
		built.Add(1)
		return &widget{}, nil
	}))

	var wg sync.WaitGroup
	results := make([]any, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = reg.Get(context.Background(), "widget")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), built.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	reg := New()
	require.NoError(t, reg.RegisterSingleton("config", &widget{id: 1}))

	err := reg.RegisterFactory("config", func(context.Context, *Registry) (any, error) {
		return &widget{id: 2}, nil
	})
	require.Error(t, err)
	assert.True(t, IsServiceRegistration(err))
	assert.Contains(t, err.Error(), `service "config" already registered`)

	got, err := reg.Get(context.Background(), "config")
	require.NoError(t, err)
	assert.Equal(t, 1, got.(*widget).id)
}

func TestRegistry_InvalidRegistrations(t *testing.T) {
	reg := New()

	err := reg.RegisterSingleton("", &widget{})
	assert.True(t, IsServiceRegistration(err))

	err = reg.RegisterSingleton("nil", nil)
	assert.True(t, IsServiceRegistration(err))

	err = reg.RegisterFactory("nil_factory", nil)
	assert.True(t, IsServiceRegistration(err))

	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_GetUnknownService(t *testing.T) {
	reg := New()
	_, err := reg.Get(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, IsServiceNotAvailable(err))
	assert.ErrorIs(t, err, ErrServiceNotAvailable)
	assert.False(t, reg.Has("ghost"))
}

func TestRegistry_FactoryFailureIsNotCached(t *testing.T) {
	reg := New()
	calls := 0
	require.NoError(t, reg.RegisterFactory("flaky", func(context.Context, *Registry) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection refused")
		}
		return &widget{id: calls}, nil
	}))

	_, err := reg.Get(context.Background(), "flaky")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `failed to construct service "flaky"`)
	assert.Contains(t, err.Error(), "connection refused")

	got, err := reg.Get(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, 2, got.(*widget).id)
}

func TestRegistry_FactoryPanicAndNil(t *testing.T) {
	reg := New()
	require.NoError(t, reg.RegisterFactory("panics", func(context.Context, *Registry) (any, error) {
		panic("bad wiring")
	}))
	require.NoError(t, reg.RegisterFactory("nil", func(context.Context, *Registry) (any, error) {
		return nil, nil
	}))

	_, err := reg.Get(context.Background(), "panics")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked: bad wiring")

	_, err = reg.Get(context.Background(), "nil")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned nil")
}

func TestRegistry_FactoryResolvesDependencies(t *testing.T) {
	reg := New()
	require.NoError(t, reg.RegisterSingleton("config", &widget{id: 7}))
	require.NoError(t, reg.RegisterFactory("cache", func(ctx context.Context, r *Registry) (any, error) {
		cfg, err := Resolve[*widget](ctx, r, "config")
		if err != nil {
			return nil, err
		}
		return &widget{id: cfg.id * 2}, nil
	}, WithDependencies("config")))

	cache, err := Resolve[*widget](context.Background(), reg, "cache")
	require.NoError(t, err)
	assert.Equal(t, 14, cache.id)

	_, err = Resolve[*healthyWidget](context.Background(), reg, "cache")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestRegistry_RecursiveResolutionCycle(t *testing.T) {
	reg := New()
	require.NoError(t, reg.RegisterFactory("A", func(ctx context.Context, r *Registry) (any, error) {
		return r.Get(ctx, "B")
	}))
	require.NoError(t, reg.RegisterFactory("B", func(ctx context.Context, r *Registry) (any, error) {
		return r.Get(ctx, "A")
	}))

	_, err := reg.Get(context.Background(), "A")
	require.Error(t, err)
	assert.True(t, IsCircularDependency(err))
	assert.Contains(t, err.Error(), "A -> B -> A")
}

func TestRegistry_ListServicesPreservesOrder(t *testing.T) {
	reg := New()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, reg.RegisterSingleton(name, &widget{}))
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, reg.ListServices())

	infos := reg.Infos()
	require.Len(t, infos, 3)
	assert.Equal(t, "zeta", infos[0].Name)
	assert.Equal(t, StatusRegistered, infos[0].Status)
	assert.True(t, infos[0].Instantiated)
}

func TestRegistry_ValidateDependencies(t *testing.T) {
	t.Run("cycle", func(t *testing.T) {
		reg := New()
		factory := func(context.Context, *Registry) (any, error) { return &widget{}, nil }
		require.NoError(t, reg.RegisterFactory("A", factory, WithDependencies("B")))
		require.NoError(t, reg.RegisterFactory("B", factory, WithDependencies("C")))
		require.NoError(t, reg.RegisterFactory("C", factory, WithDependencies("A")))

		errs := reg.ValidateDependencies()
		require.Len(t, errs, 1)
		assert.True(t, IsCircularDependency(errs[0]))
		assert.Contains(t, errs[0].Error(), "A -> B -> C -> A")

		var cerr *Error
		require.True(t, errors.As(errs[0], &cerr))
		assert.Equal(t, []string{"A", "B", "C", "A"}, cerr.Path)

		assert.Equal(t, errs, reg.ValidateDependencies(), "validation has no side effects")
	})

	t.Run("missing", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.RegisterFactory("X", func(context.Context, *Registry) (any, error) {
			return &widget{}, nil
		}, WithDependencies("ghost")))

		errs := reg.ValidateDependencies()
		require.Len(t, errs, 1)
		assert.True(t, IsMissingDependency(errs[0]))
		assert.Contains(t, errs[0].Error(), `"X"`)
		assert.Contains(t, errs[0].Error(), `"ghost"`)
	})

	t.Run("valid", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.RegisterSingleton("config", &widget{}))
		assert.Empty(t, reg.ValidateDependencies())
		assert.NoError(t, reg.Validate())
	})
}

func TestRegistry_RegisterConfig(t *testing.T) {
	reg := New()
	cfg := ServiceConfig{
		Name:         "cache",
		ClassPath:    "pkg/cache.Redis",
		Dependencies: []string{"config"},
		Config:       map[string]any{"ttl": 30},
		Singleton:    false,
	}
	require.NoError(t, reg.RegisterConfig(cfg, func(context.Context, *Registry) (any, error) {
		return &widget{}, nil
	}))
	cfg.Config["ttl"] = 99

	desc, ok := reg.Descriptor("cache")
	require.True(t, ok)
	assert.Equal(t, KindFactory, desc.Kind)
	assert.False(t, desc.IsSingleton)
	assert.Equal(t, "pkg/cache.Redis", desc.ClassPath)
	assert.Equal(t, []string{"config"}, desc.Dependencies)
	assert.Equal(t, 30, desc.Config["ttl"])
}

func TestRegistry_SetStatus(t *testing.T) {
	reg := New()
	require.NoError(t, reg.RegisterSingleton("cache", &widget{}))

	require.NoError(t, reg.SetStatus("cache", StatusInitializing, ""))
	require.NoError(t, reg.SetStatus("cache", StatusError, "boom"))
	info, _ := reg.Info("cache")
	assert.Equal(t, StatusError, info.Status)
	assert.Equal(t, "boom", info.ErrorMessage)

	err := reg.SetStatus("cache", StatusInitialized, "")
	assert.Error(t, err)

	require.NoError(t, reg.RegisterSingleton("idle", &widget{}))
	assert.Error(t, reg.SetStatus("idle", StatusShutdown, ""))
	assert.Equal(t, StatusRegistered, reg.Status("idle"))

	assert.True(t, IsServiceNotAvailable(reg.SetStatus("ghost", StatusShutdown, "")))
	assert.Equal(t, StatusNotRegistered, reg.Status("ghost"))
}

func TestRegistry_HealthCheck(t *testing.T) {
	reg := New()
	require.NoError(t, reg.RegisterSingleton("ok", &healthyWidget{healthy: true}))
	require.NoError(t, reg.RegisterSingleton("sick", &healthyWidget{healthy: false}))
	require.NoError(t, reg.RegisterSingleton("panicky", &healthyWidget{panics: true}))
	require.NoError(t, reg.RegisterSingleton("plain", &widget{}))
	require.NoError(t, reg.RegisterFactory("lazy", func(context.Context, *Registry) (any, error) {
		return &healthyWidget{healthy: false}, nil
	}))

	health := reg.HealthCheck(context.Background())
	assert.Equal(t, map[string]bool{
		"ok":      true,
		"sick":    false,
		"panicky": false,
		"plain":   true,
		"lazy":    true,
	}, health)

	_, err := reg.Get(context.Background(), "lazy")
	require.NoError(t, err)
	assert.False(t, reg.HealthCheck(context.Background())["lazy"])

	reports := reg.HealthReports(context.Background())
	assert.True(t, reports[0].Checked)
	assert.False(t, reports[3].Checked)
}

func TestRegistry_EventsAndMetrics(t *testing.T) {
	ep, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	require.NoError(t, err)
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "test"})
	require.NoError(t, err)

	var types []string
	ep.Subscribe(func(e telemetry.Event) { types = append(types, e.Type) }, nil)

	reg := New(WithEvents(ep), WithMetrics(metrics))
	require.NoError(t, reg.RegisterSingleton("cache", &widget{}))
	require.NoError(t, reg.SetStatus("cache", StatusInitializing, ""))
	require.NoError(t, reg.SetStatus("cache", StatusInitialized, ""))

	assert.Equal(t, []string{
		telemetry.EventTypeServiceRegistered,
		telemetry.EventTypeServiceInitializing,
		telemetry.EventTypeServiceInitialized,
	}, types)
	assert.NotEmpty(t, reg.ID())
}

func TestRegistry_Context(t *testing.T) {
	reg := New()
	ctx := WithContext(context.Background(), reg)
	assert.Same(t, reg, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
}
