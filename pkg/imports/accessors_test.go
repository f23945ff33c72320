package imports

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/servicecore/pkg/registry"
)

type vectorStore struct {
	dims int
}

func TestRequireService(t *testing.T) {
	reg := registry.New()
	store := &vectorStore{dims: 384}
	require.NoError(t, reg.RegisterSingleton("vector_store", store))
	require.NoError(t, reg.RegisterFactory("broken", func(context.Context, *registry.Registry) (any, error) {
		return nil, errors.New("disk full")
	}))

	got, err := RequireService(context.Background(), reg, "vector_store", "search")
	require.NoError(t, err)
	assert.Same(t, store, got)

	_, err = RequireService(context.Background(), reg, "missing", "search endpoint")
	require.Error(t, err)
	assert.True(t, registry.IsServiceRequired(err))
	assert.True(t, registry.IsServiceNotAvailable(err))
	assert.Contains(t, err.Error(), `"missing"`)
	assert.Contains(t, err.Error(), "search endpoint")

	_, err = RequireService(context.Background(), reg, "broken", "indexer")
	require.Error(t, err)
	assert.True(t, registry.IsServiceRequired(err))
	assert.Contains(t, err.Error(), "disk full")
}

func TestOptionalService(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.RegisterSingleton("cache", "redis"))
	require.NoError(t, reg.RegisterFactory("broken", func(context.Context, *registry.Registry) (any, error) {
		return nil, errors.New("boom")
	}))
	require.NoError(t, reg.RegisterFactory("panicky", func(context.Context, *registry.Registry) (any, error) {
		panic("bad wiring")
	}))

	ctx := context.Background()
	assert.Equal(t, "redis", OptionalService(ctx, reg, "cache", "memory", "api"))
	assert.Equal(t, "memory", OptionalService(ctx, reg, "missing", "memory", "api"))
	assert.Equal(t, "memory", OptionalService(ctx, reg, "broken", "memory", "api"))
	assert.NotPanics(t, func() {
		assert.Equal(t, "memory", OptionalService(ctx, reg, "panicky", "memory", "api"))
	})
	assert.Nil(t, OptionalService(ctx, reg, "missing", nil, "api"))
}

func TestOptionalService_NilRegistryYieldsDefault(t *testing.T) {
	var reg *registry.Registry
	assert.NotPanics(t, func() {
		assert.Equal(t, 42, OptionalService(context.Background(), reg, "missing", 42, "worker"))
		assert.Equal(t, "memory", Optional(context.Background(), reg, "cache", "memory", "worker"))
	})
}

func TestTypedAccessors(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.RegisterSingleton("vector_store", &vectorStore{dims: 768}))

	ctx := context.Background()
	store, err := Require[*vectorStore](ctx, reg, "vector_store", "search")
	require.NoError(t, err)
	assert.Equal(t, 768, store.dims)

	_, err = Require[string](ctx, reg, "vector_store", "search")
	require.Error(t, err)
	assert.True(t, registry.IsTypeMismatch(err))

	fallback := &vectorStore{}
	assert.Same(t, fallback, Optional(ctx, reg, "missing", fallback, "search"))
	assert.Equal(t, "none", Optional(ctx, reg, "vector_store", "none", "search"))
}

func TestTryImportService(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register("analytics", func(context.Context) (any, error) {
		return SymbolTable{
			"Tracker": func() (any, error) { return &vectorStore{dims: 1}, nil },
			"Config":  func(args map[string]any) (any, error) { return args["endpoint"], nil },
			"Static":  "static-value",
		}, nil
	}))

	reg := registry.New()
	ctx := context.Background()

	assert.True(t, m.TryImportService(ctx, reg, "analytics", "tracker", WithSymbol("Tracker")))
	desc, ok := reg.Descriptor("tracker")
	require.True(t, ok)
	assert.Equal(t, registry.KindFactory, desc.Kind)
	assert.Equal(t, "analytics.Tracker", desc.ClassPath)

	tracker, err := reg.Get(ctx, "tracker")
	require.NoError(t, err)
	assert.Equal(t, 1, tracker.(*vectorStore).dims)

	assert.True(t, m.TryImportService(ctx, reg, "analytics", "endpoint",
		WithSymbol("Config"), WithFactoryArgs(map[string]any{"endpoint": "https://collector"})))
	endpoint, err := reg.Get(ctx, "endpoint")
	require.NoError(t, err)
	assert.Equal(t, "https://collector", endpoint)

	assert.True(t, m.TryImportService(ctx, reg, "analytics", "static", WithSymbol("Static")))
	desc, _ = reg.Descriptor("static")
	assert.Equal(t, registry.KindSingleton, desc.Kind)

	// Duplicate registration and missing modules both report false.
	assert.False(t, m.TryImportService(ctx, reg, "analytics", "static", WithSymbol("Static")))
	assert.False(t, m.TryImportService(ctx, reg, "telemetry_sdk", "telemetry"))
	assert.False(t, reg.Has("telemetry"))
}
