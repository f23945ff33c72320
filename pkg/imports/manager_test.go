package imports

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

func countingProbe(calls *atomic.Int32, value any, err error) ProbeFunc {
	return func(context.Context) (any, error) {
		calls.Add(1)
		return value, err
	}
}

func TestSafeImport_CachesSuccess(t *testing.T) {
	m := NewManager()
	var calls atomic.Int32
	require.NoError(t, m.Register("vector", countingProbe(&calls, "client", nil)))

	assert.Equal(t, "client", m.SafeImport(context.Background(), "vector"))
	assert.Equal(t, "client", m.SafeImport(context.Background(), "vector"))
	assert.Equal(t, int32(1), calls.Load())

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Cached)
}

func TestSafeImport_FailureShortCircuitsUntilCleared(t *testing.T) {
	m := NewManager()
	var calls atomic.Int32
	require.NoError(t, m.Register("gpu", countingProbe(&calls, nil, errors.New("no device"))))

	assert.Nil(t, m.SafeImport(context.Background(), "gpu"))
	assert.Nil(t, m.SafeImport(context.Background(), "gpu"))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), m.Stats().FailedHits)
	assert.Contains(t, m.Failures()["gpu"], "no device")

	m.ClearFailedImports()
	assert.Nil(t, m.SafeImport(context.Background(), "gpu"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSafeImport_ClearFailedKeepsSuccesses(t *testing.T) {
	m := NewManager()
	var okCalls, badCalls atomic.Int32
	require.NoError(t, m.Register("ok", countingProbe(&okCalls, 1, nil)))
	require.NoError(t, m.Register("bad", countingProbe(&badCalls, nil, errors.New("missing"))))

	m.SafeImport(context.Background(), "ok")
	m.SafeImport(context.Background(), "bad")
	m.ClearFailedImports()

	stats := m.Stats()
	assert.Equal(t, 1, stats.Cached)
	assert.Equal(t, 0, stats.Failed)

	m.ClearCache()
	m.SafeImport(context.Background(), "ok")
	assert.Equal(t, int32(2), okCalls.Load())
}

func TestSafeImport_UnregisteredModule(t *testing.T) {
	m := NewManager()
	assert.Nil(t, m.SafeImport(context.Background(), "nope", WithContext("test")))

	res := m.TryImport(context.Background(), "nope")
	require.True(t, res.IsError())
	err, _ := res.Error()
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestSafeImport_PanickingProbeIsFailure(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register("explosive", func(context.Context) (any, error) {
		panic("kaboom")
	}))

	assert.NotPanics(t, func() {
		assert.Nil(t, m.SafeImport(context.Background(), "explosive"))
	})
	assert.Contains(t, m.Failures()["explosive"], "kaboom")
}

func TestSafeImport_Symbols(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register("embeddings", func(context.Context) (any, error) {
		return SymbolTable{"Encoder": "encoder-v2"}, nil
	}))
	require.NoError(t, m.Register("plain", func(context.Context) (any, error) {
		return map[string]any{"Client": 42}, nil
	}))

	assert.Equal(t, "encoder-v2", m.SafeImport(context.Background(), "embeddings", WithSymbol("Encoder")))
	assert.Equal(t, 42, m.SafeImport(context.Background(), "plain", WithSymbol("Client")))

	res := m.TryImport(context.Background(), "embeddings", WithSymbol("Decoder"))
	err, isErr := res.Error()
	require.True(t, isErr)
	assert.ErrorIs(t, err, ErrSymbolNotFound)

	// The module itself stays importable after a symbol miss.
	assert.NotNil(t, m.SafeImport(context.Background(), "embeddings"))
	assert.Contains(t, m.Failures(), "embeddings.Decoder")
}

func TestSafeImport_NoCache(t *testing.T) {
	m := NewManager()
	var calls atomic.Int32
	require.NoError(t, m.Register("vector", countingProbe(&calls, "client", nil)))

	m.SafeImport(context.Background(), "vector", NoCache())
	m.SafeImport(context.Background(), "vector", NoCache())
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 0, m.Stats().Cached)
}

func TestSafeImport_ConcurrentImportsShareResult(t *testing.T) {
	m := NewManager()
	var calls atomic.Int32
	release := make(chan struct{})
	require.NoError(t, m.Register("slow", func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "ready", nil
	}))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "ready", m.SafeImport(context.Background(), "slow"))
		}()
	}
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.Equal(t, "ready", m.SafeImport(context.Background(), "slow"))
	assert.Equal(t, 1, m.Stats().Cached)
}

func TestRegister_Rejects(t *testing.T) {
	m := NewManager()
	probe := func(context.Context) (any, error) { return 1, nil }

	require.NoError(t, m.Register("a", probe))
	assert.Error(t, m.Register("a", probe))
	assert.Error(t, m.Register("", probe))
	assert.Error(t, m.Register("b", nil))
	assert.Equal(t, []string{"a"}, m.Modules())
}

func TestProvide_SeedsNewManagers(t *testing.T) {
	Provide("imports_test.provided", func(context.Context) (any, error) { return "seeded", nil })
	t.Cleanup(func() {
		providedMu.Lock()
		delete(provided, "imports_test.provided")
		providedMu.Unlock()
	})

	m := NewManager()
	assert.Equal(t, "seeded", m.SafeImport(context.Background(), "imports_test.provided"))
	assert.Panics(t, func() {
		Provide("imports_test.provided", func(context.Context) (any, error) { return nil, nil })
	})
}

func TestSafeImport_PublishesFailures(t *testing.T) {
	ep, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	require.NoError(t, err)

	var mu sync.Mutex
	var got []telemetry.Event
	ep.Subscribe(func(e telemetry.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	}, nil)

	m := NewManager(WithEvents(ep))
	m.SafeImport(context.Background(), "absent")
	m.SafeImport(context.Background(), "absent")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, telemetry.EventTypeImportFailed, got[0].Type)
}
