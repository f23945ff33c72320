package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBase_GetConfig(t *testing.T) {
	b := NewBase("cache", nil, map[string]any{
		"backend": "redis",
		"pool": map[string]any{
			"max_size": 10,
			"timeout":  "250ms",
		},
		"yaml": map[any]any{"nested": true},
		"ttl":  float64(30),
	})

	tests := []struct {
		name string
		key  string
		def  any
		want any
	}{
		{name: "top level", key: "backend", def: "memory", want: "redis"},
		{name: "nested", key: "pool.max_size", def: 1, want: 10},
		{name: "absent leaf", key: "pool.min_size", def: 2, want: 2},
		{name: "absent branch", key: "storage.path", def: "/tmp", want: "/tmp"},
		{name: "through scalar", key: "backend.host", def: "none", want: "none"},
		{name: "yaml map", key: "yaml.nested", def: false, want: true},
		{name: "empty key", key: "", def: "d", want: "d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.GetConfig(tt.key, tt.def))
		})
	}
}

func TestBase_TypedConfig(t *testing.T) {
	b := NewBase("cache", nil, map[string]any{
		"pool": map[string]any{
			"max_size": 10,
			"timeout":  "250ms",
			"enabled":  "true",
		},
		"ttl":   float64(30),
		"ratio": 0.5,
	})

	assert.Equal(t, 10, b.GetInt("pool.max_size", 1))
	assert.Equal(t, 30, b.GetInt("ttl", 1))
	assert.Equal(t, 1, b.GetInt("ratio", 1))
	assert.Equal(t, 250*time.Millisecond, b.GetDuration("pool.timeout", time.Second))
	assert.Equal(t, time.Second, b.GetDuration("pool.max_size", time.Second))
	assert.True(t, b.GetBool("pool.enabled", false))
	assert.Equal(t, "fallback", b.GetString("pool.max_size", "fallback"))
}

func TestBase_ConfigIsCopied(t *testing.T) {
	cfg := map[string]any{"pool": map[string]any{"max_size": 10}}
	b := NewBase("cache", nil, cfg)
	cfg["pool"].(map[string]any)["max_size"] = 99

	assert.Equal(t, 10, b.GetInt("pool.max_size", 0))

	out := b.Config()
	out["pool"] = "changed"
	assert.Equal(t, 10, b.GetInt("pool.max_size", 0))
}
