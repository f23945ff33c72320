package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config returns a copy of the service configuration.
func (b *Base) Config() map[string]any {
	return cloneMap(b.config)
}

// GetConfig looks up a dot-separated key such as "pool.max_size" in the nested
// configuration. It returns def when a segment is absent or an intermediate
// value is not a map.
func (b *Base) GetConfig(key string, def any) any {
	if v, ok := lookup(b.config, key); ok {
		return v
	}
	return def
}

// GetString returns the string at key, or def.
func (b *Base) GetString(key, def string) string {
	v, ok := lookup(b.config, key)
	if !ok {
		return def
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return def
	}
}

// GetInt returns the integer at key, or def. Whole-valued floats from JSON and
// numeric strings are accepted.
func (b *Base) GetInt(key string, def int) int {
	v, ok := lookup(b.config, key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case int32:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		if n == float64(int(n)) {
			return int(n)
		}
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

// GetBool returns the boolean at key, or def.
func (b *Base) GetBool(key string, def bool) bool {
	v, ok := lookup(b.config, key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if parsed, err := strconv.ParseBool(t); err == nil {
			return parsed
		}
	}
	return def
}

// GetDuration returns the duration at key, or def. Strings use time.ParseDuration syntax.
func (b *Base) GetDuration(key string, def time.Duration) time.Duration {
	v, ok := lookup(b.config, key)
	if !ok {
		return def
	}
	switch d := v.(type) {
	case time.Duration:
		return d
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
	}
	return def
}

func lookup(cfg map[string]any, key string) (any, bool) {
	if key == "" {
		return nil, false
	}

	var current any = cfg
	for _, segment := range strings.Split(key, ".") {
		switch m := current.(type) {
		case map[string]any:
			v, ok := m[segment]
			if !ok {
				return nil, false
			}
			current = v
		case map[any]any:
			v, ok := m[segment]
			if !ok {
				return nil, false
			}
			current = v
		default:
			return nil, false
		}
	}
	return current, true
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
