// Package config provides hierarchical configuration namespaces for snap
// components. A Config is an immutable view over nested key/value data;
// narrowing and merging produce new views, never mutate existing ones.
package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config is a read-only configuration namespace backed by nested maps.
// The zero value is unusable; construct with New, Empty, or Load.
type Config struct {
	data map[string]any
}

// New creates a Config over a deep copy of data. A nil map yields an
// empty, usable namespace.
func New(data map[string]any) *Config {
	return &Config{data: deepCopyMap(data)}
}

// Empty returns a usable namespace with no keys.
func Empty() *Config {
	return &Config{data: map[string]any{}}
}

// Sub returns the child namespace under name. Missing or non-map values
// yield an empty namespace, so lookups on absent subtrees are safe.
func (c *Config) Sub(name string) *Config {
	if c == nil || c.data == nil {
		return Empty()
	}
	child, ok := c.data[name].(map[string]any)
	if !ok {
		return Empty()
	}
	return New(child)
}

// Merge deep-merges overlay into this namespace and returns the result.
// Overlay values win on scalar conflict; maps merge recursively.
func (c *Config) Merge(overlay *Config) *Config {
	if overlay == nil || len(overlay.data) == 0 {
		return New(c.rawData())
	}
	return &Config{data: deepMergeMaps(c.rawData(), overlay.data)}
}

// Has reports whether key exists directly in this namespace.
func (c *Config) Has(key string) bool {
	if c == nil || c.data == nil {
		return false
	}
	_, ok := c.data[key]
	return ok
}

// Keys returns the namespace's direct keys in sorted order.
func (c *Config) Keys() []string {
	if c == nil || c.data == nil {
		return nil
	}
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of direct keys.
func (c *Config) Len() int {
	if c == nil {
		return 0
	}
	return len(c.data)
}

// Lookup resolves a dotted path ("store.gc.interval") to its raw value.
func (c *Config) Lookup(path string) (any, bool) {
	if c == nil || c.data == nil || path == "" {
		return nil, false
	}

	parts := strings.Split(path, ".")
	current := any(c.data)
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// GetString returns the string at key, or def when absent or non-string.
func (c *Config) GetString(key, def string) string {
	v, ok := c.Lookup(key)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// GetInt returns the integer at key. JSON decodes numbers as float64 and
// YAML as int, so both shapes are accepted, as are numeric strings.
func (c *Config) GetInt(key string, def int) int {
	v, ok := c.Lookup(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

// GetBool returns the boolean at key, accepting bool values and the
// strings strconv.ParseBool understands.
func (c *Config) GetBool(key string, def bool) bool {
	v, ok := c.Lookup(key)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return def
}

// GetFloat returns the float at key.
func (c *Config) GetFloat(key string, def float64) float64 {
	v, ok := c.Lookup(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return def
}

// GetDuration returns the duration at key. Strings parse with
// time.ParseDuration; bare numbers are seconds.
func (c *Config) GetDuration(key string, def time.Duration) time.Duration {
	v, ok := c.Lookup(key)
	if !ok {
		return def
	}
	switch d := v.(type) {
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
	case int:
		return time.Duration(d) * time.Second
	case int64:
		return time.Duration(d) * time.Second
	case float64:
		return time.Duration(d * float64(time.Second))
	}
	return def
}

// GetStringSlice returns the string list at key. Scalars and mixed lists
// are coerced element-wise; comma-separated strings split.
func (c *Config) GetStringSlice(key string, def []string) []string {
	v, ok := c.Lookup(key)
	if !ok {
		return def
	}
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case string:
		if list == "" {
			return def
		}
		parts := strings.Split(list, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return def
}

// Data returns a deep copy of the namespace contents.
func (c *Config) Data() map[string]any {
	if c == nil {
		return map[string]any{}
	}
	return deepCopyMap(c.data)
}

// String returns an indented JSON rendering, useful in logs and tests.
func (c *Config) String() string {
	if c == nil {
		return "{}"
	}
	data, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", c.data)
	}
	return string(data)
}

// rawData exposes the backing map without copying, for merge internals.
func (c *Config) rawData() map[string]any {
	if c == nil || c.data == nil {
		return map[string]any{}
	}
	return c.data
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))

	for k, v := range base {
		result[k] = deepCopyValue(v)
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		// If both base and override have maps at this key, merge them
		if baseMap, baseOk := result[k].(map[string]any); baseOk {
			if overrideMap, overrideOk := v.(map[string]any); overrideOk {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = deepCopyValue(v)
	}

	return result
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}
