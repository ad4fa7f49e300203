package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSub(t *testing.T) {
	cfg := New(map[string]any{
		"kvstore": map[string]any{
			"sync_writes": true,
			"gc": map[string]any{
				"interval": "5m",
			},
		},
		"flat": "value",
	})

	store := cfg.Sub("kvstore")
	require.NotNil(t, store)
	assert.True(t, store.GetBool("sync_writes", false))
	assert.Equal(t, "5m", store.Sub("gc").GetString("interval", ""))

	// Missing and non-map keys narrow to empty, usable namespaces
	assert.Equal(t, 0, cfg.Sub("absent").Len())
	assert.Equal(t, 0, cfg.Sub("flat").Len())
	assert.Equal(t, "fallback", cfg.Sub("absent").GetString("x", "fallback"))
}

func TestSubIsolation(t *testing.T) {
	cfg := New(map[string]any{
		"child": map[string]any{"key": "original"},
	})

	// Mutating a narrowed view's data must not leak into the parent
	sub := cfg.Sub("child")
	data := sub.Data()
	data["key"] = "mutated"

	assert.Equal(t, "original", cfg.Sub("child").GetString("key", ""))
	assert.Equal(t, "original", sub.GetString("key", ""))
}

func TestMerge(t *testing.T) {
	base := New(map[string]any{
		"name": "base",
		"nested": map[string]any{
			"keep":     "base-value",
			"override": "old",
		},
		"list": []any{"a", "b"},
	})
	overlay := New(map[string]any{
		"nested": map[string]any{
			"override": "new",
			"added":    1,
		},
		"list": []any{"c"},
	})

	merged := base.Merge(overlay)

	want := map[string]any{
		"name": "base",
		"nested": map[string]any{
			"keep":     "base-value",
			"override": "new",
			"added":    1,
		},
		"list": []any{"c"},
	}
	if diff := cmp.Diff(want, merged.Data()); diff != "" {
		t.Errorf("merged config mismatch (-want +got):\n%s", diff)
	}

	// Merge never mutates its inputs
	assert.Equal(t, "old", base.Sub("nested").GetString("override", ""))
}

func TestMergeNilOverlay(t *testing.T) {
	base := New(map[string]any{"a": 1})
	merged := base.Merge(nil)
	assert.Equal(t, 1, merged.GetInt("a", 0))
}

func TestLookup(t *testing.T) {
	cfg := New(map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": 42,
			},
		},
	})

	v, ok := cfg.Lookup("a.b.c")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = cfg.Lookup("a.b.missing")
	assert.False(t, ok)
	_, ok = cfg.Lookup("a.b.c.deeper")
	assert.False(t, ok)
	_, ok = cfg.Lookup("")
	assert.False(t, ok)
}

func TestTypedGetters(t *testing.T) {
	cfg := New(map[string]any{
		"str":         "hello",
		"int_native":  7,
		"int_json":    float64(8), // JSON decodes numbers as float64
		"int_str":     "9",
		"bool_native": true,
		"bool_str":    "true",
		"float":       2.5,
		"dur_str":     "90s",
		"dur_num":     30,
		"slice_any":   []any{"x", "y"},
		"slice_csv":   "a, b,c",
		"wrong_type":  []any{1},
	})

	assert.Equal(t, "hello", cfg.GetString("str", ""))
	assert.Equal(t, "def", cfg.GetString("missing", "def"))
	assert.Equal(t, "def", cfg.GetString("int_native", "def"))

	assert.Equal(t, 7, cfg.GetInt("int_native", 0))
	assert.Equal(t, 8, cfg.GetInt("int_json", 0))
	assert.Equal(t, 9, cfg.GetInt("int_str", 0))
	assert.Equal(t, -1, cfg.GetInt("str", -1))

	assert.True(t, cfg.GetBool("bool_native", false))
	assert.True(t, cfg.GetBool("bool_str", false))
	assert.False(t, cfg.GetBool("missing", false))

	assert.Equal(t, 2.5, cfg.GetFloat("float", 0))
	assert.Equal(t, 7.0, cfg.GetFloat("int_native", 0))

	assert.Equal(t, 90*time.Second, cfg.GetDuration("dur_str", 0))
	assert.Equal(t, 30*time.Second, cfg.GetDuration("dur_num", 0))
	assert.Equal(t, time.Minute, cfg.GetDuration("missing", time.Minute))

	assert.Equal(t, []string{"x", "y"}, cfg.GetStringSlice("slice_any", nil))
	assert.Equal(t, []string{"a", "b", "c"}, cfg.GetStringSlice("slice_csv", nil))
	assert.Equal(t, []string{"1"}, cfg.GetStringSlice("wrong_type", nil))
	assert.Nil(t, cfg.GetStringSlice("missing", nil))
}

func TestKeys(t *testing.T) {
	cfg := New(map[string]any{"b": 1, "a": 2, "c": 3})
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Keys())
	assert.True(t, cfg.Has("a"))
	assert.False(t, cfg.Has("z"))
}

func TestNewDeepCopies(t *testing.T) {
	source := map[string]any{
		"nested": map[string]any{"k": "v"},
	}
	cfg := New(source)

	source["nested"].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", cfg.Sub("nested").GetString("k", ""))
}
