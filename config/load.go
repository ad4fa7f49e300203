package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/uffizio/snap/errors"
)

// AppConfigName is the well-known application config file resolved at the
// root of a snaplet tree.
const AppConfigName = "app.cfg"

// Load reads a configuration file into a namespace. The decoder is chosen
// by extension: .json decodes with encoding/json, while .yaml, .yml and
// .cfg decode with YAML (which accepts JSON documents too, so .cfg files
// can be written in either syntax).
func Load(path string) (*Config, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, errors.WrapInit(err, "config", "Load", "read file")
	}

	raw, err := decode(path, data)
	if err != nil {
		return nil, errors.WrapInit(err, "config", "Load", "decode file")
	}

	return &Config{data: raw}, nil
}

// MergeFile merges the contents of path over this namespace. A missing
// file is a no-op; a malformed one is an error.
func (c *Config) MergeFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(c.rawData()), nil
	}

	overlay, err := Load(path)
	if err != nil {
		return nil, err
	}
	return c.Merge(overlay), nil
}

// LoadAppConfig resolves the root application config: dir/app.cfg merged
// with the optional dir/app.<environment>.cfg overlay. A missing base
// file yields an empty namespace so applications can run unconfigured.
func LoadAppConfig(dir, environment string) (*Config, error) {
	cfg := Empty()

	base := filepath.Join(dir, AppConfigName)
	if _, err := os.Stat(base); err == nil {
		loaded, err := Load(base)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if environment == "" {
		return cfg, nil
	}

	overlay := filepath.Join(dir, "app."+environment+".cfg")
	if _, err := os.Stat(overlay); os.IsNotExist(err) {
		return cfg, nil
	}
	return cfg.MergeFile(overlay)
}

// WithEnvOverrides applies environment variables on top of the namespace.
// A variable PREFIX_STORE_GC_INTERVAL sets the dotted path
// store.gc.interval to its string value; overrides always win.
func (c *Config) WithEnvOverrides(prefix string) *Config {
	if prefix == "" {
		return New(c.rawData())
	}

	prefix = strings.ToUpper(prefix) + "_"
	result := c.rawData()
	merged := deepCopyMap(result)

	for _, entry := range os.Environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		if err := validateEnvVar(name, value); err != nil {
			continue
		}

		path := strings.ToLower(strings.TrimPrefix(name, prefix))
		parts := strings.Split(path, "_")
		setPath(merged, parts, value)
	}

	return &Config{data: merged}
}

// setPath writes value at the nested key path, materializing intermediate
// maps and replacing non-map intermediates.
func setPath(m map[string]any, parts []string, value string) {
	if len(parts) == 0 {
		return
	}
	if len(parts) == 1 {
		m[parts[0]] = value
		return
	}

	child, ok := m[parts[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		m[parts[0]] = child
	}
	setPath(child, parts[1:], value)
}

// decode unmarshals file contents per extension into a string-keyed map.
func decode(path string, data []byte) (map[string]any, error) {
	ext := strings.ToLower(filepath.Ext(path))

	if ext == ".json" {
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return raw, nil
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return normalizeYAML(raw), nil
}

// normalizeYAML rewrites yaml.v3 decoding artifacts so the tree contains
// only map[string]any and []any containers.
func normalizeYAML(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeYAMLValue(v)
	}
	return out
}

func normalizeYAMLValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeYAML(val)
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAMLValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAMLValue(item)
		}
		return out
	default:
		return v
	}
}
