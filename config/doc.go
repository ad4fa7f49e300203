// Package config provides hierarchical configuration namespaces for snap
// applications.
//
// This package handles loading, narrowing, merging, and validation of the
// user configuration a snaplet tree consumes: the root component loads the
// whole application file, and every nested component sees only the subtree
// named by its id.
//
// # Core Components
//
// Config: an immutable view over nested key/value data with typed getters
// (GetString, GetInt, GetBool, GetFloat, GetDuration, GetStringSlice) and
// dotted-path Lookup. Narrowing (Sub) and merging (Merge, MergeFile,
// WithEnvOverrides) return new views; existing views never change, which
// is what lets reload attempts rebuild configuration without touching the
// live tree.
//
// Load/LoadAppConfig: file decoding chosen by extension. JSON files decode
// with encoding/json; .yaml, .yml and .cfg decode as YAML, which accepts
// JSON documents too, so .cfg files may be written in either syntax.
// LoadAppConfig resolves the well-known root file app.cfg plus an optional
// app.<environment>.cfg overlay.
//
// Validate: JSON Schema validation of a namespace, used by components that
// declare a schema for their configuration slice.
//
// # Basic Usage
//
// Loading the application config and narrowing to a component:
//
//	cfg, err := config.LoadAppConfig(".", "devel")
//	if err != nil {
//		log.Fatal(err)
//	}
//	store := cfg.Sub("kvstore")
//	interval := store.GetDuration("gc_interval", 5*time.Minute)
//
// # Merge Semantics
//
// Merging is recursive with last-wins semantics:
//
//	app.cfg:
//	  {"kvstore": {"sync_writes": false, "gc_interval": "5m"}}
//
//	kvstore's snaplet.cfg:
//	  {"sync_writes": true}
//
//	kvstore sees:
//	  {"sync_writes": true, "gc_interval": "5m"}
//
// Maps merge key-by-key while scalars and lists from the overlay replace
// the base value; nil overlay values are ignored. Environment overrides
// apply last and always win:
//
//	cfg = cfg.WithEnvOverrides("SNAP") // SNAP_KVSTORE_GC_INTERVAL=30s
//
// # Security
//
// The package includes security validation:
//   - File size limits (10MB max) to prevent memory exhaustion
//   - JSON depth validation (100 levels max) to prevent DoS attacks
//   - Regular file checks (no symlinks or device files)
//
// # Thread Safety
//
// A Config is immutable after construction and safe for concurrent readers.
package config
