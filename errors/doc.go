// Package errors provides standardized error handling patterns for the snap
// runtime.
//
// # Overview
//
// The errors package implements a three-class error classification system
// designed for a component-initialization runtime: Init (bootstrap failures
// that a config fix plus reload can recover), Contract (programming defects
// in how the runtime API was used), and Transient (temporary conditions
// worth retrying).
//
// This classification lets the reload protocol and the serve driver make
// informed decisions without error string matching: Init failures keep the
// previous tree live and report the attempt log, Contract failures indicate
// a bug that no reload will fix, and Transient failures back off and retry.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapInit(err, "kvstore", "bootstrap", "open database")
//	errors.WrapContract(err, "Nest", "install", "parent id check")
//	errors.WrapTransient(err, "natsbridge", "publish", "emit event")
//
// The plain Wrap() preserves the original error's classification:
//
//	errors.Wrap(err, "Run", "walk", "apply post-init hooks")
//
// # Standard Error Variables
//
// Pre-defined variables cover common conditions, organized by category:
//
//   - Engine contract: ErrIDUnset, ErrNilBootstrap, ErrNilFocus
//   - Configuration: ErrInvalidConfig, ErrMissingConfig, ErrConfigNotFound
//   - Lifecycle: ErrShutdown, ErrNotServing, ErrReloadFailed
//   - Stores and connections: ErrKeyNotFound, ErrNoConnection
//
// All types support errors.Is, errors.As and wrapping chains; classification
// is preserved through the chain.
//
// # Thread Safety
//
// Classification and wrapping are pure functions over immutable values and
// are safe for concurrent use.
package errors
