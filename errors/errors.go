// Package errors provides standardized error handling patterns for snap
// components. It includes error classification, standard error variables,
// and helper functions for consistent error wrapping across the runtime.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorInit represents initialization failures that a config fix plus
	// reload can recover from
	ErrorInit ErrorClass = iota
	// ErrorContract represents programming defects in how the runtime API
	// was used; reloading does not help
	ErrorContract
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorInit:
		return "init"
	case ErrorContract:
		return "contract"
	case ErrorTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Engine contract errors
	ErrIDUnset      = errors.New("snaplet id not set")
	ErrNilBootstrap = errors.New("nil bootstrap")
	ErrNilFocus     = errors.New("focus accessor missing get or set")
	ErrNotInstalled = errors.New("snaplet not installed")
	ErrWalkFinished = errors.New("initializer used outside its walk")

	// Configuration errors
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingConfig  = errors.New("missing required configuration")
	ErrConfigNotFound = errors.New("configuration not found")

	// Lifecycle errors
	ErrShutdown     = errors.New("runtime is shutting down")
	ErrNotServing   = errors.New("no live state installed")
	ErrReloadFailed = errors.New("reload failed")

	// Store errors
	ErrKeyNotFound = errors.New("key not found")

	// Connection errors
	ErrNoConnection = errors.New("no connection available")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsContract checks if an error is a programming defect
func IsContract(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorContract
	}

	return errors.Is(err, ErrIDUnset) ||
		errors.Is(err, ErrNilBootstrap) ||
		errors.Is(err, ErrNilFocus) ||
		errors.Is(err, ErrWalkFinished)
}

// IsInit checks if an error is an initialization failure that a reload
// with corrected inputs can recover from
func IsInit(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInit
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrConfigNotFound) ||
		errors.Is(err, ErrReloadFailed)
}

// IsTransient checks if an error is transient and may be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrNoConnection) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	// Common transient patterns from third-party errors
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"network",
		"temporary",
		"unavailable",
		"busy",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// Classify returns the error class for an error. Unclassified errors
// default to ErrorInit: in a component runtime an unknown failure almost
// always comes from a bootstrap computation, and those are what reload
// exists to recover.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorInit
	}

	if IsContract(err) {
		return ErrorContract
	}
	if IsTransient(err) {
		return ErrorTransient
	}

	return ErrorInit
}

// GetClass returns the explicit class of a classified error and whether
// the error carried one
func GetClass(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return ErrorInit, false
}

// newClassified creates a new classified error.
// This is an internal helper - use WrapInit(), WrapContract(), or WrapTransient() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapInit wraps an error as an initialization failure with context
func WrapInit(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInit, wrappedErr, component, method, wrappedErr.Error())
}

// WrapContract wraps an error as a programming defect with context
func WrapContract(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorContract, wrappedErr, component, method, wrappedErr.Error())
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// New creates a plain error. Re-exported so callers never need to import
// both this package and the standard library's.
func New(text string) error {
	return errors.New(text)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Join wraps errors.Join from the standard library
func Join(errs ...error) error {
	return errors.Join(errs...)
}
