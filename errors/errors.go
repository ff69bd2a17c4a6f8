// Package errors provides standardized error handling for HealthBridge
// components. It defines the platform error taxonomy used by provider
// adapters, the provider manager, and the recovery service, along with
// helper functions for consistent wrapping and classification.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/c360/healthbridge/pkg/retry"
)

// ErrorClass represents the classification of errors for handling purposes.
// Classification is a pure function of the error value and its message, and
// is applied identically by adapters, the orchestrator, and the recovery
// service.
type ErrorClass int

const (
	// ErrorTransient represents temporary errors of unknown origin.
	// Conservatively non-retryable at the orchestrator level to avoid
	// infinite loops on failures we cannot reason about.
	ErrorTransient ErrorClass = iota
	// ErrorPermissionDenied indicates a missing or revoked health permission
	ErrorPermissionDenied
	// ErrorServiceBinding indicates loss of the platform service connection,
	// a known failure mode on certain vendor-customized builds
	ErrorServiceBinding
	// ErrorDeviceUnavailable indicates the platform service is not installed
	// or not supported on this device
	ErrorDeviceUnavailable
	// ErrorNetwork indicates a network-level failure
	ErrorNetwork
	// ErrorRateLimited indicates the caller exceeded a request budget
	ErrorRateLimited
	// ErrorDataCorruption indicates unparseable or integrity-failing records
	ErrorDataCorruption
	// ErrorTimeout indicates an operation exceeded its deadline
	ErrorTimeout
)

// String returns the wire name of the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "TRANSIENT"
	case ErrorPermissionDenied:
		return "PERMISSION_DENIED"
	case ErrorServiceBinding:
		return "SERVICE_BINDING_FAILED"
	case ErrorDeviceUnavailable:
		return "DEVICE_UNAVAILABLE"
	case ErrorNetwork:
		return "NETWORK_ERROR"
	case ErrorRateLimited:
		return "RATE_LIMITED"
	case ErrorDataCorruption:
		return "DATA_CORRUPTION"
	case ErrorTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Retryable reports whether errors of this class are eligible for retry.
// Service-binding and permission failures never recover within a call, so
// retrying them only burns the retry budget. Unknown (transient) errors are
// defaulted non-retryable at the orchestrator level.
func (ec ErrorClass) Retryable() bool {
	switch ec {
	case ErrorNetwork, ErrorTimeout, ErrorRateLimited:
		return true
	default:
		return false
	}
}

// Standard error variables for common conditions
var (
	// Lifecycle errors
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrNotInitialized     = errors.New("not initialized")
	ErrAlreadyStopped     = errors.New("already stopped")
	ErrShuttingDown       = errors.New("shutting down")

	// Platform bridge errors
	ErrPermissionDenied  = errors.New("health permission denied")
	ErrServiceBinding    = errors.New("platform service binding failed")
	ErrDeviceUnavailable = errors.New("health service unavailable on device")
	ErrProviderNotFound  = errors.New("no provider registered")
	ErrNoActiveProvider  = errors.New("no active provider available")
	ErrOperationTimeout  = errors.New("operation timeout")
	ErrConnectionLost    = errors.New("connection lost")

	// Data errors
	ErrInvalidData    = errors.New("invalid data format")
	ErrDataCorrupted  = errors.New("data corrupted")
	ErrChecksumFailed = errors.New("checksum validation failed")
	ErrKeyNotFound    = errors.New("key not found")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Resource errors
	ErrRateLimited = errors.New("rate limited")
	ErrStorageFull = errors.New("storage full")
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// ClassifiedError wraps an error with its classification and the component
// context in which it occurred.
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

// classPatterns maps message substrings to error classes. Checked in order;
// binding failures are checked before generic connection patterns because
// vendor builds report them with overlapping wording.
var classPatterns = []struct {
	class    ErrorClass
	patterns []string
}{
	{ErrorServiceBinding, []string{"binder", "binding", "deadobjectexception", "service disconnected", "remote service"}},
	{ErrorPermissionDenied, []string{"permission", "not authorized", "securityexception", "denied"}},
	{ErrorDeviceUnavailable, []string{"not installed", "not supported", "unavailable on device", "api not available", "no such provider"}},
	{ErrorRateLimited, []string{"rate limit", "too many requests", "quota"}},
	{ErrorDataCorruption, []string{"corrupt", "checksum", "malformed", "parse error", "unmarshal"}},
	{ErrorTimeout, []string{"timeout", "deadline exceeded", "timed out"}},
	{ErrorNetwork, []string{"network", "connection refused", "connection reset", "no route to host", "dns", "unreachable"}},
}

// Classify returns the error class for an error. It first honors explicit
// classifications (ClassifiedError, sentinel values), then falls back to
// message-pattern matching. Unknown errors classify as transient.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}

	switch {
	case errors.Is(err, ErrPermissionDenied):
		return ErrorPermissionDenied
	case errors.Is(err, ErrServiceBinding):
		return ErrorServiceBinding
	case errors.Is(err, ErrDeviceUnavailable), errors.Is(err, ErrProviderNotFound), errors.Is(err, ErrNoActiveProvider):
		return ErrorDeviceUnavailable
	case errors.Is(err, ErrRateLimited):
		return ErrorRateLimited
	case errors.Is(err, ErrDataCorrupted), errors.Is(err, ErrChecksumFailed), errors.Is(err, ErrInvalidData):
		return ErrorDataCorruption
	case errors.Is(err, ErrOperationTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout
	case errors.Is(err, ErrConnectionLost):
		return ErrorNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, cp := range classPatterns {
		for _, p := range cp.patterns {
			if strings.Contains(msg, p) {
				return cp.class
			}
		}
	}

	return ErrorTransient
}

// IsRetryable reports whether the classified error is eligible for retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Retryable()
}

// newClassified creates a new classified error.
// Internal helper - use the Wrap* constructors instead.
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

// WrapClass wraps an error with an explicit classification and context.
func WrapClass(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return newClassified(class, wrapped, component, method, wrapped.Error())
}

// WrapPermission wraps an error as a permission failure with context
func WrapPermission(err error, component, method, action string) error {
	return WrapClass(ErrorPermissionDenied, err, component, method, action)
}

// WrapBinding wraps an error as a service-binding failure with context
func WrapBinding(err error, component, method, action string) error {
	return WrapClass(ErrorServiceBinding, err, component, method, action)
}

// WrapNetwork wraps an error as a network failure with context
func WrapNetwork(err error, component, method, action string) error {
	return WrapClass(ErrorNetwork, err, component, method, action)
}

// WrapTimeout wraps an error as a timeout with context
func WrapTimeout(err error, component, method, action string) error {
	return WrapClass(ErrorTimeout, err, component, method, action)
}

// WrapCorruption wraps an error as a data-corruption failure with context
func WrapCorruption(err error, component, method, action string) error {
	return WrapClass(ErrorDataCorruption, err, component, method, action)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	return WrapClass(ErrorTransient, err, component, method, action)
}

// RetryConfig defines configuration for retry operations
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the platform default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ToRetryConfig converts to the retry framework's Config type, wiring the
// taxonomy's retry eligibility in as the retry classifier. The conversion
// adds 1 to MaxRetries (converting "additional attempts" to "total attempts")
// and enables jitter by default.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
		Classifier:   IsRetryable,
	}
}
