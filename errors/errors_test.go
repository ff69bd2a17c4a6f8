package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Sentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"permission", ErrPermissionDenied, ErrorPermissionDenied},
		{"binding", ErrServiceBinding, ErrorServiceBinding},
		{"device", ErrDeviceUnavailable, ErrorDeviceUnavailable},
		{"rate", ErrRateLimited, ErrorRateLimited},
		{"corruption", ErrDataCorrupted, ErrorDataCorruption},
		{"checksum", ErrChecksumFailed, ErrorDataCorruption},
		{"timeout", ErrOperationTimeout, ErrorTimeout},
		{"ctx deadline", context.DeadlineExceeded, ErrorTimeout},
		{"connection lost", ErrConnectionLost, ErrorNetwork},
		{"wrapped sentinel", fmt.Errorf("read: %w", ErrPermissionDenied), ErrorPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassify_MessagePatterns(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorClass
	}{
		{"DeadObjectException: service has died", ErrorServiceBinding},
		{"remote service disconnected", ErrorServiceBinding},
		{"SecurityException: READ_HEART_RATE denied", ErrorPermissionDenied},
		{"Health Connect is not installed", ErrorDeviceUnavailable},
		{"429 too many requests", ErrorRateLimited},
		{"json unmarshal failed at offset 12", ErrorDataCorruption},
		{"context deadline exceeded while reading records", ErrorTimeout},
		{"dial tcp: connection refused", ErrorNetwork},
		{"something inexplicable happened", ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(errors.New(tt.msg)))
		})
	}
}

// Binding failures mention connection loss on some vendor builds; they must
// classify as binding, not network, so the orchestrator never retries them.
func TestClassify_BindingBeatsNetwork(t *testing.T) {
	err := errors.New("binder connection reset by remote service")
	assert.Equal(t, ErrorServiceBinding, Classify(err))
	assert.False(t, IsRetryable(err))
}

func TestRetryable(t *testing.T) {
	assert.True(t, ErrorNetwork.Retryable())
	assert.True(t, ErrorTimeout.Retryable())
	assert.True(t, ErrorRateLimited.Retryable())
	assert.False(t, ErrorServiceBinding.Retryable())
	assert.False(t, ErrorPermissionDenied.Retryable())
	assert.False(t, ErrorDeviceUnavailable.Retryable())
	assert.False(t, ErrorDataCorruption.Retryable())
	// Unknown errors default non-retryable at the orchestrator level
	assert.False(t, ErrorTransient.Retryable())
}

func TestWrapClass(t *testing.T) {
	base := errors.New("boom")
	err := WrapBinding(base, "HealthConnectProvider", "Initialize", "service bind")

	assert.Equal(t, ErrorServiceBinding, Classify(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "HealthConnectProvider.Initialize")

	var ce *ClassifiedError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, "HealthConnectProvider", ce.Component)
	assert.Equal(t, "Initialize", ce.Operation)
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapNetwork(nil, "c", "m", "a"))
	assert.NoError(t, WrapClass(ErrorTimeout, nil, "c", "m", "a"))
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "SERVICE_BINDING_FAILED", ErrorServiceBinding.String())
	assert.Equal(t, "PERMISSION_DENIED", ErrorPermissionDenied.String())
	assert.Equal(t, "TRANSIENT", ErrorTransient.String())
	assert.Equal(t, "UNKNOWN", ErrorClass(99).String())
}

func TestToRetryConfig(t *testing.T) {
	rc := DefaultRetryConfig().ToRetryConfig()
	assert.Equal(t, 4, rc.MaxAttempts) // 3 retries = 4 total attempts
	assert.True(t, rc.AddJitter)
	assert.NotNil(t, rc.Classifier)
	assert.True(t, rc.Classifier(ErrConnectionLost))
	assert.False(t, rc.Classifier(ErrServiceBinding))
}
