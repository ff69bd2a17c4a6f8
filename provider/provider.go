// Package provider defines the capability contract every health platform
// adapter implements, plus the shared adapter machinery: the connection state
// machine, per-operation rate limiting, device quirk profiles, and the
// graceful-degradation path for platform service-binding failures.
//
// Platform specifics live in the subpackages (healthkit, healthconnect);
// everything above this layer talks only to the Provider interface.
package provider

import (
	"context"

	"github.com/c360/healthbridge/types"
)

// ConnState is an adapter's connection state.
type ConnState string

// Connection states. Any initialization failure reverts to Disconnected.
const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// StateListener observes connection state transitions.
type StateListener func(old, new ConnState)

// Provider is the capability contract for one health platform.
// Implementations never let platform errors escape unclassified: every
// returned error carries an error class from the errors package.
type Provider interface {
	// Name returns the provider's registry name, e.g. "healthkit".
	Name() string

	// Platform returns the native platform this provider fronts.
	Platform() types.Platform

	// Priority is the provider's selection priority; higher is tried first.
	Priority() int

	// SupportedTypes lists the data types this provider can read.
	SupportedTypes() []types.DataType

	// Initialize connects to the platform service. Idempotent; a failed
	// attempt leaves the provider disconnected.
	Initialize(ctx context.Context) error

	// IsAvailable reports whether the provider is connected and usable.
	// Never blocks and never errors.
	IsAvailable() bool

	// ConnectionState returns the current connection state.
	ConnectionState() ConnState

	// Subscribe registers a state listener; the returned func unsubscribes.
	Subscribe(listener StateListener) (unsubscribe func())

	// CheckPermissions reports grant state for the given types. Served from
	// the adapter's permission snapshot when one exists.
	CheckPermissions(ctx context.Context, dataTypes []types.DataType) ([]types.Permission, error)

	// RequestPermissions raises the platform permission flow. Returns true
	// if at least one requested type was granted.
	RequestPermissions(ctx context.Context, dataTypes []types.DataType) (bool, error)

	// ReadHealthData reads and normalizes records for one type.
	ReadHealthData(ctx context.Context, dataType types.DataType, r types.Range) ([]types.HealthMetric, error)

	// WriteHealthData writes one metric to the platform.
	WriteHealthData(ctx context.Context, metric types.HealthMetric) error

	// DeviceInfo returns platform/device identity for quirk detection.
	DeviceInfo() types.DeviceInfo

	// Cleanup disconnects and releases resources. Safe to call more than once.
	Cleanup(ctx context.Context) error
}
