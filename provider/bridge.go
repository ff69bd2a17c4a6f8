package provider

import (
	"context"

	"github.com/c360/healthbridge/types"
)

// Bridge is the raw native-platform surface an adapter drives. Bridges are
// treated as unreliable, slow, and platform-build-dependent: every call may
// fail or hang, and returned records are raw platform shapes the normalizer
// must interpret.
//
// Real deployments wire a platform binding here; tests and capability-less
// environments (web, sandbox) use fakes or a nil-object bridge.
type Bridge interface {
	// Initialize binds to the platform health service.
	Initialize(ctx context.Context) error

	// RequestPermission raises the platform permission dialog for the given
	// types and returns the granted subset.
	RequestPermission(ctx context.Context, dataTypes []types.DataType) ([]types.DataType, error)

	// GetGrantedPermissions returns the currently granted readable types.
	GetGrantedPermissions(ctx context.Context) ([]types.DataType, error)

	// ReadRecords returns raw records for one type within the time window.
	ReadRecords(ctx context.Context, dataType types.DataType, r types.Range) ([]types.RawRecord, error)

	// WriteRecord writes one record to the platform store.
	WriteRecord(ctx context.Context, metric types.HealthMetric) error

	// DeviceInfo reports the device identity the bridge runs on.
	DeviceInfo() types.DeviceInfo
}
