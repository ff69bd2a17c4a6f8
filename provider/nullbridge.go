package provider

import (
	"context"

	"github.com/c360/healthbridge/errors"
	"github.com/c360/healthbridge/types"
)

// NullBridge is the bridge used on targets without native health capability
// (web, sandbox, CI). Initialization reports the device unavailable so the
// adapter never activates; upper layers then return empty results rather
// than errors.
type NullBridge struct {
	Info types.DeviceInfo
}

// Initialize always fails with a device-unavailable classification.
func (b *NullBridge) Initialize(context.Context) error {
	return errors.ErrDeviceUnavailable
}

// RequestPermission grants nothing.
func (b *NullBridge) RequestPermission(context.Context, []types.DataType) ([]types.DataType, error) {
	return nil, nil
}

// GetGrantedPermissions reports nothing granted.
func (b *NullBridge) GetGrantedPermissions(context.Context) ([]types.DataType, error) {
	return nil, nil
}

// ReadRecords returns no records.
func (b *NullBridge) ReadRecords(context.Context, types.DataType, types.Range) ([]types.RawRecord, error) {
	return nil, nil
}

// WriteRecord silently drops the write.
func (b *NullBridge) WriteRecord(context.Context, types.HealthMetric) error {
	return nil
}

// DeviceInfo returns the configured identity.
func (b *NullBridge) DeviceInfo() types.DeviceInfo { return b.Info }
