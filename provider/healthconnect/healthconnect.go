// Package healthconnect is the Google-side provider adapter. It configures
// the shared adapter core for the Health-Connect-equivalent bridge, owns the
// mapping from canonical types to Health Connect record classes, and knows
// the service-binding failure signatures seen on vendor-customized builds.
//
// Binding failures are the defining hazard of this platform: on some builds
// the provider process is killed or never binds, and retrying inline only
// makes the app jank. The adapter core classifies those failures as
// non-retryable and degrades gracefully, re-initializing in the background.
package healthconnect

import (
	"log/slog"
	"strings"

	"github.com/c360/healthbridge/provider"
	"github.com/c360/healthbridge/types"
)

// Name is the provider registry name.
const Name = "healthconnect"

// DefaultPriority places Health Connect first on Google devices.
const DefaultPriority = 90

// ProviderPackage is the Health Connect provider APK package name. Bridges
// use it to detect whether the platform service is installed at all.
const ProviderPackage = "com.google.android.apps.healthdata"

// recordClasses maps canonical types to Health Connect record class names.
var recordClasses = map[types.DataType]string{
	types.TypeHeartRate:        "HeartRateRecord",
	types.TypeSteps:            "StepsRecord",
	types.TypeSleep:            "SleepSessionRecord",
	types.TypeBloodPressureSys: "BloodPressureRecord",
	types.TypeBloodPressureDia: "BloodPressureRecord",
	types.TypeOxygenSaturation: "OxygenSaturationRecord",
	types.TypeBodyTemperature:  "BodyTemperatureRecord",
	types.TypeWeight:           "WeightRecord",
	types.TypeDistance:         "DistanceRecord",
	types.TypeActiveCalories:   "ActiveCaloriesBurnedRecord",
	types.TypeRespiratoryRate:  "RespiratoryRateRecord",
}

// RecordClass returns the Health Connect record class for a canonical type,
// or "" for unsupported types.
func RecordClass(dt types.DataType) string { return recordClasses[dt] }

// SupportedTypes lists the canonical types this adapter can read.
func SupportedTypes() []types.DataType {
	out := make([]types.DataType, 0, len(recordClasses))
	for _, dt := range types.AllDataTypes() {
		if _, ok := recordClasses[dt]; ok {
			out = append(out, dt)
		}
	}
	return out
}

// bindingSignatures are message fragments that identify a platform
// service-binding loss, beyond what generic classification catches.
var bindingSignatures = []string{
	"deadobjectexception",
	"remoteexception",
	"binder transaction",
	"service not bound",
	"provider not available",
}

// IsBindingFailure reports whether an error message carries a known
// service-binding failure signature.
func IsBindingFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range bindingSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// New builds the Health Connect provider around the given bridge.
func New(bridge provider.Bridge, logger *slog.Logger) (*provider.Adapter, error) {
	return provider.NewAdapter(provider.Config{
		Name:           Name,
		Platform:       types.PlatformGoogle,
		Priority:       DefaultPriority,
		SupportedTypes: SupportedTypes(),
		Bridge:         bridge,
		Logger:         logger,
		DefaultSource:  types.SourcePhone,
	})
}
