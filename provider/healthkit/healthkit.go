// Package healthkit is the Apple-side provider adapter. It configures the
// shared adapter core for the HealthKit-equivalent bridge and owns the
// mapping from canonical data types to HealthKit sample identifiers.
package healthkit

import (
	"log/slog"

	"github.com/c360/healthbridge/provider"
	"github.com/c360/healthbridge/types"
)

// Name is the provider registry name.
const Name = "healthkit"

// DefaultPriority places HealthKit first on Apple devices.
const DefaultPriority = 90

// typeIdentifiers maps canonical types to HealthKit sample identifiers.
// Bridges use this to build native queries.
var typeIdentifiers = map[types.DataType]string{
	types.TypeHeartRate:        "HKQuantityTypeIdentifierHeartRate",
	types.TypeSteps:            "HKQuantityTypeIdentifierStepCount",
	types.TypeSleep:            "HKCategoryTypeIdentifierSleepAnalysis",
	types.TypeBloodPressureSys: "HKQuantityTypeIdentifierBloodPressureSystolic",
	types.TypeBloodPressureDia: "HKQuantityTypeIdentifierBloodPressureDiastolic",
	types.TypeOxygenSaturation: "HKQuantityTypeIdentifierOxygenSaturation",
	types.TypeBodyTemperature:  "HKQuantityTypeIdentifierBodyTemperature",
	types.TypeWeight:           "HKQuantityTypeIdentifierBodyMass",
	types.TypeDistance:         "HKQuantityTypeIdentifierDistanceWalkingRunning",
	types.TypeActiveCalories:   "HKQuantityTypeIdentifierActiveEnergyBurned",
	types.TypeRespiratoryRate:  "HKQuantityTypeIdentifierRespiratoryRate",
}

// TypeIdentifier returns the HealthKit identifier for a canonical type, or
// "" for unsupported types.
func TypeIdentifier(dt types.DataType) string { return typeIdentifiers[dt] }

// SupportedTypes lists the canonical types this adapter can read.
func SupportedTypes() []types.DataType {
	out := make([]types.DataType, 0, len(typeIdentifiers))
	for _, dt := range types.AllDataTypes() {
		if _, ok := typeIdentifiers[dt]; ok {
			out = append(out, dt)
		}
	}
	return out
}

// New builds the HealthKit provider around the given bridge.
func New(bridge provider.Bridge, logger *slog.Logger) (*provider.Adapter, error) {
	return provider.NewAdapter(provider.Config{
		Name:           Name,
		Platform:       types.PlatformApple,
		Priority:       DefaultPriority,
		SupportedTypes: SupportedTypes(),
		Bridge:         bridge,
		Logger:         logger,
		DefaultSource:  types.SourcePhone,
	})
}
