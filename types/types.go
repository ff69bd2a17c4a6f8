// Package types defines the canonical data model shared across the
// HealthBridge subsystem: health data types, normalized metrics, read-range
// descriptors, permissions, and the unified response envelope returned by the
// provider manager.
package types

import (
	"time"
)

// DataType identifies a category of biometric data.
type DataType string

// Supported biometric data types
const (
	TypeHeartRate         DataType = "heart_rate"
	TypeSteps             DataType = "steps"
	TypeSleep             DataType = "sleep"
	TypeBloodPressureSys  DataType = "blood_pressure_systolic"
	TypeBloodPressureDia  DataType = "blood_pressure_diastolic"
	TypeOxygenSaturation  DataType = "oxygen_saturation"
	TypeBodyTemperature   DataType = "body_temperature"
	TypeWeight            DataType = "weight"
	TypeDistance          DataType = "distance"
	TypeActiveCalories    DataType = "active_calories"
	TypeRespiratoryRate   DataType = "respiratory_rate"
)

// AllDataTypes returns every supported data type, in a stable order.
func AllDataTypes() []DataType {
	return []DataType{
		TypeHeartRate, TypeSteps, TypeSleep,
		TypeBloodPressureSys, TypeBloodPressureDia,
		TypeOxygenSaturation, TypeBodyTemperature,
		TypeWeight, TypeDistance, TypeActiveCalories,
		TypeRespiratoryRate,
	}
}

// Valid reports whether dt is a known data type.
func (dt DataType) Valid() bool {
	for _, t := range AllDataTypes() {
		if t == dt {
			return true
		}
	}
	return false
}

// Volatile reports whether readings of this type change on short timescales.
// Volatile types get short cache TTLs; stable types (weight, sleep) can be
// cached for much longer.
func (dt DataType) Volatile() bool {
	switch dt {
	case TypeHeartRate, TypeSteps, TypeOxygenSaturation, TypeRespiratoryRate:
		return true
	default:
		return false
	}
}

// Platform identifies the native health platform a record came from.
type Platform string

// Supported native platforms
const (
	PlatformApple  Platform = "apple"
	PlatformGoogle Platform = "google"
)

// Source identifies the physical origin of a reading.
type Source string

// Reading sources, ordered by typical signal quality
const (
	SourceWatch  Source = "watch"
	SourcePhone  Source = "phone"
	SourceManual Source = "manual"
)

// Quality buckets a reading's metadata completeness.
type Quality string

// Quality buckets
const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// MetricMetadata carries scoring metadata attached by the normalizer.
type MetricMetadata struct {
	Quality    Quality `json:"quality"`
	Confidence float64 `json:"confidence"` // [0,1]
	Context    string  `json:"context,omitempty"`
}

// HealthMetric is a single normalized biometric reading. Immutable once
// produced by the normalizer.
type HealthMetric struct {
	ID        string         `json:"id"`
	Type      DataType       `json:"type"`
	Value     float64        `json:"value"`
	Unit      string         `json:"unit"`
	Timestamp time.Time      `json:"timestamp"`
	Source    Source         `json:"source"`
	DeviceID  string         `json:"device_id,omitempty"`
	Metadata  MetricMetadata `json:"metadata"`
}

// Range describes a read request window. Created per call, never persisted.
type Range struct {
	Start time.Time
	End   time.Time
	Limit int // 0 = no limit
}

// Permission is the grant state for one (provider, data type) pair.
type Permission struct {
	Type    DataType `json:"type"`
	Read    bool     `json:"read"`
	Write   bool     `json:"write"`
	Granted bool     `json:"granted"`
	Error   string   `json:"error,omitempty"`
}

// Pagination describes a paged read result.
type Pagination struct {
	Offset  int  `json:"offset"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"has_more"`
}

// ResponseMeta carries fetch diagnostics on a unified response.
type ResponseMeta struct {
	FetchTime   time.Duration `json:"fetch_time"`
	Source      string        `json:"source"` // provider name, "cache", or "none"
	DataQuality Quality       `json:"data_quality"`
	Pagination  *Pagination   `json:"pagination,omitempty"`
}

// UnifiedResponse is the provider manager's envelope for read operations.
// Success=false with empty Data means all providers failed and no cache was
// usable; the manager never fabricates readings.
type UnifiedResponse struct {
	Success  bool           `json:"success"`
	Data     []HealthMetric `json:"data"`
	Provider string         `json:"provider"`
	Cached   bool           `json:"cached"`
	Errors   []string       `json:"errors,omitempty"`
	Metadata ResponseMeta   `json:"metadata"`
}

// Threshold holds the static/medical reference range for one data type.
// Min/Max bound the ordinary range; CriticalMin/CriticalMax bound the range
// beyond which a reading is a critical anomaly. Nil means unbounded.
type Threshold struct {
	Type        DataType `json:"type" yaml:"type"`
	Min         *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	CriticalMin *float64 `json:"critical_min,omitempty" yaml:"critical_min,omitempty"`
	CriticalMax *float64 `json:"critical_max,omitempty" yaml:"critical_max,omitempty"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
}

// DeviceInfo reports provider/device identity used for quirk detection.
type DeviceInfo struct {
	Platform     Platform `json:"platform"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	OSVersion    string   `json:"os_version"`
	SDKVersion   string   `json:"sdk_version,omitempty"`
}

// RawRecord is one platform-specific record prior to normalization. Field
// names differ per platform; the normalizer owns the mapping tables.
type RawRecord map[string]any

// Float64Ptr returns a pointer to v. Convenience for building thresholds.
func Float64Ptr(v float64) *float64 { return &v }
