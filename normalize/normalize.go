// Package normalize converts raw, platform-specific health records into
// canonical HealthMetric values. Each platform reports timestamps and values
// under different field names; the mapping tables here own that knowledge so
// nothing above this layer ever sees a raw record.
package normalize

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/c360/healthbridge/pkg/timestamp"
	"github.com/c360/healthbridge/types"
)

// Result is the outcome of normalizing one batch of raw records.
// IsValid is true iff no errors occurred AND at least one metric was produced.
type Result struct {
	IsValid  bool
	Errors   []string
	Warnings []string
	Metrics  []types.HealthMetric
}

// ScoringWeights holds the additive confidence heuristics. The exact values
// are tunable operating parameters, not a contract; tests assert bounds and
// ordering rather than exact scores.
type ScoringWeights struct {
	Base        float64
	WatchBonus  float64
	TypeBonus   float64 // steps, heart rate
	WeightBonus float64 // weight readings
}

// DefaultScoringWeights returns the production scoring weights.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		Base:        0.5,
		WatchBonus:  0.3,
		TypeBonus:   0.2,
		WeightBonus: 0.3,
	}
}

// Normalizer converts raw provider records to canonical metrics.
type Normalizer struct {
	logger  *slog.Logger
	weights ScoringWeights
	now     func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithScoringWeights overrides the confidence scoring weights.
func WithScoringWeights(w ScoringWeights) Option {
	return func(n *Normalizer) { n.weights = w }
}

// WithClock overrides the time source. Tests use this to pin the timestamp
// validation window.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// New creates a Normalizer.
func New(logger *slog.Logger, opts ...Option) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Normalizer{
		logger:  logger.With("component", "normalizer"),
		weights: DefaultScoringWeights(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// earliestValidTimestamp bounds how old a reading may be. Records before
// this are platform clock glitches, not history.
var earliestValidTimestamp = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// canonicalUnits is the fixed unit lookup per data type.
var canonicalUnits = map[types.DataType]string{
	types.TypeHeartRate:        "bpm",
	types.TypeSteps:            "count",
	types.TypeSleep:            "minutes",
	types.TypeBloodPressureSys: "mmHg",
	types.TypeBloodPressureDia: "mmHg",
	types.TypeOxygenSaturation: "%",
	types.TypeBodyTemperature:  "celsius",
	types.TypeWeight:           "kg",
	types.TypeDistance:         "m",
	types.TypeActiveCalories:   "kcal",
	types.TypeRespiratoryRate:  "breaths/min",
}

// CanonicalUnit returns the canonical unit for a data type.
func CanonicalUnit(dt types.DataType) string {
	return canonicalUnits[dt]
}

// bounds defines the physiological validation window per type. Values outside
// [ErrMin, ErrMax] are impossible and rejected; values outside
// [WarnMin, WarnMax] are merely unusual and produce a warning. The asymmetry
// is intentional.
type bounds struct {
	ErrMin, ErrMax   float64
	WarnMin, WarnMax float64
}

var typeBounds = map[types.DataType]bounds{
	types.TypeHeartRate:        {ErrMin: 30, ErrMax: 250, WarnMin: 40, WarnMax: 200},
	types.TypeSteps:            {ErrMin: 0, ErrMax: 500_000, WarnMin: 0, WarnMax: 100_000},
	types.TypeSleep:            {ErrMin: 0, ErrMax: 24 * 60, WarnMin: 60, WarnMax: 16 * 60},
	types.TypeBloodPressureSys: {ErrMin: 50, ErrMax: 300, WarnMin: 80, WarnMax: 200},
	types.TypeBloodPressureDia: {ErrMin: 30, ErrMax: 200, WarnMin: 50, WarnMax: 130},
	types.TypeOxygenSaturation: {ErrMin: 50, ErrMax: 100, WarnMin: 85, WarnMax: 100},
	types.TypeBodyTemperature:  {ErrMin: 30, ErrMax: 45, WarnMin: 35, WarnMax: 40},
	types.TypeWeight:           {ErrMin: 1, ErrMax: 650, WarnMin: 20, WarnMax: 300},
	types.TypeDistance:         {ErrMin: 0, ErrMax: 1_000_000, WarnMin: 0, WarnMax: 200_000},
	types.TypeActiveCalories:   {ErrMin: 0, ErrMax: 50_000, WarnMin: 0, WarnMax: 10_000},
	types.TypeRespiratoryRate:  {ErrMin: 4, ErrMax: 60, WarnMin: 8, WarnMax: 30},
}

// timestampFields lists the field names carrying a record's timestamp,
// checked in order, per platform. The generic names come last so
// re-normalizing our own output resolves cleanly.
var timestampFields = map[types.Platform][]string{
	types.PlatformApple:  {"startDate", "endDate", "creationDate", "timestamp"},
	types.PlatformGoogle: {"startTime", "endTime", "time", "timestamp"},
}

// valueFields lists the field names carrying a record's value per
// (platform, type), checked in order, with the canonical "value" fallback.
var valueFields = map[types.Platform]map[types.DataType][]string{
	types.PlatformApple: {
		types.TypeHeartRate:        {"value", "quantity"},
		types.TypeSteps:            {"value", "quantity"},
		types.TypeSleep:            {"value", "duration"},
		types.TypeBloodPressureSys: {"systolic", "value"},
		types.TypeBloodPressureDia: {"diastolic", "value"},
		types.TypeOxygenSaturation: {"value", "quantity"},
		types.TypeBodyTemperature:  {"value", "quantity"},
		types.TypeWeight:           {"value", "quantity"},
		types.TypeDistance:         {"value", "quantity"},
		types.TypeActiveCalories:   {"value", "quantity"},
		types.TypeRespiratoryRate:  {"value", "quantity"},
	},
	types.PlatformGoogle: {
		types.TypeHeartRate:        {"beatsPerMinute", "bpm", "value"},
		types.TypeSteps:            {"count", "steps", "value"},
		types.TypeSleep:            {"durationMinutes", "duration", "value"},
		types.TypeBloodPressureSys: {"systolicMmhg", "systolic", "value"},
		types.TypeBloodPressureDia: {"diastolicMmhg", "diastolic", "value"},
		types.TypeOxygenSaturation: {"percentage", "spo2", "value"},
		types.TypeBodyTemperature:  {"temperatureCelsius", "temperature", "value"},
		types.TypeWeight:           {"weightKg", "weight", "value"},
		types.TypeDistance:         {"distanceMeters", "distance", "value"},
		types.TypeActiveCalories:   {"energyKcal", "calories", "value"},
		types.TypeRespiratoryRate:  {"rate", "value"},
	},
}

// watchSubstrings identify watch-sourced records from device IDs or package names.
var watchSubstrings = []string{"watch", "wear", "band", "gear"}

// manualSubstrings identify manually entered records.
var manualSubstrings = []string{"manual", "user_input", "user-entered", "userentered"}

// Normalize converts a batch of raw records of a single type into canonical
// metrics. Per-item failures become errors/warnings; the batch is valid iff
// no errors occurred and at least one metric was produced.
func (n *Normalizer) Normalize(
	raw []types.RawRecord, dt types.DataType, platform types.Platform, defaultSource types.Source,
) Result {
	result := Result{}

	if !dt.Valid() {
		result.Errors = append(result.Errors, fmt.Sprintf("unknown data type %q", dt))
		return result
	}
	if len(raw) == 0 {
		result.Warnings = append(result.Warnings, "no records to normalize")
		return result
	}

	for i, record := range raw {
		metric, errs, warns := n.normalizeOne(record, i, dt, platform, defaultSource)
		result.Errors = append(result.Errors, errs...)
		result.Warnings = append(result.Warnings, warns...)
		if metric != nil {
			result.Metrics = append(result.Metrics, *metric)
		}
	}

	result.Warnings = append(result.Warnings, n.validateDataset(result.Metrics)...)

	result.IsValid = len(result.Errors) == 0 && len(result.Metrics) > 0

	if !result.IsValid {
		n.logger.Warn("normalization produced no valid batch",
			"data_type", dt, "platform", platform,
			"records", len(raw), "errors", len(result.Errors))
	}

	return result
}

// normalizeOne converts a single raw record. A nil metric with errors means
// the record was rejected; warnings alone keep the record.
func (n *Normalizer) normalizeOne(
	record types.RawRecord, index int, dt types.DataType, platform types.Platform, defaultSource types.Source,
) (*types.HealthMetric, []string, []string) {
	var errs, warns []string

	ts, tsPresent := n.extractTimestamp(record, platform)
	if !tsPresent {
		errs = append(errs, fmt.Sprintf("record %d: no parseable timestamp", index))
		return nil, errs, warns
	}
	now := n.now()
	if ts.Before(earliestValidTimestamp) || ts.After(now.Add(24*time.Hour)) {
		errs = append(errs, fmt.Sprintf("record %d: timestamp %s outside valid window", index, ts.Format(time.RFC3339)))
		return nil, errs, warns
	}

	value, valuePresent := extractValue(record, dt, platform)
	if !valuePresent {
		errs = append(errs, fmt.Sprintf("record %d: no value field for type %s", index, dt))
		return nil, errs, warns
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		errs = append(errs, fmt.Sprintf("record %d: value is not finite", index))
		return nil, errs, warns
	}

	b, haveBounds := typeBounds[dt]
	if haveBounds {
		if value < b.ErrMin || value > b.ErrMax {
			errs = append(errs, fmt.Sprintf("record %d: value %.2f outside physiological bounds [%.0f, %.0f]",
				index, value, b.ErrMin, b.ErrMax))
			return nil, errs, warns
		}
		if value < b.WarnMin || value > b.WarnMax {
			warns = append(warns, fmt.Sprintf("record %d: value %.2f unusual for %s", index, value, dt))
		}
	}

	deviceID, _ := record["deviceId"].(string)
	if deviceID == "" {
		deviceID, _ = record["device"].(string)
	}
	source, sourcePresent := inferSource(record, deviceID, defaultSource)

	quality := scoreQuality(tsPresent, valuePresent, sourcePresent || deviceID != "")

	metric := &types.HealthMetric{
		ID:        recordID(record, platform, dt, ts, index),
		Type:      dt,
		Value:     value,
		Unit:      canonicalUnits[dt],
		Timestamp: ts,
		Source:    source,
		DeviceID:  deviceID,
		Metadata: types.MetricMetadata{
			Quality:    quality,
			Confidence: n.confidence(dt, source),
		},
	}
	if ctx, ok := record["context"].(string); ok {
		metric.Metadata.Context = ctx
	}

	return metric, errs, warns
}

// extractTimestamp tries the platform's timestamp field names in order.
func (n *Normalizer) extractTimestamp(record types.RawRecord, platform types.Platform) (time.Time, bool) {
	fields := timestampFields[platform]
	if fields == nil {
		fields = []string{"timestamp"}
	}
	for _, f := range fields {
		if v, ok := record[f]; ok {
			if ms := timestamp.Parse(v); ms != 0 {
				return timestamp.FromUnixMs(ms), true
			}
		}
	}
	return time.Time{}, false
}

// extractValue tries the (platform, type) value field names in order.
func extractValue(record types.RawRecord, dt types.DataType, platform types.Platform) (float64, bool) {
	fields := []string{"value"}
	if m, ok := valueFields[platform]; ok {
		if fs, ok := m[dt]; ok {
			fields = fs
		}
	}
	for _, f := range fields {
		v, ok := record[f]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case float32:
			return float64(n), true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case int32:
			return float64(n), true
		}
	}
	return 0, false
}

// inferSource derives the reading source from explicit fields or device/package
// name substrings, falling back to the caller's default.
func inferSource(record types.RawRecord, deviceID string, defaultSource types.Source) (types.Source, bool) {
	if s, ok := record["source"].(string); ok {
		switch types.Source(s) {
		case types.SourceWatch, types.SourcePhone, types.SourceManual:
			return types.Source(s), true
		}
	}

	haystack := strings.ToLower(deviceID)
	if pkg, ok := record["packageName"].(string); ok {
		haystack += " " + strings.ToLower(pkg)
	}
	if origin, ok := record["sourceName"].(string); ok {
		haystack += " " + strings.ToLower(origin)
	}

	for _, sub := range manualSubstrings {
		if strings.Contains(haystack, sub) {
			return types.SourceManual, true
		}
	}
	for _, sub := range watchSubstrings {
		if strings.Contains(haystack, sub) {
			return types.SourceWatch, true
		}
	}

	if defaultSource != "" {
		return defaultSource, false
	}
	return types.SourcePhone, false
}

// scoreQuality computes the 0-100 completeness score and bins it.
func scoreQuality(hasTimestamp, hasValue, hasSourceMeta bool) types.Quality {
	score := 0
	if hasTimestamp {
		score += 40
	}
	if hasValue {
		score += 40
	}
	if hasSourceMeta {
		score += 20
	}

	switch {
	case score >= 80:
		return types.QualityHigh
	case score >= 50:
		return types.QualityMedium
	default:
		return types.QualityLow
	}
}

// confidence applies the additive scoring weights, capped at 1.0.
func (n *Normalizer) confidence(dt types.DataType, source types.Source) float64 {
	c := n.weights.Base
	if source == types.SourceWatch {
		c += n.weights.WatchBonus
	}
	switch dt {
	case types.TypeSteps, types.TypeHeartRate:
		c += n.weights.TypeBonus
	case types.TypeWeight:
		c += n.weights.WeightBonus
	}
	return math.Min(c, 1.0)
}

// recordID derives a stable reading ID. Records carrying their own ID keep
// it; everything else gets platform+type+timestamp+index, which is unique
// within a dataset.
func recordID(record types.RawRecord, platform types.Platform, dt types.DataType, ts time.Time, index int) string {
	if id, ok := record["id"].(string); ok && id != "" {
		return id
	}
	if id, ok := record["uuid"].(string); ok && id != "" {
		return id
	}
	return fmt.Sprintf("%s:%s:%d:%d", platform, dt, ts.UnixMilli(), index)
}

// validateDataset performs non-fatal whole-batch checks: duplicate
// timestamps, non-chronological ordering, and IQR statistical outliers.
func (n *Normalizer) validateDataset(metrics []types.HealthMetric) []string {
	var warns []string
	if len(metrics) < 2 {
		return warns
	}

	seen := make(map[int64]bool, len(metrics))
	duplicates := 0
	outOfOrder := false
	for i, m := range metrics {
		ms := m.Timestamp.UnixMilli()
		if seen[ms] {
			duplicates++
		}
		seen[ms] = true
		if i > 0 && m.Timestamp.Before(metrics[i-1].Timestamp) {
			outOfOrder = true
		}
	}
	if duplicates > 0 {
		warns = append(warns, fmt.Sprintf("%d duplicate timestamps in dataset", duplicates))
	}
	if outOfOrder {
		warns = append(warns, "dataset is not in chronological order")
	}

	if outliers := iqrOutliers(metrics); len(outliers) > 0 {
		warns = append(warns, fmt.Sprintf("%d statistical outliers detected (IQR method)", len(outliers)))
	}

	return warns
}

// iqrOutliers returns indices of values outside [Q1-1.5*IQR, Q3+1.5*IQR].
func iqrOutliers(metrics []types.HealthMetric) []int {
	if len(metrics) < 4 {
		return nil
	}

	values := make([]float64, len(metrics))
	for i, m := range metrics {
		values[i] = m.Value
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	lo := q1 - 1.5*iqr
	hi := q3 + 1.5*iqr

	var outliers []int
	for i, v := range values {
		if v < lo || v > hi {
			outliers = append(outliers, i)
		}
	}
	return outliers
}

// quantile computes the q-th quantile of sorted values by linear interpolation.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
