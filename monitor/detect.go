package monitor

import (
	"fmt"
	"math"

	"github.com/c360/healthbridge/types"
)

// Severity ranks an anomaly.
type Severity string

// Anomaly severities
const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Anomaly kinds
const (
	KindCriticalThreshold = "critical_threshold"
	KindThreshold         = "threshold"
	KindTrend             = "trend"
)

// trendMinPoints is the minimum same-type history needed before statistical
// trend detection applies.
const trendMinPoints = 5

// Anomaly is one detected deviation in a single reading.
type Anomaly struct {
	Metric   types.HealthMetric
	Severity Severity
	Kind     string
	Message  string
}

// Detect evaluates one reading against its threshold and same-type history,
// in priority order: critical threshold breach, then ordinary min/max breach
// (suppressed when the critical check already fired, so one reading never
// produces both), then statistical trend deviation.
func Detect(m types.HealthMetric, th types.Threshold, history []float64) []Anomaly {
	var out []Anomaly

	critical := false
	switch {
	case th.CriticalMin != nil && m.Value < *th.CriticalMin:
		critical = true
		out = append(out, Anomaly{
			Metric:   m,
			Severity: SeverityCritical,
			Kind:     KindCriticalThreshold,
			Message:  fmt.Sprintf("%s %.1f below critical minimum %.1f", m.Type, m.Value, *th.CriticalMin),
		})
	case th.CriticalMax != nil && m.Value > *th.CriticalMax:
		critical = true
		out = append(out, Anomaly{
			Metric:   m,
			Severity: SeverityCritical,
			Kind:     KindCriticalThreshold,
			Message:  fmt.Sprintf("%s %.1f above critical maximum %.1f", m.Type, m.Value, *th.CriticalMax),
		})
	}

	if !critical {
		switch {
		case th.Min != nil && m.Value < *th.Min:
			out = append(out, Anomaly{
				Metric:   m,
				Severity: SeverityMedium,
				Kind:     KindThreshold,
				Message:  fmt.Sprintf("%s %.1f below minimum %.1f", m.Type, m.Value, *th.Min),
			})
		case th.Max != nil && m.Value > *th.Max:
			out = append(out, Anomaly{
				Metric:   m,
				Severity: SeverityMedium,
				Kind:     KindThreshold,
				Message:  fmt.Sprintf("%s %.1f above maximum %.1f", m.Type, m.Value, *th.Max),
			})
		}
	}

	if a, ok := detectTrend(m, history); ok {
		out = append(out, a)
	}
	return out
}

// detectTrend flags a reading deviating more than 2 standard deviations from
// its recent same-type history (3 sigma escalates to high severity).
func detectTrend(m types.HealthMetric, history []float64) (Anomaly, bool) {
	if len(history) < trendMinPoints {
		return Anomaly{}, false
	}

	mean, stddev := meanStddev(history)
	if stddev == 0 {
		return Anomaly{}, false
	}

	sigmas := math.Abs(m.Value-mean) / stddev
	if sigmas <= 2 {
		return Anomaly{}, false
	}

	severity := SeverityMedium
	if sigmas > 3 {
		severity = SeverityHigh
	}
	return Anomaly{
		Metric:   m,
		Severity: severity,
		Kind:     KindTrend,
		Message: fmt.Sprintf("%s %.1f deviates %.1f sigma from recent mean %.1f",
			m.Type, m.Value, sigmas, mean),
	}, true
}

func meanStddev(values []float64) (mean, stddev float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

// DefaultThresholds returns the medical reference thresholds used when
// StartMonitoring is called without explicit thresholds.
func DefaultThresholds() []types.Threshold {
	return []types.Threshold{
		{Type: types.TypeHeartRate, Min: f(60), Max: f(100), CriticalMin: f(40), CriticalMax: f(180), Enabled: true},
		{Type: types.TypeOxygenSaturation, Min: f(92), CriticalMin: f(85), Enabled: true},
		{Type: types.TypeBloodPressureSys, Min: f(90), Max: f(140), CriticalMin: f(70), CriticalMax: f(180), Enabled: true},
		{Type: types.TypeBloodPressureDia, Min: f(60), Max: f(90), CriticalMax: f(120), Enabled: true},
		{Type: types.TypeRespiratoryRate, Min: f(12), Max: f(20), CriticalMin: f(8), CriticalMax: f(30), Enabled: true},
		{Type: types.TypeBodyTemperature, Min: f(36.0), Max: f(37.8), CriticalMax: f(39.5), Enabled: true},
	}
}

func f(v float64) *float64 { return &v }
