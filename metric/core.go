package metric

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the core platform metrics every HealthBridge deployment
// exposes regardless of which services are enabled.
type Metrics struct {
	// ReadsTotal counts unified read operations by data type and outcome
	ReadsTotal *prometheus.CounterVec
	// ReadErrorsTotal counts read failures by provider and error class
	ReadErrorsTotal *prometheus.CounterVec
	// ProviderFallbacksTotal counts cross-provider fallbacks during reads
	ProviderFallbacksTotal prometheus.Counter
	// ActiveProviders tracks the number of connected providers
	ActiveProviders prometheus.Gauge
	// AlertsTotal counts monitor alerts by severity
	AlertsTotal *prometheus.CounterVec
}

// NewMetrics creates the core metric set. Registration happens in
// NewMetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		ReadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthbridge",
			Name:      "reads_total",
			Help:      "Total unified health data read operations",
		}, []string{"data_type", "outcome"}),
		ReadErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthbridge",
			Name:      "read_errors_total",
			Help:      "Total provider read failures by error class",
		}, []string{"provider", "class"}),
		ProviderFallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "healthbridge",
			Name:      "provider_fallbacks_total",
			Help:      "Total cross-provider fallbacks during reads",
		}),
		ActiveProviders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "healthbridge",
			Name:      "active_providers",
			Help:      "Number of providers currently connected",
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthbridge",
			Name:      "alerts_total",
			Help:      "Total monitor alerts by severity",
		}, []string{"severity"}),
	}
}
