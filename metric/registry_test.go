package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterHistogramVec(t *testing.T) {
	r := NewMetricsRegistry()

	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "op_duration_seconds",
		Help: "Operation duration",
	}, []string{"status"})

	require.NoError(t, r.RegisterHistogramVec("svc", "op_duration_seconds", hv))
	assert.Error(t, r.RegisterHistogramVec("svc", "op_duration_seconds", hv),
		"duplicate registration rejected")
	assert.True(t, r.Unregister("svc", "op_duration_seconds"))
}
