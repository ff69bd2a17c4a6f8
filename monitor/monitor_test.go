package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/healthbridge/lifecycle"
	"github.com/c360/healthbridge/manager"
	"github.com/c360/healthbridge/notify"
	"github.com/c360/healthbridge/storage"
	"github.com/c360/healthbridge/types"
)

// fakeSource serves canned readings per data type.
type fakeSource struct {
	mu   sync.Mutex
	data map[types.DataType][]types.HealthMetric
	fail bool
}

func (f *fakeSource) GetHealthData(_ context.Context, dt types.DataType, _ manager.ReadOptions) *types.UnifiedResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return &types.UnifiedResponse{Success: false, Data: []types.HealthMetric{}}
	}
	return &types.UnifiedResponse{Success: true, Data: f.data[dt]}
}

func (f *fakeSource) set(dt types.DataType, metrics ...types.HealthMetric) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		f.data = make(map[types.DataType][]types.HealthMetric)
	}
	f.data[dt] = metrics
}

func reading(id string, dt types.DataType, value float64, ts time.Time) types.HealthMetric {
	return types.HealthMetric{ID: id, Type: dt, Value: value, Timestamp: ts}
}

func hrThreshold() types.Threshold {
	return types.Threshold{
		Type: types.TypeHeartRate, Min: f(60), Max: f(100), CriticalMin: f(40), Enabled: true,
	}
}

func newTestMonitor(t *testing.T, src *fakeSource, opts ...func(*Config)) (*Service, *notify.Recorder, *notify.EventRecorder, *storage.MemoryStore) {
	t.Helper()
	recorder := &notify.Recorder{}
	events := &notify.EventRecorder{}
	store := storage.NewMemoryStore()
	cfg := Config{
		Source:       src,
		Notifier:     recorder,
		Events:       events,
		Store:        store,
		PollInterval: 20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, recorder, events, store
}

func TestDetectSeverityOrdering(t *testing.T) {
	th := hrThreshold()

	// 35 bpm breaches both critical_min (40) and min (60): exactly one
	// critical anomaly, the medium breach is suppressed.
	anomalies := Detect(reading("r1", types.TypeHeartRate, 35, time.Now()), th, nil)
	require.Len(t, anomalies, 1)
	assert.Equal(t, SeverityCritical, anomalies[0].Severity)
	assert.Equal(t, KindCriticalThreshold, anomalies[0].Kind)

	// 50 bpm breaches only the ordinary minimum.
	anomalies = Detect(reading("r2", types.TypeHeartRate, 50, time.Now()), th, nil)
	require.Len(t, anomalies, 1)
	assert.Equal(t, SeverityMedium, anomalies[0].Severity)
	assert.Equal(t, KindThreshold, anomalies[0].Kind)

	// 72 bpm is in range.
	assert.Empty(t, Detect(reading("r3", types.TypeHeartRate, 72, time.Now()), th, nil))
}

func TestDetectTrend(t *testing.T) {
	th := types.Threshold{Type: types.TypeHeartRate, Enabled: true}
	history := []float64{70, 72, 71, 69, 73} // mean ~71, stddev ~1.41

	// Within 2 sigma: no anomaly.
	assert.Empty(t, Detect(reading("r1", types.TypeHeartRate, 72, time.Now()), th, history))

	// Between 2 and 3 sigma: medium.
	anomalies := Detect(reading("r2", types.TypeHeartRate, 75, time.Now()), th, history)
	require.Len(t, anomalies, 1)
	assert.Equal(t, SeverityMedium, anomalies[0].Severity)
	assert.Equal(t, KindTrend, anomalies[0].Kind)

	// Beyond 3 sigma: high.
	anomalies = Detect(reading("r3", types.TypeHeartRate, 90, time.Now()), th, history)
	require.Len(t, anomalies, 1)
	assert.Equal(t, SeverityHigh, anomalies[0].Severity)

	// Fewer than 5 points: trend detection stays off.
	assert.Empty(t, Detect(reading("r4", types.TypeHeartRate, 90, time.Now()), th, history[:4]))

	// Flat history has zero stddev: no division, no anomaly.
	assert.Empty(t, Detect(reading("r5", types.TypeHeartRate, 90, time.Now()), th,
		[]float64{70, 70, 70, 70, 70}))
}

func TestStartStopLifecycle(t *testing.T) {
	src := &fakeSource{}
	s, _, _, _ := newTestMonitor(t, src)

	assert.Equal(t, StateIdle, s.State())
	assert.Nil(t, s.Session())

	id, err := s.StartMonitoring(context.Background(), "patient-1", []types.Threshold{hrThreshold()})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, StateMonitoring, s.State())

	summary := s.StopMonitoring()
	require.NotNil(t, summary)
	assert.Equal(t, id, summary.ID)
	assert.False(t, summary.Active)
	assert.False(t, summary.EndTime.IsZero())
	assert.Equal(t, StateIdle, s.State())

	// Stopping while idle is a no-op.
	assert.Nil(t, s.StopMonitoring())
}

func TestStartSupersedesPriorSession(t *testing.T) {
	src := &fakeSource{}
	s, _, _, _ := newTestMonitor(t, src)

	first, err := s.StartMonitoring(context.Background(), "patient-1", nil)
	require.NoError(t, err)
	second, err := s.StartMonitoring(context.Background(), "patient-1", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, StateMonitoring, s.State())
	assert.Equal(t, second, s.Session().ID)
}

func TestCriticalAlertDeliveryAndEscalation(t *testing.T) {
	src := &fakeSource{}
	src.set(types.TypeHeartRate, reading("r1", types.TypeHeartRate, 35, time.Now()))

	s, recorder, events, store := newTestMonitor(t, src)
	_, err := s.StartMonitoring(context.Background(), "patient-1", []types.Threshold{hrThreshold()})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(recorder.Sent()) == 1
	}, time.Second, 10*time.Millisecond)

	sent := recorder.Sent()[0]
	assert.Equal(t, notify.PriorityUrgent, sent.Priority)
	assert.Contains(t, sent.Body, "below critical minimum")

	require.Eventually(t, func() bool {
		return len(events.Events()) == 1
	}, time.Second, 10*time.Millisecond)
	event := events.Events()[0]
	assert.Equal(t, "patient-1", event.PatientID)
	assert.Equal(t, types.TypeHeartRate, event.DataType)
	assert.Equal(t, 35.0, event.Value)

	require.Eventually(t, func() bool {
		history, err := s.AlertHistory(context.Background(), "patient-1")
		return err == nil && len(history) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, s.Session().AlertCount)
	_ = store
}

func TestStaleReadingDoesNotAlert(t *testing.T) {
	src := &fakeSource{}
	src.set(types.TypeHeartRate, reading("r1", types.TypeHeartRate, 35, time.Now().Add(-3*time.Minute)))

	s, recorder, _, _ := newTestMonitor(t, src)
	_, err := s.StartMonitoring(context.Background(), "patient-1", []types.Threshold{hrThreshold()})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, recorder.Sent())
	assert.Equal(t, 0, s.Session().AlertCount)
}

func TestRepeatedReadingAlertsOnce(t *testing.T) {
	src := &fakeSource{}
	src.set(types.TypeHeartRate, reading("r1", types.TypeHeartRate, 35, time.Now()))

	s, recorder, _, _ := newTestMonitor(t, src)
	_, err := s.StartMonitoring(context.Background(), "patient-1", []types.Threshold{hrThreshold()})
	require.NoError(t, err)

	// The fetch window overlaps several polls; the same reading must not
	// re-alert on each one.
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, recorder.Sent(), 1)
	assert.Equal(t, 1, s.Session().AlertCount)
}

func TestDisabledThresholdNotPolled(t *testing.T) {
	src := &fakeSource{}
	src.set(types.TypeHeartRate, reading("r1", types.TypeHeartRate, 35, time.Now()))

	th := hrThreshold()
	th.Enabled = false
	s, recorder, _, _ := newTestMonitor(t, src)
	_, err := s.StartMonitoring(context.Background(), "patient-1", []types.Threshold{th})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, recorder.Sent())
}

func TestUpdateThresholds(t *testing.T) {
	src := &fakeSource{}
	s, _, _, _ := newTestMonitor(t, src)

	err := s.UpdateThresholds([]types.Threshold{hrThreshold()})
	assert.Error(t, err, "no active session")

	id, err := s.StartMonitoring(context.Background(), "patient-1", []types.Threshold{hrThreshold()})
	require.NoError(t, err)

	wide := types.Threshold{Type: types.TypeHeartRate, Min: f(30), Max: f(200), Enabled: true}
	require.NoError(t, s.UpdateThresholds([]types.Threshold{wide}))

	sess := s.Session()
	assert.Equal(t, id, sess.ID, "thresholds updated without restarting the session")
	require.Len(t, sess.Thresholds, 1)
	assert.Equal(t, 30.0, *sess.Thresholds[0].Min)
}

func TestDefaultThresholdsApplied(t *testing.T) {
	src := &fakeSource{}
	s, _, _, _ := newTestMonitor(t, src)

	_, err := s.StartMonitoring(context.Background(), "patient-1", nil)
	require.NoError(t, err)
	assert.Len(t, s.Session().Thresholds, len(DefaultThresholds()))
}

func TestAlertHistoryCapped(t *testing.T) {
	src := &fakeSource{}
	s, _, _, _ := newTestMonitor(t, src, func(cfg *Config) { cfg.HistoryCap = 3 })

	for i := 0; i < 5; i++ {
		alert := Alert{
			ID:        string(rune('a' + i)),
			PatientID: "patient-1",
			DataType:  types.TypeHeartRate,
			Severity:  SeverityMedium,
		}
		require.NoError(t, s.persistAlert(context.Background(), alert))
	}

	history, err := s.AlertHistory(context.Background(), "patient-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "c", history[0].ID, "oldest entries dropped first")
	assert.Equal(t, "e", history[2].ID)
}

func TestPollFailureReportsAndContinues(t *testing.T) {
	src := &fakeSource{fail: true}
	s, recorder, _, _ := newTestMonitor(t, src)

	_, err := s.StartMonitoring(context.Background(), "patient-1", []types.Threshold{hrThreshold()})
	require.NoError(t, err)

	// Recover the source mid-session; the loop keeps polling.
	time.Sleep(50 * time.Millisecond)
	src.mu.Lock()
	src.fail = false
	src.mu.Unlock()
	src.set(types.TypeHeartRate, reading("r1", types.TypeHeartRate, 35, time.Now()))

	require.Eventually(t, func() bool {
		return len(recorder.Sent()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestLifecycleSubscription(t *testing.T) {
	src := &fakeSource{}
	signal := lifecycle.NewBroadcaster()
	s, _, _, _ := newTestMonitor(t, src, func(cfg *Config) { cfg.Lifecycle = signal })

	_, err := s.StartMonitoring(context.Background(), "patient-1", nil)
	require.NoError(t, err)

	// Backgrounding must not stop the session.
	signal.Transition(lifecycle.StateBackground)
	assert.Equal(t, StateMonitoring, s.State())
}
