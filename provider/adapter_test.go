package provider

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/healthbridge/errors"
	"github.com/c360/healthbridge/types"
)

// fakeBridge scripts bridge behavior per test.
type fakeBridge struct {
	mu sync.Mutex

	info types.DeviceInfo

	initErr    error
	initCalls  int
	failsUntil int // initErr returned until this many init calls

	granted       []types.DataType
	grantedCalls  int32
	requestResult []types.DataType

	records []types.RawRecord
	readErr error
}

func (b *fakeBridge) Initialize(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initCalls++
	if b.initErr != nil && (b.failsUntil == 0 || b.initCalls <= b.failsUntil) {
		return b.initErr
	}
	return nil
}

func (b *fakeBridge) RequestPermission(_ context.Context, _ []types.DataType) ([]types.DataType, error) {
	return b.requestResult, nil
}

func (b *fakeBridge) GetGrantedPermissions(context.Context) ([]types.DataType, error) {
	atomic.AddInt32(&b.grantedCalls, 1)
	return b.granted, nil
}

func (b *fakeBridge) ReadRecords(context.Context, types.DataType, types.Range) ([]types.RawRecord, error) {
	return b.records, b.readErr
}

func (b *fakeBridge) WriteRecord(context.Context, types.HealthMetric) error { return nil }

func (b *fakeBridge) DeviceInfo() types.DeviceInfo { return b.info }

func newTestAdapter(t *testing.T, bridge *fakeBridge) *Adapter {
	t.Helper()
	a, err := NewAdapter(Config{
		Name:           "testprov",
		Platform:       types.PlatformGoogle,
		Priority:       50,
		SupportedTypes: []types.DataType{types.TypeHeartRate, types.TypeSteps},
		Bridge:         bridge,
		DefaultSource:  types.SourcePhone,
	})
	require.NoError(t, err)
	return a
}

func TestAdapterInitializeSuccess(t *testing.T) {
	a := newTestAdapter(t, &fakeBridge{})

	assert.Equal(t, StateDisconnected, a.ConnectionState())
	require.NoError(t, a.Initialize(context.Background()))
	assert.Equal(t, StateConnected, a.ConnectionState())
	assert.True(t, a.IsAvailable())

	// Idempotent.
	require.NoError(t, a.Initialize(context.Background()))
}

func TestAdapterInitializeFailureRevertsState(t *testing.T) {
	a := newTestAdapter(t, &fakeBridge{initErr: stderrors.New("network unreachable")})

	err := a.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, a.ConnectionState())
	assert.False(t, a.IsAvailable())
	assert.Equal(t, errors.ErrorNetwork, errors.Classify(err))
}

func TestAdapterStateListeners(t *testing.T) {
	a := newTestAdapter(t, &fakeBridge{})

	var mu sync.Mutex
	var transitions []ConnState
	unsubscribe := a.Subscribe(func(_, newState ConnState) {
		mu.Lock()
		transitions = append(transitions, newState)
		mu.Unlock()
	})

	require.NoError(t, a.Initialize(context.Background()))

	mu.Lock()
	assert.Equal(t, []ConnState{StateConnecting, StateConnected}, transitions)
	mu.Unlock()

	unsubscribe()
	require.NoError(t, a.Cleanup(context.Background()))

	mu.Lock()
	assert.Len(t, transitions, 2, "unsubscribed listener must not fire")
	mu.Unlock()
}

func TestAdapterBindingFailureDegradesAndRecovers(t *testing.T) {
	bridge := &fakeBridge{
		initErr:    stderrors.New("DeadObjectException: binder transaction failed"),
		failsUntil: 2,
	}
	a, err := NewAdapter(Config{
		Name:               "testprov",
		Platform:           types.PlatformGoogle,
		SupportedTypes:     []types.DataType{types.TypeHeartRate},
		Bridge:             bridge,
		ReinitInitialDelay: 10 * time.Millisecond,
		ReinitMaxDelay:     50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer a.Cleanup(context.Background())

	err = a.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrorServiceBinding, errors.Classify(err))
	assert.False(t, a.IsAvailable(), "degraded adapter reports unavailable")

	// Background re-initialization recovers once the binding heals.
	assert.Eventually(t, a.IsAvailable, 2*time.Second, 10*time.Millisecond)
}

func TestAdapterCleanupStopsReinitLoop(t *testing.T) {
	bridge := &fakeBridge{initErr: stderrors.New("health service disconnected")}
	a, err := NewAdapter(Config{
		Name:               "testprov",
		Platform:           types.PlatformGoogle,
		SupportedTypes:     []types.DataType{types.TypeHeartRate},
		Bridge:             bridge,
		ReinitInitialDelay: 10 * time.Millisecond,
		ReinitMaxDelay:     50 * time.Millisecond,
	})
	require.NoError(t, err)

	require.Error(t, a.Initialize(context.Background()))
	require.NoError(t, a.Cleanup(context.Background()))

	bridge.mu.Lock()
	callsAfterCleanup := bridge.initCalls
	bridge.mu.Unlock()
	time.Sleep(100 * time.Millisecond)
	bridge.mu.Lock()
	assert.Equal(t, callsAfterCleanup, bridge.initCalls, "no re-init attempts after cleanup")
	bridge.mu.Unlock()
}

func TestAdapterPermissionSnapshot(t *testing.T) {
	bridge := &fakeBridge{granted: []types.DataType{types.TypeHeartRate}}
	a := newTestAdapter(t, bridge)
	ctx := context.Background()

	perms, err := a.CheckPermissions(ctx, []types.DataType{types.TypeHeartRate, types.TypeSteps})
	require.NoError(t, err)
	require.Len(t, perms, 2)
	assert.True(t, perms[0].Granted)
	assert.False(t, perms[1].Granted)
	assert.Equal(t, int32(1), atomic.LoadInt32(&bridge.grantedCalls))

	// Second check is served from the snapshot.
	_, err = a.CheckPermissions(ctx, []types.DataType{types.TypeHeartRate})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&bridge.grantedCalls))

	a.InvalidatePermissions()
	_, err = a.CheckPermissions(ctx, []types.DataType{types.TypeHeartRate})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&bridge.grantedCalls))
}

func TestAdapterRequestPermissionsAnyGrant(t *testing.T) {
	bridge := &fakeBridge{requestResult: []types.DataType{types.TypeSteps}}
	a := newTestAdapter(t, bridge)

	granted, err := a.RequestPermissions(context.Background(), []types.DataType{types.TypeHeartRate, types.TypeSteps})
	require.NoError(t, err)
	assert.True(t, granted)

	// Snapshot reflects the request outcome without another platform call.
	perms, err := a.CheckPermissions(context.Background(), []types.DataType{types.TypeSteps})
	require.NoError(t, err)
	assert.True(t, perms[0].Granted)
	assert.Equal(t, int32(0), atomic.LoadInt32(&bridge.grantedCalls))

	bridge.requestResult = nil
	granted, err = a.RequestPermissions(context.Background(), []types.DataType{types.TypeHeartRate})
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestAdapterReadHealthData(t *testing.T) {
	bridge := &fakeBridge{
		records: []types.RawRecord{
			{"beatsPerMinute": 72.0, "time": time.Now().UTC().Format(time.RFC3339)},
			{"beatsPerMinute": 74.0, "time": time.Now().UTC().Format(time.RFC3339)},
		},
	}
	a := newTestAdapter(t, bridge)
	require.NoError(t, a.Initialize(context.Background()))

	metrics, err := a.ReadHealthData(context.Background(), types.TypeHeartRate, types.Range{})
	require.NoError(t, err)
	assert.Len(t, metrics, 2)
	assert.Equal(t, "bpm", metrics[0].Unit)

	// Limit applies.
	metrics, err = a.ReadHealthData(context.Background(), types.TypeHeartRate, types.Range{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, metrics, 1)
}

func TestAdapterReadRequiresConnection(t *testing.T) {
	a := newTestAdapter(t, &fakeBridge{})

	_, err := a.ReadHealthData(context.Background(), types.TypeHeartRate, types.Range{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorDeviceUnavailable, errors.Classify(err))
}

func TestAdapterUnsupportedType(t *testing.T) {
	a := newTestAdapter(t, &fakeBridge{})
	require.NoError(t, a.Initialize(context.Background()))

	_, err := a.ReadHealthData(context.Background(), types.TypeWeight, types.Range{})
	require.Error(t, err)
	assert.False(t, errors.IsRetryable(err))
}

func TestAdapterRateLimit(t *testing.T) {
	a, err := NewAdapter(Config{
		Name:           "testprov",
		Platform:       types.PlatformGoogle,
		SupportedTypes: []types.DataType{types.TypeHeartRate},
		Bridge:         &fakeBridge{},
		RateLimit:      3,
		RateWindow:     time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, a.Initialize(context.Background()))

	for i := 0; i < 3; i++ {
		_, err := a.ReadHealthData(context.Background(), types.TypeHeartRate, types.Range{})
		require.NoError(t, err)
	}

	_, err = a.ReadHealthData(context.Background(), types.TypeHeartRate, types.Range{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorRateLimited, errors.Classify(err))
}

func TestOpLimiterIsPerOperation(t *testing.T) {
	ol := newOpLimiter(2, time.Minute)

	assert.True(t, ol.Allow("read"))
	assert.True(t, ol.Allow("read"))
	assert.False(t, ol.Allow("read"))
	assert.True(t, ol.Allow("write"), "budgets are per operation name")
}

func TestDetectQuirks(t *testing.T) {
	tests := []struct {
		name         string
		manufacturer string
		model        string
		wantProfile  string
	}{
		{"tecno build", "TECNO MOBILE", "TECNO KJ5", "tecno"},
		{"infinix build", "Infinix", "X657", "infinix"},
		{"go edition model", "Nokia", "C1 Go Edition", "android-go"},
		{"mainstream build", "Google", "Pixel 8", "standard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := DetectQuirks(types.DeviceInfo{Manufacturer: tt.manufacturer, Model: tt.model})
			assert.Equal(t, tt.wantProfile, profile.Name)
			if profile.Name != "standard" {
				assert.Greater(t, profile.StabilizationDelay, time.Duration(0))
			}
		})
	}
}

func TestNullBridgeNeverActivates(t *testing.T) {
	a, err := NewAdapter(Config{
		Name:           "nullprov",
		Platform:       types.PlatformApple,
		SupportedTypes: []types.DataType{types.TypeHeartRate},
		Bridge:         &NullBridge{},
	})
	require.NoError(t, err)

	err = a.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrorDeviceUnavailable, errors.Classify(err))
	assert.False(t, a.IsAvailable())
}
