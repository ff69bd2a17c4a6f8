package manager

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/healthbridge/provider"
	"github.com/c360/healthbridge/types"
)

// fakeProvider scripts Provider behavior per test.
type fakeProvider struct {
	name      string
	platform  types.Platform
	osVersion string
	priority  int
	supported []types.DataType

	available  atomic.Bool
	readFunc   func() ([]types.HealthMetric, error)
	readCalls  int32
	checkCalls int32
	requestOK  bool
	grantAll   bool
}

func newFakeProvider(name string, priority int, dts ...types.DataType) *fakeProvider {
	p := &fakeProvider{
		name:      name,
		platform:  types.PlatformGoogle,
		osVersion: "13",
		priority:  priority,
		supported: dts,
		grantAll:  true,
	}
	p.available.Store(true)
	return p
}

func (p *fakeProvider) Name() string                    { return p.name }
func (p *fakeProvider) Platform() types.Platform        { return p.platform }
func (p *fakeProvider) Priority() int                   { return p.priority }
func (p *fakeProvider) SupportedTypes() []types.DataType { return p.supported }
func (p *fakeProvider) Initialize(context.Context) error { return nil }
func (p *fakeProvider) IsAvailable() bool               { return p.available.Load() }
func (p *fakeProvider) ConnectionState() provider.ConnState {
	if p.available.Load() {
		return provider.StateConnected
	}
	return provider.StateDisconnected
}
func (p *fakeProvider) Subscribe(provider.StateListener) func() { return func() {} }
func (p *fakeProvider) DeviceInfo() types.DeviceInfo {
	return types.DeviceInfo{Platform: p.platform, OSVersion: p.osVersion}
}
func (p *fakeProvider) Cleanup(context.Context) error { return nil }

func (p *fakeProvider) CheckPermissions(_ context.Context, dts []types.DataType) ([]types.Permission, error) {
	atomic.AddInt32(&p.checkCalls, 1)
	perms := make([]types.Permission, len(dts))
	for i, dt := range dts {
		perms[i] = types.Permission{Type: dt, Read: p.grantAll, Granted: p.grantAll}
	}
	return perms, nil
}

func (p *fakeProvider) RequestPermissions(context.Context, []types.DataType) (bool, error) {
	return p.requestOK, nil
}

func (p *fakeProvider) ReadHealthData(context.Context, types.DataType, types.Range) ([]types.HealthMetric, error) {
	atomic.AddInt32(&p.readCalls, 1)
	if p.readFunc != nil {
		return p.readFunc()
	}
	return nil, nil
}

func (p *fakeProvider) WriteHealthData(context.Context, types.HealthMetric) error { return nil }

func steps(values ...float64) []types.HealthMetric {
	out := make([]types.HealthMetric, len(values))
	for i, v := range values {
		out[i] = types.HealthMetric{
			ID: "s", Type: types.TypeSteps, Value: v, Unit: "count",
			Timestamp: time.Now(),
			Metadata:  types.MetricMetadata{Quality: types.QualityHigh},
		}
	}
	return out
}

func testWindow() ReadOptions {
	return ReadOptions{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := New(context.Background(), Config{})
	t.Cleanup(func() { m.Cleanup(context.Background()) })
	return m
}

func TestRegisterProviderValidation(t *testing.T) {
	m := newTestManager(t)

	assert.Error(t, m.RegisterProvider("", newFakeProvider("x", 1, types.TypeSteps)))
	assert.Error(t, m.RegisterProvider("x", nil))
	assert.Error(t, m.RegisterProvider("x", newFakeProvider("x", 1))) // no supported types

	p := newFakeProvider("x", 1, types.TypeSteps)
	require.NoError(t, m.RegisterProvider("x", p))
	assert.Error(t, m.RegisterProvider("x", p), "duplicate name rejected")
}

func TestPriorityOrdering(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterProvider("low", newFakeProvider("low", 50, types.TypeSteps)))
	require.NoError(t, m.RegisterProvider("high", newFakeProvider("high", 90, types.TypeSteps)))

	ordered := m.Providers()
	require.Len(t, ordered, 2)
	assert.Equal(t, "high", ordered[0].Name())
	assert.Equal(t, "low", ordered[1].Name())
}

func TestInitializeTrueIfAnyProviderActivates(t *testing.T) {
	m := newTestManager(t)
	assert.False(t, m.Initialize(context.Background()), "no providers registered")

	require.NoError(t, m.RegisterProvider("p1", newFakeProvider("p1", 90, types.TypeSteps)))
	assert.True(t, m.Initialize(context.Background()))
}

func TestGetHealthDataScenario(t *testing.T) {
	m := newTestManager(t)
	p := newFakeProvider("p1", 90, types.TypeSteps)
	p.readFunc = func() ([]types.HealthMetric, error) { return steps(1000), nil }
	require.NoError(t, m.RegisterProvider("p1", p))

	opts := testWindow()
	resp := m.GetHealthData(context.Background(), types.TypeSteps, opts)
	require.True(t, resp.Success)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, 1000.0, resp.Data[0].Value)
	assert.False(t, resp.Cached)
	assert.Equal(t, "p1", resp.Provider)

	// Identical request within the freshness window comes from cache.
	resp = m.GetHealthData(context.Background(), types.TypeSteps, opts)
	require.True(t, resp.Success)
	assert.True(t, resp.Cached)
	assert.Equal(t, 1000.0, resp.Data[0].Value)
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.readCalls))
}

func TestFallbackOrderingWithRetryableError(t *testing.T) {
	m := newTestManager(t)

	primary := newFakeProvider("primary", 90, types.TypeSteps)
	primary.readFunc = func() ([]types.HealthMetric, error) {
		return nil, stderrors.New("network unreachable")
	}
	secondary := newFakeProvider("secondary", 50, types.TypeSteps)
	secondary.readFunc = func() ([]types.HealthMetric, error) { return steps(500), nil }

	require.NoError(t, m.RegisterProvider("primary", primary))
	require.NoError(t, m.RegisterProvider("secondary", secondary))

	resp := m.GetHealthData(context.Background(), types.TypeSteps, testWindow())
	require.True(t, resp.Success)
	assert.Equal(t, "secondary", resp.Provider)

	// The retryable failure got the full retry budget before falling through.
	assert.Greater(t, atomic.LoadInt32(&primary.readCalls), int32(1))
	assert.Equal(t, int32(1), atomic.LoadInt32(&secondary.readCalls))
}

func TestNonRetryableShortCircuit(t *testing.T) {
	m := newTestManager(t)

	primary := newFakeProvider("primary", 90, types.TypeSteps)
	primary.readFunc = func() ([]types.HealthMetric, error) {
		return nil, stderrors.New("DeadObjectException: binding lost")
	}
	secondary := newFakeProvider("secondary", 50, types.TypeSteps)
	secondary.readFunc = func() ([]types.HealthMetric, error) { return steps(500), nil }

	require.NoError(t, m.RegisterProvider("primary", primary))
	require.NoError(t, m.RegisterProvider("secondary", secondary))

	resp := m.GetHealthData(context.Background(), types.TypeSteps, testWindow())
	require.True(t, resp.Success)
	assert.Equal(t, "secondary", resp.Provider)
	assert.Equal(t, int32(1), atomic.LoadInt32(&primary.readCalls),
		"service binding failure must not be retried on the same provider")
}

func TestPreferredProviderMovesToFront(t *testing.T) {
	m := newTestManager(t)

	var order []string
	var mu sync.Mutex
	mk := func(name string, priority int) *fakeProvider {
		p := newFakeProvider(name, priority, types.TypeSteps)
		p.readFunc = func() ([]types.HealthMetric, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return steps(1), nil
		}
		return p
	}
	require.NoError(t, m.RegisterProvider("high", mk("high", 90)))
	require.NoError(t, m.RegisterProvider("low", mk("low", 50)))

	resp := m.GetHealthData(context.Background(), types.TypeSteps, ReadOptions{
		Start: time.Now().Add(-time.Hour), End: time.Now(), PreferredProvider: "low",
	})
	require.True(t, resp.Success)
	assert.Equal(t, "low", resp.Provider)
}

func TestNoSyntheticDataOnTotalFailure(t *testing.T) {
	m := newTestManager(t)

	p := newFakeProvider("p1", 90, types.TypeSteps)
	p.readFunc = func() ([]types.HealthMetric, error) {
		return nil, stderrors.New("SecurityException: permission denied")
	}
	require.NoError(t, m.RegisterProvider("p1", p))

	resp := m.GetHealthData(context.Background(), types.TypeSteps, testWindow())
	assert.False(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.Empty(t, resp.Data)
	assert.NotEmpty(t, resp.Errors)
	assert.Equal(t, "none", resp.Metadata.Source)
}

func TestStaleCacheFallback(t *testing.T) {
	m := newTestManager(t)

	healthy := true
	p := newFakeProvider("p1", 90, types.TypeSteps)
	p.readFunc = func() ([]types.HealthMetric, error) {
		if healthy {
			return steps(777), nil
		}
		return nil, stderrors.New("SecurityException: denied")
	}
	require.NoError(t, m.RegisterProvider("p1", p))

	opts := testWindow()
	resp := m.GetHealthData(context.Background(), types.TypeSteps, opts)
	require.True(t, resp.Success)

	// Entry goes stale, provider goes dark.
	healthy = false
	m.now = func() time.Time { return time.Now().Add(5 * time.Minute) }

	resp = m.GetHealthData(context.Background(), types.TypeSteps, opts)
	require.True(t, resp.Success, "stale cache beats empty response")
	assert.True(t, resp.Cached)
	assert.Equal(t, "stale-cache", resp.Metadata.Source)
	assert.Equal(t, 777.0, resp.Data[0].Value)
	assert.NotEmpty(t, resp.Errors)
}

func TestCheckPermissionsCached(t *testing.T) {
	m := newTestManager(t)
	p := newFakeProvider("p1", 90, types.TypeSteps)
	require.NoError(t, m.RegisterProvider("p1", p))

	dts := []types.DataType{types.TypeSteps}
	result := m.CheckPermissions(context.Background(), dts)
	require.Len(t, result["p1"], 1)
	assert.True(t, result["p1"][0].Granted)
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.checkCalls))

	// Within the 15-minute TTL the adapter is not consulted again.
	_ = m.CheckPermissions(context.Background(), dts)
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.checkCalls))
}

func TestCheckPermissionsFailureReadsAsNotGranted(t *testing.T) {
	m := newTestManager(t)
	p := newFakeProvider("p1", 90, types.TypeSteps)
	p.grantAll = false
	require.NoError(t, m.RegisterProvider("p1", p))

	result := m.CheckPermissions(context.Background(), []types.DataType{types.TypeSteps})
	require.Len(t, result["p1"], 1)
	assert.False(t, result["p1"][0].Granted)
}

func TestRequestPermissionsAnyGrantAndCacheInvalidation(t *testing.T) {
	m := newTestManager(t)

	denier := newFakeProvider("denier", 90, types.TypeSteps)
	denier.requestOK = false
	granter := newFakeProvider("granter", 50, types.TypeSteps)
	granter.requestOK = true
	require.NoError(t, m.RegisterProvider("denier", denier))
	require.NoError(t, m.RegisterProvider("granter", granter))

	// Warm the permission cache, then confirm the request flow invalidates it.
	dts := []types.DataType{types.TypeSteps}
	_ = m.CheckPermissions(context.Background(), dts)
	checksBefore := atomic.LoadInt32(&denier.checkCalls)

	assert.True(t, m.RequestPermissions(context.Background(), dts))

	_ = m.CheckPermissions(context.Background(), dts)
	assert.Greater(t, atomic.LoadInt32(&denier.checkCalls), checksBefore,
		"permission cache must be invalidated by a request")
}

func TestClearCacheByType(t *testing.T) {
	m := newTestManager(t)
	p := newFakeProvider("p1", 90, types.TypeSteps, types.TypeHeartRate)
	p.readFunc = func() ([]types.HealthMetric, error) { return steps(1), nil }
	require.NoError(t, m.RegisterProvider("p1", p))

	opts := testWindow()
	_ = m.GetHealthData(context.Background(), types.TypeSteps, opts)
	_ = m.GetHealthData(context.Background(), types.TypeHeartRate, opts)
	readsBefore := atomic.LoadInt32(&p.readCalls)

	dt := types.TypeSteps
	m.ClearCache(context.Background(), &dt)

	// Steps misses the cache now; heart rate still hits.
	_ = m.GetHealthData(context.Background(), types.TypeSteps, opts)
	assert.Equal(t, readsBefore+1, atomic.LoadInt32(&p.readCalls))
	_ = m.GetHealthData(context.Background(), types.TypeHeartRate, opts)
	assert.Equal(t, readsBefore+1, atomic.LoadInt32(&p.readCalls))
}

func TestResponseCacheBoundedByTierCap(t *testing.T) {
	m := newTestManager(t)

	p := newFakeProvider("p1", 90, types.TypeSteps)
	p.osVersion = "9" // low tier: 128-entry response cache
	p.readFunc = func() ([]types.HealthMetric, error) { return steps(1), nil }
	require.NoError(t, m.RegisterProvider("p1", p))
	require.True(t, m.Initialize(context.Background()))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	window := func(i int) ReadOptions {
		return ReadOptions{
			Start: base.Add(time.Duration(i) * time.Minute),
			End:   base.Add(time.Duration(i+1) * time.Minute),
		}
	}

	// One entry over the cap pushes out the least recently used window.
	entryCap := tierProfiles[TierLow].CacheEntries
	for i := 0; i <= entryCap; i++ {
		require.True(t, m.GetHealthData(context.Background(), types.TypeSteps, window(i)).Success)
	}
	reads := atomic.LoadInt32(&p.readCalls)

	resp := m.GetHealthData(context.Background(), types.TypeSteps, window(entryCap))
	assert.True(t, resp.Cached, "newest window still cached")
	assert.Equal(t, reads, atomic.LoadInt32(&p.readCalls))

	resp = m.GetHealthData(context.Background(), types.TypeSteps, window(0))
	assert.False(t, resp.Cached, "oldest window evicted under the entry cap")
	assert.Equal(t, reads+1, atomic.LoadInt32(&p.readCalls))
}

func TestUnavailableProviderSkipped(t *testing.T) {
	m := newTestManager(t)

	dark := newFakeProvider("dark", 90, types.TypeSteps)
	dark.available.Store(false)
	dark.readFunc = func() ([]types.HealthMetric, error) { return steps(1), nil }
	lit := newFakeProvider("lit", 50, types.TypeSteps)
	lit.readFunc = func() ([]types.HealthMetric, error) { return steps(2), nil }

	require.NoError(t, m.RegisterProvider("dark", dark))
	require.NoError(t, m.RegisterProvider("lit", lit))

	resp := m.GetHealthData(context.Background(), types.TypeSteps, testWindow())
	require.True(t, resp.Success)
	assert.Equal(t, "lit", resp.Provider)
	assert.Zero(t, atomic.LoadInt32(&dark.readCalls))
}
