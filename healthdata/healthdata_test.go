package healthdata

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/healthbridge/manager"
	"github.com/c360/healthbridge/provider"
	"github.com/c360/healthbridge/types"
)

// stubProvider is the minimal Provider used to drive the facade through a
// real manager.
type stubProvider struct {
	name        string
	initCalls   int32
	initErr     error
	requestGate chan struct{} // when set, RequestPermissions blocks until closed
	requestOK   bool
}

func (p *stubProvider) Name() string                     { return p.name }
func (p *stubProvider) Platform() types.Platform         { return types.PlatformGoogle }
func (p *stubProvider) Priority() int                    { return 50 }
func (p *stubProvider) SupportedTypes() []types.DataType { return []types.DataType{types.TypeSteps} }
func (p *stubProvider) IsAvailable() bool                { return atomic.LoadInt32(&p.initCalls) > 0 && p.initErr == nil }
func (p *stubProvider) ConnectionState() provider.ConnState { return provider.StateConnected }
func (p *stubProvider) Subscribe(provider.StateListener) func() { return func() {} }
func (p *stubProvider) DeviceInfo() types.DeviceInfo {
	return types.DeviceInfo{Platform: types.PlatformGoogle, OSVersion: "13"}
}
func (p *stubProvider) Cleanup(context.Context) error { return nil }

func (p *stubProvider) Initialize(context.Context) error {
	atomic.AddInt32(&p.initCalls, 1)
	return p.initErr
}

func (p *stubProvider) CheckPermissions(_ context.Context, dts []types.DataType) ([]types.Permission, error) {
	perms := make([]types.Permission, len(dts))
	for i, dt := range dts {
		perms[i] = types.Permission{Type: dt, Read: true, Granted: true}
	}
	return perms, nil
}

func (p *stubProvider) RequestPermissions(context.Context, []types.DataType) (bool, error) {
	if p.requestGate != nil {
		<-p.requestGate
	}
	return p.requestOK, nil
}

func (p *stubProvider) ReadHealthData(context.Context, types.DataType, types.Range) ([]types.HealthMetric, error) {
	return []types.HealthMetric{{Type: types.TypeSteps, Value: 100}}, nil
}

func (p *stubProvider) WriteHealthData(context.Context, types.HealthMetric) error { return nil }

func newFacade(t *testing.T, providers ...*stubProvider) (*Service, *manager.Manager) {
	t.Helper()
	m := manager.New(context.Background(), manager.Config{})
	for _, p := range providers {
		require.NoError(t, m.RegisterProvider(p.name, p))
	}
	s, err := New(Config{Manager: m, Cooldown: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { s.Cleanup(context.Background()) })
	return s, m
}

func TestInitializeStateMachine(t *testing.T) {
	p := &stubProvider{name: "p1"}
	s, _ := newFacade(t, p)

	assert.Equal(t, StateUninitialized, s.State())
	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, StateInitialized, s.State())

	// Repeat call is a no-op.
	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.initCalls))
}

func TestInitializeFailureAndCooldown(t *testing.T) {
	s, _ := newFacade(t) // no providers: initialization must fail

	err := s.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, s.State())

	// Immediate retry is blocked by the cooldown.
	err = s.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cooldown")

	// After the cooldown a fresh attempt runs (and fails again here).
	time.Sleep(60 * time.Millisecond)
	err = s.Initialize(context.Background())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "cooldown")
}

func TestConcurrentInitializeSharesAttempt(t *testing.T) {
	p := &stubProvider{name: "p1"}
	s, _ := newFacade(t, p)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Initialize(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&p.initCalls),
		"concurrent callers share one initialization attempt")
}

func TestReadWithoutNativeCapabilityReturnsEmpty(t *testing.T) {
	s, _ := newFacade(t)

	resp := s.ReadHealthData(context.Background(), types.TypeSteps, manager.ReadOptions{})
	require.NotNil(t, resp)
	assert.True(t, resp.Success, "missing capability is not an error")
	assert.Empty(t, resp.Data)
}

func TestReadDelegatesWhenInitialized(t *testing.T) {
	p := &stubProvider{name: "p1"}
	s, _ := newFacade(t, p)
	require.NoError(t, s.Initialize(context.Background()))

	resp := s.ReadHealthData(context.Background(), types.TypeSteps, manager.ReadOptions{
		Start: time.Now().Add(-time.Hour), End: time.Now(),
	})
	require.True(t, resp.Success)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, 100.0, resp.Data[0].Value)
}

func TestRequestPermissionsDedupAndRefusal(t *testing.T) {
	gate := make(chan struct{})
	p := &stubProvider{name: "p1", requestGate: gate, requestOK: true}
	s, _ := newFacade(t, p)

	sameKey := []types.DataType{types.TypeSteps}
	otherKey := []types.DataType{types.TypeHeartRate}

	first := make(chan bool, 1)
	go func() { first <- s.RequestPermissions(context.Background(), sameKey) }()

	// Wait until the first request is in flight.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.permActive != nil
	}, time.Second, 5*time.Millisecond)

	// A distinct concurrent request is refused outright.
	assert.False(t, s.RequestPermissions(context.Background(), otherKey))

	// An identical concurrent request joins the in-flight one.
	joined := make(chan bool, 1)
	go func() { joined <- s.RequestPermissions(context.Background(), sameKey) }()

	close(gate)
	assert.True(t, <-first)
	assert.True(t, <-joined)
}
