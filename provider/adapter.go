package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/healthbridge/errors"
	"github.com/c360/healthbridge/normalize"
	"github.com/c360/healthbridge/pkg/retry"
	"github.com/c360/healthbridge/types"
)

// Config assembles an Adapter. Name, Platform, and Bridge are required.
type Config struct {
	Name           string
	Platform       types.Platform
	Priority       int
	SupportedTypes []types.DataType
	Bridge         Bridge
	Logger         *slog.Logger

	// DefaultSource is assumed for records carrying no source metadata.
	DefaultSource types.Source

	// Rate limiting; zero values take the package defaults.
	RateLimit  int
	RateWindow time.Duration

	// Background re-initialization backoff after service-binding loss.
	// Zero values take ReinitDefaults.
	ReinitInitialDelay time.Duration
	ReinitMaxDelay     time.Duration
}

// ReinitDefaults is the background re-initialization backoff used when the
// config leaves it unset. Attempts are capped by the device quirk profile.
var ReinitDefaults = struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}{
	InitialDelay: 5 * time.Second,
	MaxDelay:     5 * time.Minute,
}

// Adapter is the shared Provider implementation. Platform packages construct
// one around their Bridge; all contract behavior (state machine, rate limits,
// permission snapshots, degradation) lives here so the two platforms cannot
// drift apart.
type Adapter struct {
	cfg     Config
	logger  *slog.Logger
	state   *stateTracker
	limiter *opLimiter
	norm    *normalize.Normalizer

	mu       sync.Mutex
	quirks   QuirkProfile
	degraded bool
	perms    map[types.DataType]types.Permission // permission snapshot, nil until first fetch

	reinitCancel context.CancelFunc
	reinitDone   chan struct{}

	supported map[types.DataType]bool
}

// NewAdapter builds an Adapter from cfg.
func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider.NewAdapter: name is required")
	}
	if cfg.Bridge == nil {
		return nil, fmt.Errorf("provider.NewAdapter: bridge is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultSource == "" {
		cfg.DefaultSource = types.SourcePhone
	}
	if cfg.ReinitInitialDelay <= 0 {
		cfg.ReinitInitialDelay = ReinitDefaults.InitialDelay
	}
	if cfg.ReinitMaxDelay <= 0 {
		cfg.ReinitMaxDelay = ReinitDefaults.MaxDelay
	}

	logger := cfg.Logger.With("component", "provider", "provider", cfg.Name)

	supported := make(map[types.DataType]bool, len(cfg.SupportedTypes))
	for _, dt := range cfg.SupportedTypes {
		supported[dt] = true
	}

	return &Adapter{
		cfg:       cfg,
		logger:    logger,
		state:     newStateTracker(),
		limiter:   newOpLimiter(cfg.RateLimit, cfg.RateWindow),
		norm:      normalize.New(logger),
		quirks:    DetectQuirks(cfg.Bridge.DeviceInfo()),
		supported: supported,
	}, nil
}

// Name implements Provider.
func (a *Adapter) Name() string { return a.cfg.Name }

// Platform implements Provider.
func (a *Adapter) Platform() types.Platform { return a.cfg.Platform }

// Priority implements Provider.
func (a *Adapter) Priority() int { return a.cfg.Priority }

// SupportedTypes implements Provider.
func (a *Adapter) SupportedTypes() []types.DataType {
	out := make([]types.DataType, len(a.cfg.SupportedTypes))
	copy(out, a.cfg.SupportedTypes)
	return out
}

// Supports reports whether the adapter can read the given type.
func (a *Adapter) Supports(dt types.DataType) bool { return a.supported[dt] }

// ConnectionState implements Provider.
func (a *Adapter) ConnectionState() ConnState { return a.state.Current() }

// Subscribe implements Provider.
func (a *Adapter) Subscribe(listener StateListener) func() {
	return a.state.Subscribe(listener)
}

// DeviceInfo implements Provider.
func (a *Adapter) DeviceInfo() types.DeviceInfo { return a.cfg.Bridge.DeviceInfo() }

// Quirks returns the active device quirk profile.
func (a *Adapter) Quirks() QuirkProfile {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quirks
}

// IsAvailable implements Provider. Degraded adapters report unavailable even
// while background re-initialization is in flight.
func (a *Adapter) IsAvailable() bool {
	a.mu.Lock()
	degraded := a.degraded
	a.mu.Unlock()
	return !degraded && a.state.Current() == StateConnected
}

// Initialize implements Provider. A service-binding failure does not block
// the caller: the adapter enters degraded mode and retries in the background
// with capped exponential backoff.
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.state.Current() == StateConnected {
		return nil
	}

	err := a.initializeOnce(ctx)
	if err == nil {
		return nil
	}

	if errors.Classify(err) == errors.ErrorServiceBinding {
		a.enterDegradedMode()
	}
	return err
}

// initializeOnce performs one full connect attempt.
func (a *Adapter) initializeOnce(ctx context.Context) error {
	a.state.Set(StateConnecting)

	if err := a.cfg.Bridge.Initialize(ctx); err != nil {
		a.state.Set(StateDisconnected)
		return errors.Wrap(err, a.cfg.Name, "initialize", "bridge initialization failed")
	}

	// Some vendor builds need settling time before the service is reliable.
	if delay := a.Quirks().StabilizationDelay; delay > 0 {
		a.logger.Debug("applying stabilization delay", "quirk", a.Quirks().Name, "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.state.Set(StateDisconnected)
			return errors.WrapTimeout(ctx.Err(), a.cfg.Name, "initialize", "cancelled during stabilization")
		case <-timer.C:
		}
	}

	a.mu.Lock()
	a.degraded = false
	a.mu.Unlock()
	a.state.Set(StateConnected)

	a.logger.Info("provider connected", "platform", a.cfg.Platform, "quirk", a.Quirks().Name)
	return nil
}

// enterDegradedMode marks the adapter unavailable and starts the background
// re-initialization loop. Idempotent while a loop is already running.
func (a *Adapter) enterDegradedMode() {
	a.mu.Lock()
	if a.reinitCancel != nil {
		a.mu.Unlock()
		return
	}
	a.degraded = true
	ctx, cancel := context.WithCancel(context.Background())
	a.reinitCancel = cancel
	done := make(chan struct{})
	a.reinitDone = done
	maxAttempts := a.quirks.MaxReinitAttempts
	a.mu.Unlock()

	a.logger.Warn("service binding lost, entering degraded mode",
		"max_reinit_attempts", maxAttempts)

	go a.reinitLoop(ctx, done, maxAttempts)
}

// reinitLoop retries initialization with capped exponential backoff until it
// succeeds, runs out of attempts, or is cancelled by Cleanup.
func (a *Adapter) reinitLoop(ctx context.Context, done chan struct{}, maxAttempts int) {
	defer close(done)
	defer func() {
		a.mu.Lock()
		a.reinitCancel = nil
		a.reinitDone = nil
		a.mu.Unlock()
	}()

	cfg := retry.Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: a.cfg.ReinitInitialDelay,
		MaxDelay:     a.cfg.ReinitMaxDelay,
		Multiplier:   2.0,
		AddJitter:    true,
	}

	err := retry.Do(ctx, cfg, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return a.initializeOnce(attemptCtx)
	})
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Error("background re-initialization exhausted", "error", err)
		}
		return
	}

	a.logger.Info("background re-initialization succeeded")
}

// CheckPermissions implements Provider. The snapshot taken at the last
// request/fetch is authoritative; the platform service is only consulted when
// no snapshot exists.
func (a *Adapter) CheckPermissions(ctx context.Context, dataTypes []types.DataType) ([]types.Permission, error) {
	a.mu.Lock()
	snapshot := a.perms
	a.mu.Unlock()

	if snapshot == nil {
		granted, err := a.cfg.Bridge.GetGrantedPermissions(ctx)
		if err != nil {
			return nil, errors.Wrap(err, a.cfg.Name, "checkPermissions", "fetch granted permissions")
		}
		snapshot = snapshotFromGranted(granted)
		a.mu.Lock()
		a.perms = snapshot
		a.mu.Unlock()
	}

	out := make([]types.Permission, 0, len(dataTypes))
	for _, dt := range dataTypes {
		if p, ok := snapshot[dt]; ok {
			out = append(out, p)
		} else {
			out = append(out, types.Permission{Type: dt, Read: false, Granted: false})
		}
	}
	return out, nil
}

// RequestPermissions implements Provider. The snapshot is refreshed from the
// request outcome, never by re-querying the platform service.
func (a *Adapter) RequestPermissions(ctx context.Context, dataTypes []types.DataType) (bool, error) {
	a.mu.Lock()
	a.perms = nil
	a.mu.Unlock()

	granted, err := a.cfg.Bridge.RequestPermission(ctx, dataTypes)
	if err != nil {
		return false, errors.Wrap(err, a.cfg.Name, "requestPermissions", "permission request failed")
	}

	a.mu.Lock()
	a.perms = snapshotFromGranted(granted)
	a.mu.Unlock()

	return len(granted) > 0, nil
}

// InvalidatePermissions drops the permission snapshot so the next check
// consults the platform again.
func (a *Adapter) InvalidatePermissions() {
	a.mu.Lock()
	a.perms = nil
	a.mu.Unlock()
}

func snapshotFromGranted(granted []types.DataType) map[types.DataType]types.Permission {
	snapshot := make(map[types.DataType]types.Permission, len(granted))
	for _, dt := range granted {
		snapshot[dt] = types.Permission{Type: dt, Read: true, Granted: true}
	}
	return snapshot
}

// ReadHealthData implements Provider: rate limit, bridge read, normalize.
func (a *Adapter) ReadHealthData(ctx context.Context, dataType types.DataType, r types.Range) ([]types.HealthMetric, error) {
	if !a.limiter.Allow("readHealthData") {
		return nil, errors.WrapClass(errors.ErrorRateLimited, errors.ErrRateLimited,
			a.cfg.Name, "readHealthData", "request budget exhausted")
	}
	if !a.IsAvailable() {
		return nil, errors.WrapClass(errors.ErrorDeviceUnavailable, errors.ErrNoActiveProvider,
			a.cfg.Name, "readHealthData", "provider not connected")
	}
	if !a.Supports(dataType) {
		return nil, errors.WrapClass(errors.ErrorDeviceUnavailable, errors.ErrInvalidData,
			a.cfg.Name, "readHealthData", fmt.Sprintf("unsupported data type %s", dataType))
	}

	raw, err := a.cfg.Bridge.ReadRecords(ctx, dataType, r)
	if err != nil {
		return nil, errors.Wrap(err, a.cfg.Name, "readHealthData", "bridge read failed")
	}

	result := a.norm.Normalize(raw, dataType, a.cfg.Platform, a.cfg.DefaultSource)
	if !result.IsValid && len(result.Errors) > 0 {
		if a.Quirks().ConservativeValidation {
			// Conservative builds reject the whole batch on any error.
			return nil, errors.WrapCorruption(errors.ErrInvalidData,
				a.cfg.Name, "readHealthData", fmt.Sprintf("normalization rejected batch: %v", result.Errors[0]))
		}
	}

	if r.Limit > 0 && len(result.Metrics) > r.Limit {
		result.Metrics = result.Metrics[:r.Limit]
	}
	return result.Metrics, nil
}

// WriteHealthData implements Provider.
func (a *Adapter) WriteHealthData(ctx context.Context, metric types.HealthMetric) error {
	if !a.limiter.Allow("writeHealthData") {
		return errors.WrapClass(errors.ErrorRateLimited, errors.ErrRateLimited,
			a.cfg.Name, "writeHealthData", "request budget exhausted")
	}
	if !a.IsAvailable() {
		return errors.WrapClass(errors.ErrorDeviceUnavailable, errors.ErrNoActiveProvider,
			a.cfg.Name, "writeHealthData", "provider not connected")
	}
	if !a.Supports(metric.Type) {
		return errors.WrapClass(errors.ErrorDeviceUnavailable, errors.ErrInvalidData,
			a.cfg.Name, "writeHealthData", fmt.Sprintf("unsupported data type %s", metric.Type))
	}

	if err := a.cfg.Bridge.WriteRecord(ctx, metric); err != nil {
		return errors.Wrap(err, a.cfg.Name, "writeHealthData", "bridge write failed")
	}
	return nil
}

// Cleanup implements Provider: stops any background re-init loop and
// disconnects.
func (a *Adapter) Cleanup(_ context.Context) error {
	a.mu.Lock()
	cancel := a.reinitCancel
	done := a.reinitDone
	a.perms = nil
	a.degraded = false
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		if done != nil {
			<-done
		}
	}

	a.state.Set(StateDisconnected)
	a.logger.Info("provider cleaned up")
	return nil
}
