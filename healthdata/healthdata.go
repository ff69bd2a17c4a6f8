// Package healthdata is the subsystem facade. It owns the initialization
// state machine feature code depends on, shields callers from environments
// without native health capability, and serializes permission request flows
// so two platform dialogs can never overlap.
package healthdata

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c360/healthbridge/errors"
	"github.com/c360/healthbridge/health"
	"github.com/c360/healthbridge/manager"
	"github.com/c360/healthbridge/types"
)

// State is the facade's initialization state.
type State string

// Initialization states
const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateInitialized   State = "initialized"
	StateFailed        State = "failed"
)

// DefaultCooldown is the minimum gap between initialization attempts, so a
// failing platform cannot be hammered in a tight loop.
const DefaultCooldown = 5 * time.Second

// initAttempt is one in-flight initialization shared by concurrent callers.
type initAttempt struct {
	done chan struct{}
	err  error
}

// permFlight is one in-flight permission request shared by identical callers.
type permFlight struct {
	done    chan struct{}
	granted bool
}

// Config assembles the facade.
type Config struct {
	Manager *manager.Manager
	Logger  *slog.Logger

	// HealthMonitor, when set, backs AggregateHealth.
	HealthMonitor *health.Monitor

	// Cooldown overrides the initialization cooldown.
	Cooldown time.Duration
}

// Service is the health data facade. Safe for concurrent use.
type Service struct {
	mu          sync.Mutex
	state       State
	initErr     error
	attempt     *initAttempt
	lastAttempt time.Time

	permActive *permFlight
	permKey    string

	manager   *manager.Manager
	logger    *slog.Logger
	healthMon *health.Monitor
	cooldown  time.Duration
	now       func() time.Time
}

// New creates the facade.
func New(cfg Config) (*Service, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("healthdata.New: manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}

	return &Service{
		state:     StateUninitialized,
		manager:   cfg.Manager,
		logger:    cfg.Logger.With("component", "healthdata"),
		healthMon: cfg.HealthMonitor,
		cooldown:  cfg.Cooldown,
		now:       time.Now,
	}, nil
}

// State returns the current initialization state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize drives the state machine
// uninitialized -> initializing -> {initialized | failed}.
// Concurrent callers share the in-flight attempt. A failed attempt clears
// the in-flight record so a later call (after the cooldown) may retry.
// This is the only facade operation allowed to return an error.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()

	switch s.state {
	case StateInitialized:
		s.mu.Unlock()
		return nil

	case StateInitializing:
		attempt := s.attempt
		s.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return errors.WrapTimeout(ctx.Err(), "healthdata", "initialize", "wait for in-flight attempt")
		}

	default: // uninitialized or failed
		if since := s.now().Sub(s.lastAttempt); !s.lastAttempt.IsZero() && since < s.cooldown {
			err := s.initErr
			s.mu.Unlock()
			return fmt.Errorf("healthdata.Initialize: retry blocked for %s (cooldown): last error: %w",
				s.cooldown-since, err)
		}

		attempt := &initAttempt{done: make(chan struct{})}
		s.attempt = attempt
		s.state = StateInitializing
		s.lastAttempt = s.now()
		s.mu.Unlock()

		s.runInitialize(ctx, attempt)
		return attempt.err
	}
}

// runInitialize performs the attempt and publishes its result.
func (s *Service) runInitialize(ctx context.Context, attempt *initAttempt) {
	ok := s.manager.Initialize(ctx)

	s.mu.Lock()
	if ok {
		s.state = StateInitialized
		s.initErr = nil
	} else {
		s.state = StateFailed
		s.initErr = errors.ErrNoActiveProvider
		attempt.err = fmt.Errorf("healthdata.Initialize: %w", s.initErr)
	}
	s.attempt = nil
	s.mu.Unlock()
	close(attempt.done)

	if s.healthMon != nil {
		if ok {
			s.healthMon.UpdateHealthy("healthdata", "initialized")
		} else {
			s.healthMon.UpdateUnhealthy("healthdata", "no providers activated")
		}
	}
	s.logger.Info("initialization finished", "success", ok)
}

// ReadHealthData delegates to the manager. In environments without native
// capability (no providers activated) it returns an empty result, not an
// error: absent data is expected there, not exceptional.
func (s *Service) ReadHealthData(ctx context.Context, dt types.DataType, opts manager.ReadOptions) *types.UnifiedResponse {
	if s.State() != StateInitialized {
		return &types.UnifiedResponse{
			Success:  true,
			Data:     []types.HealthMetric{},
			Metadata: types.ResponseMeta{Source: "none"},
		}
	}
	return s.manager.GetHealthData(ctx, dt, opts)
}

// permRequestKey is the dedup key for a permission request.
func permRequestKey(dataTypes []types.DataType) string {
	sorted := make([]string, len(dataTypes))
	for i, dt := range dataTypes {
		sorted[i] = string(dt)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// RequestPermissions raises the permission flow. Identical concurrent
// requests share one platform dialog; a second distinct concurrent request
// is refused (false) so dialogs never stack.
func (s *Service) RequestPermissions(ctx context.Context, dataTypes []types.DataType) bool {
	key := permRequestKey(dataTypes)

	s.mu.Lock()
	if flight := s.permActive; flight != nil {
		sameKey := s.permKey == key
		s.mu.Unlock()
		if !sameKey {
			s.logger.Warn("refusing overlapping permission request", "key", key)
			return false
		}
		select {
		case <-flight.done:
			return flight.granted
		case <-ctx.Done():
			return false
		}
	}

	flight := &permFlight{done: make(chan struct{})}
	s.permActive = flight
	s.permKey = key
	s.mu.Unlock()

	flight.granted = s.manager.RequestPermissions(ctx, dataTypes)

	s.mu.Lock()
	s.permActive = nil
	s.permKey = ""
	s.mu.Unlock()
	close(flight.done)

	return flight.granted
}

// CheckPermissions delegates to the manager's cached aggregate check.
func (s *Service) CheckPermissions(ctx context.Context, dataTypes []types.DataType) map[string][]types.Permission {
	return s.manager.CheckPermissions(ctx, dataTypes)
}

// AggregateHealth returns the system-level health status.
func (s *Service) AggregateHealth() health.Status {
	if s.healthMon == nil {
		return health.NewHealthy("healthbridge", "health monitoring not wired")
	}
	return s.healthMon.AggregateHealth("healthbridge")
}

// Cleanup tears down the manager and resets the state machine.
func (s *Service) Cleanup(ctx context.Context) {
	s.manager.Cleanup(ctx)

	s.mu.Lock()
	s.state = StateUninitialized
	s.initErr = nil
	s.lastAttempt = time.Time{}
	s.mu.Unlock()
}
