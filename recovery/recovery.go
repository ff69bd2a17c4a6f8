// Package recovery is the error recovery service: per-service circuit
// breakers fed by a background health-check loop, error-to-strategy analysis
// influenced by device signals (connectivity, battery, memory pressure), and
// fallback execution against the data cache. Fallbacks never fabricate data.
package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/healthbridge/datacache"
	"github.com/c360/healthbridge/health"
	"github.com/c360/healthbridge/telemetry"
)

// DefaultCheckInterval is the background health-check cadence.
const DefaultCheckInterval = 30 * time.Second

// Probe reports whether a service is currently reachable.
type Probe func(ctx context.Context) bool

// Config assembles a Service.
type Config struct {
	Logger    *slog.Logger
	Telemetry telemetry.Sink

	// DataCache serves cache and emergency-cache fallbacks. Optional.
	DataCache *datacache.Service

	// HealthMonitor receives per-service status updates. Optional.
	HealthMonitor *health.Monitor

	// FailureThreshold and OpenTimeout tune the breakers; zero values take
	// the defaults.
	FailureThreshold int
	OpenTimeout      time.Duration

	// CheckInterval tunes the health-check loop.
	CheckInterval time.Duration
}

// Service is the error recovery service. Safe for concurrent use.
type Service struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	probes   map[string]Probe

	threshold     int
	openTimeout   time.Duration
	checkInterval time.Duration

	dataCache *datacache.Service
	healthMon *health.Monitor
	logger    *slog.Logger
	telemetry telemetry.Sink
	now       func() time.Time

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates the recovery service. Call Start to run the health-check loop.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.NewSlogSink(cfg.Logger)
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}

	return &Service{
		breakers:      make(map[string]*breaker),
		probes:        make(map[string]Probe),
		threshold:     cfg.FailureThreshold,
		openTimeout:   cfg.OpenTimeout,
		checkInterval: cfg.CheckInterval,
		dataCache:     cfg.DataCache,
		healthMon:     cfg.HealthMonitor,
		logger:        cfg.Logger.With("component", "recovery"),
		telemetry:     cfg.Telemetry,
		now:           time.Now,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// RegisterProbe adds a service to the health-check loop.
func (s *Service) RegisterProbe(service string, probe Probe) {
	s.mu.Lock()
	s.probes[service] = probe
	s.mu.Unlock()
}

// breakerFor returns the named breaker, creating it closed. Caller holds s.mu.
func (s *Service) breakerFor(service string) *breaker {
	b, ok := s.breakers[service]
	if !ok {
		b = newBreaker()
		s.breakers[service] = b
	}
	return b
}

// RecordSuccess feeds a success into the service's breaker.
func (s *Service) RecordSuccess(service string) {
	s.mu.Lock()
	b := s.breakerFor(service)
	prior := b.state
	b.recordSuccess()
	s.mu.Unlock()

	if prior == BreakerHalfOpen {
		s.logger.Info("circuit closed after successful probe", "service", service)
	}
	if s.healthMon != nil {
		s.healthMon.UpdateHealthy(service, "recovered")
	}
}

// RecordFailure feeds a failure into the service's breaker.
func (s *Service) RecordFailure(service string) {
	s.mu.Lock()
	b := s.breakerFor(service)
	b.recordFailure(s.now(), s.threshold, s.openTimeout)
	state := b.state
	failures := b.failures
	s.mu.Unlock()

	if state == BreakerOpen {
		s.logger.Warn("circuit open", "service", service, "failures", failures)
		if s.healthMon != nil {
			s.healthMon.UpdateUnhealthy(service, "circuit open")
		}
	} else if s.healthMon != nil {
		s.healthMon.UpdateDegraded(service, "recent failures")
	}
}

// IsServiceAvailable reports whether the breaker admits calls. The first
// check past the open timeout transitions open to half-open.
func (s *Service) IsServiceAvailable(service string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.breakerFor(service).available(s.now())
}

// BreakerState returns a breaker's current state without side effects.
func (s *Service) BreakerState(service string) BreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.breakerFor(service).state
}

// Start runs the background health-check loop until Stop or ctx cancel.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.loop(ctx)
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runChecks(ctx)
		}
	}
}

// runChecks probes every registered service and feeds the breakers.
func (s *Service) runChecks(ctx context.Context) {
	s.mu.Lock()
	probes := make(map[string]Probe, len(s.probes))
	for name, probe := range s.probes {
		probes[name] = probe
	}
	s.mu.Unlock()

	for name, probe := range probes {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		ok := probe(checkCtx)
		cancel()

		if ok {
			s.RecordSuccess(name)
		} else {
			s.RecordFailure(name)
		}
	}
}

// Stop halts the health-check loop. Idempotent; safe without Start.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if started {
			<-s.done
		}
	})
}
