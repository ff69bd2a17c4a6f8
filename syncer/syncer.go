// Package syncer implements the adaptive background sync loop: periodic
// full-type reads through the health data facade, uploaded in batches to a
// remote collector. The interval adapts to failure rate, data staleness, and
// time of day, and the loop always reschedules itself after success and
// failure alike.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/healthbridge/datacache"
	"github.com/c360/healthbridge/lifecycle"
	"github.com/c360/healthbridge/manager"
	"github.com/c360/healthbridge/pkg/buffer"
	"github.com/c360/healthbridge/telemetry"
	"github.com/c360/healthbridge/types"
)

// Interval bounds and adaptation thresholds.
const (
	DefaultBaseInterval = 15 * time.Minute
	DefaultMinInterval  = 5 * time.Minute
	DefaultMaxInterval  = 2 * time.Hour

	// increaseAbove and decreaseBelow bound the recent failure rate that
	// widens or tightens the interval.
	increaseAbove = 0.30
	decreaseBelow = 0.10

	// stalenessLimit forces the minimum interval once exceeded.
	stalenessLimit = 2 * time.Hour

	// resumeSyncAfter triggers an immediate sync on foreground resume.
	resumeSyncAfter = 30 * time.Minute

	// outcomeWindow is how many recent sync outcomes feed the failure rate.
	outcomeWindow = 20

	// syncWindow is how far back each sync reads per data type.
	syncWindow = 24 * time.Hour

	// nightStartHour and nightEndHour bound the battery-conserving window
	// in which the interval is doubled.
	nightStartHour = 23
	nightEndHour   = 6
)

// Source is the read surface the syncer pulls from. *healthdata.Service
// satisfies it.
type Source interface {
	ReadHealthData(ctx context.Context, dataType types.DataType, opts manager.ReadOptions) *types.UnifiedResponse
}

// Config assembles the syncer.
type Config struct {
	Source    Source
	Uploader  Uploader
	Logger    *slog.Logger
	Telemetry telemetry.Sink
	Lifecycle lifecycle.Signal // optional; drives foreground-resume syncs

	// Types lists the data types each sync covers. Defaults to all types.
	Types []types.DataType

	BaseInterval time.Duration
	MinInterval  time.Duration
	MaxInterval  time.Duration
}

// Stats is a snapshot of the scheduler's state.
type Stats struct {
	LastSync     time.Time
	LastSuccess  time.Time
	FailureRate  float64
	NextInterval time.Duration
	Syncs        int64
	Failures     int64
}

// Service is the background sync scheduler. Safe for concurrent use.
type Service struct {
	source    Source
	uploader  Uploader
	logger    *slog.Logger
	telemetry telemetry.Sink
	signal    lifecycle.Signal
	dataTypes []types.DataType

	base time.Duration
	min  time.Duration
	max  time.Duration

	mu          sync.Mutex
	outcomes    *buffer.Ring[bool]
	lastSync    time.Time
	lastSuccess time.Time
	syncs       int64
	failures    int64
	started     bool

	trigger     chan struct{}
	stopCh      chan struct{}
	done        chan struct{}
	unsubscribe func()
	now         func() time.Time
}

// New creates the syncer.
func New(cfg Config) (*Service, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("syncer.New: source is required")
	}
	if cfg.Uploader == nil {
		cfg.Uploader = NopUploader{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.NewSlogSink(cfg.Logger)
	}
	if len(cfg.Types) == 0 {
		cfg.Types = types.AllDataTypes()
	}
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = DefaultBaseInterval
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}

	return &Service{
		source:    cfg.Source,
		uploader:  cfg.Uploader,
		logger:    cfg.Logger.With("component", "syncer"),
		telemetry: cfg.Telemetry,
		signal:    cfg.Lifecycle,
		dataTypes: cfg.Types,
		base:      cfg.BaseInterval,
		min:       cfg.MinInterval,
		max:       cfg.MaxInterval,
		outcomes:  buffer.NewRing[bool](outcomeWindow),
		trigger:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}, nil
}

// Start launches the scheduler loop. Idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})

	if s.signal != nil && s.unsubscribe == nil {
		s.unsubscribe = s.signal.Subscribe(s.onLifecycle)
	}
	s.mu.Unlock()

	go s.loop(ctx)
	s.logger.Info("background sync started", "base_interval", s.base)
}

// Stop terminates the scheduler loop. Idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	done := s.done
	s.mu.Unlock()

	close(s.stopCh)
	<-done
}

// TriggerSync requests an immediate sync cycle. Non-blocking; a pending
// request is coalesced.
func (s *Service) TriggerSync() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of scheduler state.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		LastSync:     s.lastSync,
		LastSuccess:  s.lastSuccess,
		FailureRate:  failureRate(s.outcomes.Snapshot()),
		NextInterval: s.nextIntervalLocked(),
		Syncs:        s.syncs,
		Failures:     s.failures,
	}
}

// onLifecycle handles foreground-resume: an immediate sync when the last one
// is old enough, otherwise nothing (the running timer covers it).
func (s *Service) onLifecycle(_, to lifecycle.State) {
	if to != lifecycle.StateForeground {
		return
	}

	s.mu.Lock()
	stale := s.lastSync.IsZero() || s.now().Sub(s.lastSync) > resumeSyncAfter
	s.mu.Unlock()

	if stale {
		s.logger.Info("foreground resume with stale data, syncing now")
		s.TriggerSync()
	}
}

// loop runs sync cycles and always reschedules, on success and failure
// alike, so the scheduler can never stall permanently.
func (s *Service) loop(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(s.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-timer.C:
		case <-s.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		s.runOnce(ctx)
		timer.Reset(s.interval())
	}
}

// runOnce performs one sync cycle. Every failure is caught and recorded;
// nothing escapes to crash the loop.
func (s *Service) runOnce(ctx context.Context) {
	err := s.syncAll(ctx)

	s.mu.Lock()
	s.lastSync = s.now()
	s.syncs++
	s.outcomes.Append(err == nil)
	if err == nil {
		s.lastSuccess = s.lastSync
	} else {
		s.failures++
	}
	s.mu.Unlock()

	if err != nil {
		s.telemetry.TrackError(err, map[string]any{"operation": "background_sync"})
		s.logger.Warn("sync cycle failed", "error", err)
		return
	}
	s.logger.Debug("sync cycle complete")
}

// syncAll reads the recent window for every configured type and uploads the
// combined batch. An empty batch is a successful no-op.
func (s *Service) syncAll(ctx context.Context) error {
	now := s.now()
	var batch []types.HealthMetric
	var failed int

	for _, dt := range s.dataTypes {
		resp := s.source.ReadHealthData(ctx, dt, manager.ReadOptions{
			Start: now.Add(-syncWindow),
			End:   now,
		})
		if resp == nil || !resp.Success {
			failed++
			continue
		}
		batch = append(batch, resp.Data...)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if failed == len(s.dataTypes) {
		return fmt.Errorf("syncer: all %d type reads failed", failed)
	}
	if len(batch) == 0 {
		return nil
	}

	if err := s.uploader.Upload(ctx, Batch{
		Metrics:  batch,
		Checksum: datacache.Checksum(batch),
	}); err != nil {
		return fmt.Errorf("syncer: upload %d metrics: %w", len(batch), err)
	}
	return nil
}

// interval computes the next delay from current scheduler state.
func (s *Service) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextIntervalLocked()
}

func (s *Service) nextIntervalLocked() time.Duration {
	now := s.now()
	sinceSuccess := time.Duration(0)
	if !s.lastSuccess.IsZero() {
		sinceSuccess = now.Sub(s.lastSuccess)
	}
	outcomes := s.outcomes.Snapshot()
	return nextInterval(s.base, s.min, s.max,
		failureRate(outcomes), len(outcomes), sinceSuccess, now.Hour())
}

// nextInterval is the adaptation rule: failure rate widens or tightens the
// base, prolonged staleness forces the minimum, night doubles the result.
func nextInterval(base, min, max time.Duration, failRate float64, samples int, sinceSuccess time.Duration, hour int) time.Duration {
	interval := base
	switch {
	case samples == 0:
		// No history yet: stay on the base interval.
	case failRate > increaseAbove:
		interval = base * 2
	case failRate < decreaseBelow:
		interval = base / 2
	}

	// Data too stale: sync as soon as allowed, regardless of failures.
	if sinceSuccess > stalenessLimit {
		interval = min
	} else if hour >= nightStartHour || hour < nightEndHour {
		interval *= 2
	}

	if interval < min {
		interval = min
	}
	if interval > max {
		interval = max
	}
	return interval
}

// failureRate is the fraction of recorded outcomes that failed. No recorded
// outcomes means no failures.
func failureRate(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	var failed int
	for _, ok := range outcomes {
		if !ok {
			failed++
		}
	}
	return float64(failed) / float64(len(outcomes))
}
