// Package monitor implements the real-time health monitor: a poll loop over
// the provider manager that detects threshold and statistical anomalies in
// incoming readings and drives alerting with severity escalation.
//
// One session is active at a time. A new StartMonitoring call supersedes the
// running session, stopping it first. Alert delivery (notification, history
// persistence, critical-anomaly escalation) is dispatched through a worker
// pool so a slow sink never stalls the poll loop.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/healthbridge/lifecycle"
	"github.com/c360/healthbridge/manager"
	"github.com/c360/healthbridge/metric"
	"github.com/c360/healthbridge/notify"
	"github.com/c360/healthbridge/pkg/buffer"
	"github.com/c360/healthbridge/pkg/worker"
	"github.com/c360/healthbridge/storage"
	"github.com/c360/healthbridge/telemetry"
	"github.com/c360/healthbridge/types"
)

// Defaults
const (
	// DefaultPollInterval is the fixed poll cadence while monitoring.
	DefaultPollInterval = 30 * time.Second

	// DefaultBufferCap caps a session's retained data points.
	DefaultBufferCap = 1000

	// fetchWindow is how far back each poll reads through the manager.
	fetchWindow = 5 * time.Minute

	// freshWindow bounds which fetched points are treated as new; older
	// points are stale reads and must not re-alert.
	freshWindow = 2 * time.Minute
)

// Monitor states
const (
	StateIdle       = "idle"
	StateMonitoring = "monitoring"
)

// DataSource is the read surface the monitor polls. *manager.Manager
// satisfies it.
type DataSource interface {
	GetHealthData(ctx context.Context, dataType types.DataType, opts manager.ReadOptions) *types.UnifiedResponse
}

// Session is a snapshot of one monitoring session.
type Session struct {
	ID         string            `json:"id"`
	PatientID  string            `json:"patient_id"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    time.Time         `json:"end_time"`
	Active     bool              `json:"active"`
	Thresholds []types.Threshold `json:"thresholds"`
	AlertCount int               `json:"alert_count"`
	DataPoints int               `json:"data_points"`
}

// session is the live session plus the state the poll loop owns.
type session struct {
	Session
	points *buffer.Ring[types.HealthMetric]

	// latest processed timestamp per type; polls overlap the fetch window,
	// so anything at or before this mark has already been evaluated.
	seen map[types.DataType]time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Config assembles the monitor.
type Config struct {
	Source    DataSource
	Logger    *slog.Logger
	Notifier  notify.Scheduler
	Events    notify.EventPublisher // optional; critical-anomaly escalation
	Store     storage.Store         // optional; alert history persistence
	Telemetry telemetry.Sink
	Metrics   *metric.Metrics
	Lifecycle lifecycle.Signal // optional; background-task registration

	PollInterval time.Duration
	BufferCap    int
	HistoryCap   int

	// Thresholds overrides the built-in defaults used when StartMonitoring
	// is called without explicit thresholds.
	Thresholds []types.Threshold
}

// Service is the real-time monitor. Safe for concurrent use.
type Service struct {
	mu   sync.Mutex
	sess *session

	source     DataSource
	logger     *slog.Logger
	notifier   notify.Scheduler
	events     notify.EventPublisher
	store      storage.Store
	telemetry  telemetry.Sink
	metrics    *metric.Metrics
	signal     lifecycle.Signal
	interval   time.Duration
	bufferCap  int
	historyCap int
	defaults   []types.Threshold

	pool        *worker.Pool[Alert]
	unsubscribe func()
	now         func() time.Time
}

// New creates the monitor. ctx bounds the alert dispatch pool.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("monitor.New: data source is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewSlogScheduler(cfg.Logger)
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.NewSlogSink(cfg.Logger)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BufferCap <= 0 {
		cfg.BufferCap = DefaultBufferCap
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = DefaultThresholds()
	}

	s := &Service{
		source:     cfg.Source,
		logger:     cfg.Logger.With("component", "monitor"),
		notifier:   cfg.Notifier,
		events:     cfg.Events,
		store:      cfg.Store,
		telemetry:  cfg.Telemetry,
		metrics:    cfg.Metrics,
		signal:     cfg.Lifecycle,
		interval:   cfg.PollInterval,
		bufferCap:  cfg.BufferCap,
		historyCap: cfg.HistoryCap,
		defaults:   cfg.Thresholds,
		now:        time.Now,
	}

	s.pool = worker.NewPool(2, 64, s.dispatch)
	if err := s.pool.Start(ctx); err != nil {
		return nil, fmt.Errorf("monitor.New: start dispatch pool: %w", err)
	}
	return s, nil
}

// State returns "idle" or "monitoring".
func (s *Service) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != nil && s.sess.Active {
		return StateMonitoring
	}
	return StateIdle
}

// Session returns a snapshot of the current or most recent session, or nil
// if none was ever started.
func (s *Service) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil
	}
	snap := s.sess.Session
	snap.DataPoints = s.sess.points.Len()
	return &snap
}

// StartMonitoring begins a new session for patientID, superseding any
// running session. Nil or empty thresholds fall back to DefaultThresholds.
// Returns the new session ID.
func (s *Service) StartMonitoring(ctx context.Context, patientID string, thresholds []types.Threshold) (string, error) {
	if patientID == "" {
		return "", fmt.Errorf("monitor.StartMonitoring: patient id is required")
	}
	if len(thresholds) == 0 {
		thresholds = s.defaults
	}

	s.mu.Lock()
	prev := s.stopLocked()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{
		Session: Session{
			ID:         uuid.NewString(),
			PatientID:  patientID,
			StartTime:  s.now(),
			Active:     true,
			Thresholds: thresholds,
		},
		points: buffer.NewRing[types.HealthMetric](s.bufferCap),
		seen:   make(map[types.DataType]time.Time),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.sess = sess

	if s.signal != nil && s.unsubscribe == nil {
		// Background-task registration: monitoring keeps running while
		// the app is backgrounded, so transitions are only logged.
		s.unsubscribe = s.signal.Subscribe(func(_, to lifecycle.State) {
			s.logger.Info("lifecycle transition while monitoring", "state", to)
		})
	}
	s.mu.Unlock()

	if prev != nil {
		<-prev.done
		s.logger.Info("superseded prior session", "session_id", prev.ID)
	}

	go s.pollLoop(loopCtx, sess)

	s.logger.Info("monitoring started",
		"session_id", sess.ID, "patient_id", patientID, "thresholds", len(thresholds))
	return sess.ID, nil
}

// UpdateThresholds replaces the active session's thresholds without
// restarting the poll loop.
func (s *Service) UpdateThresholds(thresholds []types.Threshold) error {
	if len(thresholds) == 0 {
		return fmt.Errorf("monitor.UpdateThresholds: thresholds are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || !s.sess.Active {
		return fmt.Errorf("monitor.UpdateThresholds: no active session")
	}
	s.sess.Thresholds = thresholds
	return nil
}

// StopMonitoring finalizes and returns the active session, or nil when idle.
func (s *Service) StopMonitoring() *Session {
	s.mu.Lock()
	sess := s.stopLocked()
	s.mu.Unlock()

	if sess == nil {
		return nil
	}
	<-sess.done

	s.mu.Lock()
	snap := sess.Session
	snap.DataPoints = sess.points.Len()
	s.mu.Unlock()

	s.logger.Info("monitoring stopped",
		"session_id", snap.ID, "alerts", snap.AlertCount, "data_points", snap.DataPoints)
	return &snap
}

// stopLocked finalizes the active session and returns it; the caller must
// wait on its done channel outside the lock.
func (s *Service) stopLocked() *session {
	sess := s.sess
	if sess == nil || !sess.Active {
		return nil
	}
	sess.Active = false
	sess.EndTime = s.now()
	sess.cancel()
	return sess
}

// Close stops monitoring and the dispatch pool.
func (s *Service) Close() {
	s.StopMonitoring()

	s.mu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.mu.Unlock()

	if err := s.pool.Stop(5 * time.Second); err != nil {
		s.logger.Warn("dispatch pool stop", "error", err)
	}
}

// pollLoop runs one poll immediately, then on the fixed interval until the
// session is cancelled.
func (s *Service) pollLoop(ctx context.Context, sess *session) {
	defer close(sess.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.poll(ctx, sess)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx, sess)
		}
	}
}

// poll fetches recent readings for every enabled threshold type, appends the
// genuinely new ones to the session buffer, and evaluates anomalies.
func (s *Service) poll(ctx context.Context, sess *session) {
	s.mu.Lock()
	thresholds := make([]types.Threshold, len(sess.Thresholds))
	copy(thresholds, sess.Thresholds)
	s.mu.Unlock()

	now := s.now()
	for _, th := range thresholds {
		if !th.Enabled {
			continue
		}

		resp := s.source.GetHealthData(ctx, th.Type, manager.ReadOptions{
			Start: now.Add(-fetchWindow),
			End:   now,
		})
		if resp == nil || !resp.Success {
			s.telemetry.TrackError(fmt.Errorf("monitor poll failed for %s", th.Type), map[string]any{
				"session_id": sess.ID,
				"data_type":  string(th.Type),
			})
			continue
		}

		for _, m := range resp.Data {
			if !s.accept(sess, m, now) {
				continue
			}
			history := sessionHistory(sess, m.Type, m.ID)
			sess.points.Append(m)
			for _, anomaly := range Detect(m, th, history) {
				s.raiseAlert(sess, anomaly)
			}
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// accept reports whether m is a genuinely new reading for this session and
// records its timestamp as processed.
func (s *Service) accept(sess *session, m types.HealthMetric, now time.Time) bool {
	if m.Timestamp.Before(now.Add(-freshWindow)) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := sess.seen[m.Type]; ok && !m.Timestamp.After(last) {
		return false
	}
	sess.seen[m.Type] = m.Timestamp
	return true
}

// sessionHistory returns prior same-type values from the session buffer,
// excluding the reading under evaluation.
func sessionHistory(sess *session, dt types.DataType, excludeID string) []float64 {
	points := sess.points.Filter(func(m types.HealthMetric) bool {
		return m.Type == dt && m.ID != excludeID
	})
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	return values
}
