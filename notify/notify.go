// Package notify owns outbound alerting: the local notification scheduler
// contract used by the monitor, and the escalation event publisher that
// drives provider-escalation workflows for critical anomalies.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Priority orders notification channels.
type Priority string

// Notification priorities. Urgent maps to the platform's max-priority
// channel and is reserved for critical anomalies.
const (
	PriorityDefault Priority = "default"
	PriorityHigh    Priority = "high"
	PriorityUrgent  Priority = "urgent"
)

// Notification is one local notification payload.
type Notification struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Priority Priority `json:"priority"`
}

// Scheduler delivers local notifications. Fire-and-forget: implementations
// must not block the calling path and must swallow their own failures.
type Scheduler interface {
	ScheduleNotification(ctx context.Context, n Notification)
}

// SlogScheduler logs notifications instead of delivering them. Used in
// server-side deployments and as the default when no platform scheduler is
// wired.
type SlogScheduler struct {
	logger *slog.Logger
}

// NewSlogScheduler creates a logging scheduler.
func NewSlogScheduler(logger *slog.Logger) *SlogScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogScheduler{logger: logger.With("component", "notify")}
}

// ScheduleNotification implements Scheduler.
func (s *SlogScheduler) ScheduleNotification(_ context.Context, n Notification) {
	s.logger.Info("notification", "title", n.Title, "priority", n.Priority)
}

// Recorder captures notifications for test assertions.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

// ScheduleNotification implements Scheduler.
func (r *Recorder) ScheduleNotification(_ context.Context, n Notification) {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
}

// Sent returns a copy of everything recorded so far.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}
