package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/healthbridge/errors"
	"github.com/c360/healthbridge/types"
)

// CriticalAnomalySubject is the subject escalation events publish to.
// Care-team services subscribe here to drive provider-escalation workflows.
const CriticalAnomalySubject = "healthbridge.anomaly.critical"

// AnomalyEvent is the escalation payload for a critical anomaly.
type AnomalyEvent struct {
	SessionID string         `json:"session_id"`
	PatientID string         `json:"patient_id"`
	AlertID   string         `json:"alert_id"`
	DataType  types.DataType `json:"data_type"`
	Value     float64        `json:"value"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventPublisher emits critical-anomaly escalation events.
type EventPublisher interface {
	PublishCriticalAnomaly(ctx context.Context, event AnomalyEvent) error
}

// NATSPublisher publishes escalation events to a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher creates a publisher on the default subject.
func NewNATSPublisher(conn *nats.Conn, logger *slog.Logger) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{
		conn:    conn,
		subject: CriticalAnomalySubject,
		logger:  logger.With("component", "notify", "subject", CriticalAnomalySubject),
	}
}

// PublishCriticalAnomaly implements EventPublisher.
func (p *NATSPublisher) PublishCriticalAnomaly(_ context.Context, event AnomalyEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "notify", "publishCriticalAnomaly", "marshal event")
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		return errors.WrapNetwork(err, "notify", "publishCriticalAnomaly", "publish event")
	}

	p.logger.Info("critical anomaly escalated",
		"patient_id", event.PatientID, "data_type", event.DataType, "value", event.Value)
	return nil
}

// EventRecorder captures escalation events for test assertions.
type EventRecorder struct {
	mu     sync.Mutex
	events []AnomalyEvent
}

// PublishCriticalAnomaly implements EventPublisher.
func (r *EventRecorder) PublishCriticalAnomaly(_ context.Context, event AnomalyEvent) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *EventRecorder) Events() []AnomalyEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AnomalyEvent, len(r.events))
	copy(out, r.events)
	return out
}
