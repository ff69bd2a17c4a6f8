package monitor

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/healthbridge/notify"
	"github.com/c360/healthbridge/storage"
	"github.com/c360/healthbridge/types"
)

// DefaultHistoryCap caps the persisted alert history per patient.
const DefaultHistoryCap = 100

// Alert is one raised anomaly, ready for delivery and persistence.
type Alert struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	PatientID      string         `json:"patient_id"`
	DataType       types.DataType `json:"data_type"`
	Value          float64        `json:"value"`
	Severity       Severity       `json:"severity"`
	Kind           string         `json:"kind"`
	Message        string         `json:"message"`
	Recommendation string         `json:"recommendation"`
	Timestamp      time.Time      `json:"timestamp"`
}

// recommendations maps a data type to the guidance attached to its alerts.
var recommendations = map[types.DataType]string{
	types.TypeHeartRate:        "Sit down, rest, and re-measure in a few minutes.",
	types.TypeOxygenSaturation: "Sit upright, breathe deeply, and re-measure. Seek care if this persists.",
	types.TypeBloodPressureSys: "Rest for five minutes and re-measure with your arm supported.",
	types.TypeBloodPressureDia: "Rest for five minutes and re-measure with your arm supported.",
	types.TypeRespiratoryRate:  "Rest and monitor your breathing. Seek care if breathing feels labored.",
	types.TypeBodyTemperature:  "Stay hydrated and re-measure in thirty minutes.",
}

// recommendationFor builds the guidance string for an alert.
func recommendationFor(dt types.DataType, severity Severity) string {
	rec, ok := recommendations[dt]
	if !ok {
		rec = "Re-measure and consult your care team if the reading persists."
	}
	if severity == SeverityCritical {
		return "Contact your care provider now. " + rec
	}
	return rec
}

// raiseAlert turns one anomaly into an Alert, counts it on the session, and
// hands delivery to the dispatch pool.
func (s *Service) raiseAlert(sess *session, a Anomaly) {
	alert := Alert{
		ID:             uuid.NewString(),
		SessionID:      sess.ID,
		PatientID:      sess.PatientID,
		DataType:       a.Metric.Type,
		Value:          a.Metric.Value,
		Severity:       a.Severity,
		Kind:           a.Kind,
		Message:        a.Message,
		Recommendation: recommendationFor(a.Metric.Type, a.Severity),
		Timestamp:      a.Metric.Timestamp,
	}

	s.mu.Lock()
	sess.AlertCount++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.AlertsTotal.WithLabelValues(string(a.Severity)).Inc()
	}
	s.logger.Warn("anomaly detected",
		"session_id", sess.ID, "data_type", alert.DataType,
		"value", alert.Value, "severity", alert.Severity, "kind", alert.Kind)

	if err := s.pool.Submit(alert); err != nil {
		s.telemetry.TrackError(err, map[string]any{
			"session_id": sess.ID,
			"alert_id":   alert.ID,
		})
	}
}

// dispatch delivers one alert: local notification, persisted history, and
// for critical severity the escalation event. Runs on the worker pool.
func (s *Service) dispatch(ctx context.Context, alert Alert) error {
	priority := notify.PriorityHigh
	if alert.Severity == SeverityCritical {
		priority = notify.PriorityUrgent
	}
	s.notifier.ScheduleNotification(ctx, notify.Notification{
		Title:    fmt.Sprintf("Health alert: %s", alert.DataType),
		Body:     alert.Message + " " + alert.Recommendation,
		Priority: priority,
	})

	if s.store != nil {
		if err := s.persistAlert(ctx, alert); err != nil {
			s.telemetry.TrackError(err, map[string]any{
				"alert_id":   alert.ID,
				"patient_id": alert.PatientID,
			})
		}
	}

	if alert.Severity == SeverityCritical && s.events != nil {
		err := s.events.PublishCriticalAnomaly(ctx, notify.AnomalyEvent{
			SessionID: alert.SessionID,
			PatientID: alert.PatientID,
			AlertID:   alert.ID,
			DataType:  alert.DataType,
			Value:     alert.Value,
			Severity:  string(alert.Severity),
			Message:   alert.Message,
			Timestamp: alert.Timestamp,
		})
		if err != nil {
			s.telemetry.TrackError(err, map[string]any{"alert_id": alert.ID})
			return err
		}
	}
	return nil
}

// historyKey is the store key for a patient's alert history.
func historyKey(patientID string) string {
	return fmt.Sprintf("alerts:%s", patientID)
}

// persistAlert appends the alert to the patient's capped history, dropping
// the oldest entries past the cap.
func (s *Service) persistAlert(ctx context.Context, alert Alert) error {
	key := historyKey(alert.PatientID)

	history, err := s.loadHistory(ctx, key)
	if err != nil {
		return err
	}

	history = append(history, alert)
	if len(history) > s.historyCap {
		history = history[len(history)-s.historyCap:]
	}

	payload, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("monitor: marshal alert history: %w", err)
	}
	return s.store.SetItem(ctx, key, payload)
}

// AlertHistory returns the persisted alerts for a patient, oldest first.
func (s *Service) AlertHistory(ctx context.Context, patientID string) ([]Alert, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.loadHistory(ctx, historyKey(patientID))
}

func (s *Service) loadHistory(ctx context.Context, key string) ([]Alert, error) {
	raw, err := s.store.GetItem(ctx, key)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var history []Alert
	if err := json.Unmarshal(raw, &history); err != nil {
		// A corrupt history is dropped rather than blocking new alerts.
		s.logger.Warn("discarding corrupt alert history", "key", key, "error", err)
		return nil, nil
	}
	return history, nil
}
