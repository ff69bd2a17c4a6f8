// Package health tracks per-service health for the subsystem: each service
// (providers, manager, cache, syncer) reports a Status, and the Monitor
// aggregates them into one system-level view the facade exposes.
package health

import (
	"fmt"
	"time"
)

// Health states
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Status is the health state of one service or the whole system.
type Status struct {
	Service     string    `json:"service"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy reports whether the status is healthy.
func (s Status) IsHealthy() bool { return s.Status == StateHealthy }

// IsDegraded reports whether the status is degraded.
func (s Status) IsDegraded() bool { return s.Status == StateDegraded }

// IsUnhealthy reports whether the status is unhealthy.
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// NewHealthy creates a healthy status.
func NewHealthy(service, message string) Status {
	return Status{
		Service:   service,
		Healthy:   true,
		Status:    StateHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded creates a degraded status.
func NewDegraded(service, message string) Status {
	return Status{
		Service:   service,
		Status:    StateDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates an unhealthy status.
func NewUnhealthy(service, message string) Status {
	return Status{
		Service:   service,
		Status:    StateUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate combines sub-statuses into one system status: unhealthy if any
// sub-status is unhealthy, degraded if any is degraded, healthy otherwise.
func Aggregate(systemName string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(systemName, "no services reporting")
	}

	healthy, degraded, unhealthy := 0, 0, 0
	for _, s := range subStatuses {
		switch {
		case s.IsUnhealthy():
			unhealthy++
		case s.IsDegraded():
			degraded++
		default:
			healthy++
		}
	}

	summary := fmt.Sprintf("%d healthy, %d degraded, %d unhealthy", healthy, degraded, unhealthy)

	var result Status
	switch {
	case unhealthy > 0:
		result = NewUnhealthy(systemName, summary)
	case degraded > 0:
		result = NewDegraded(systemName, summary)
	default:
		result = NewHealthy(systemName, summary)
	}
	result.SubStatuses = subStatuses
	return result
}
