package recovery

import (
	"context"
	"time"

	"github.com/c360/healthbridge/datacache"
	"github.com/c360/healthbridge/errors"
	"github.com/c360/healthbridge/types"
)

// Fallback is the action taken when retry is exhausted or disallowed.
type Fallback string

// Fallback actions
const (
	FallbackCache          Fallback = "cache"
	FallbackOffline        Fallback = "offline"
	FallbackDegradedMode   Fallback = "degraded_mode"
	FallbackEmergencyCache Fallback = "emergency_cache"
	FallbackNone           Fallback = "none"
)

// UserAction is the user-visible consequence of a failure.
type UserAction string

// User actions
const (
	ActionNotify           UserAction = "notify"
	ActionSilent           UserAction = "silent"
	ActionPromptSettings   UserAction = "prompt_settings"
	ActionAlertDoctor      UserAction = "alert_doctor"
	ActionEmergencyContact UserAction = "emergency_contact"
)

// Age limits for cache-based fallbacks.
const (
	CacheFallbackMaxAge     = time.Hour
	EmergencyFallbackMaxAge = 24 * time.Hour
)

// Strategy describes how to recover from a classified failure.
type Strategy struct {
	ShouldRetry bool
	RetryDelay  time.Duration
	MaxRetries  int
	Fallback    Fallback
	UserAction  UserAction
	Priority    int // higher is more urgent
}

// Signals carries optional device state that shapes the strategy. Nil fields
// mean the signal is unknown.
type Signals struct {
	Online         *bool
	BatteryLevel   *float64 // 0..1
	MemoryPressure *bool
}

// Incident identifies the failing operation for analysis and fallback.
type Incident struct {
	Service  string
	DataType types.DataType
	Start    time.Time
	End      time.Time
	Signals  Signals
}

// RecoveryResult is the outcome of ExecuteRecovery. Data comes from a retry
// or a cache tier; it is never fabricated.
type RecoveryResult struct {
	Recovered bool
	Data      []types.HealthMetric
	Source    string // "retry", "cache", "emergency_cache", "degraded", "none"
	Strategy  Strategy
}

// AnalyzeError classifies an error and produces a recovery strategy,
// consulting the implicated service's breaker and the device signals.
func (s *Service) AnalyzeError(err error, inc Incident) Strategy {
	class := errors.Classify(err)
	strategy := baseStrategy(class)

	// An open circuit vetoes retry outright.
	if inc.Service != "" && !s.IsServiceAvailable(inc.Service) {
		strategy.ShouldRetry = false
		strategy.MaxRetries = 0
		if strategy.Fallback == FallbackNone {
			strategy.Fallback = FallbackCache
		}
	}

	// Offline: retrying cannot help; fall back immediately and tell the user.
	if inc.Signals.Online != nil && !*inc.Signals.Online {
		strategy.ShouldRetry = false
		strategy.MaxRetries = 0
		strategy.Fallback = FallbackOffline
		strategy.UserAction = ActionNotify
	}

	// Low battery: one retry at most, then lean on cache.
	if inc.Signals.BatteryLevel != nil && *inc.Signals.BatteryLevel < 0.2 {
		if strategy.ShouldRetry && strategy.MaxRetries > 1 {
			strategy.MaxRetries = 1
		}
		if strategy.Fallback == FallbackNone {
			strategy.Fallback = FallbackCache
		}
	}

	// Memory pressure: skip retries, their buffers are what we cannot afford.
	if inc.Signals.MemoryPressure != nil && *inc.Signals.MemoryPressure {
		strategy.ShouldRetry = false
		strategy.MaxRetries = 0
	}

	return strategy
}

// baseStrategy maps an error class to its default strategy.
func baseStrategy(class errors.ErrorClass) Strategy {
	switch class {
	case errors.ErrorNetwork:
		return Strategy{ShouldRetry: true, RetryDelay: 2 * time.Second, MaxRetries: 3,
			Fallback: FallbackCache, UserAction: ActionSilent, Priority: 2}
	case errors.ErrorTimeout:
		return Strategy{ShouldRetry: true, RetryDelay: 5 * time.Second, MaxRetries: 2,
			Fallback: FallbackCache, UserAction: ActionSilent, Priority: 2}
	case errors.ErrorRateLimited:
		return Strategy{ShouldRetry: true, RetryDelay: 30 * time.Second, MaxRetries: 1,
			Fallback: FallbackCache, UserAction: ActionSilent, Priority: 1}
	case errors.ErrorPermissionDenied:
		return Strategy{Fallback: FallbackNone, UserAction: ActionPromptSettings, Priority: 4}
	case errors.ErrorServiceBinding:
		return Strategy{Fallback: FallbackDegradedMode, UserAction: ActionNotify, Priority: 4}
	case errors.ErrorDeviceUnavailable:
		return Strategy{Fallback: FallbackOffline, UserAction: ActionNotify, Priority: 3}
	case errors.ErrorDataCorruption:
		return Strategy{Fallback: FallbackEmergencyCache, UserAction: ActionNotify, Priority: 4}
	default: // transient; defaulted non-retryable to avoid loops on unknowns
		return Strategy{Fallback: FallbackCache, UserAction: ActionSilent, Priority: 1}
	}
}

// RetryFunc re-runs the failed operation.
type RetryFunc func(ctx context.Context) ([]types.HealthMetric, error)

// ExecuteRecovery applies a strategy: retry via the callback when allowed,
// otherwise execute the fallback. Cache fallbacks serve stale data up to
// their age limit; degraded mode returns an empty placeholder. Synthetic
// data is never an outcome.
func (s *Service) ExecuteRecovery(ctx context.Context, err error, inc Incident, retryFn RetryFunc) RecoveryResult {
	strategy := s.AnalyzeError(err, inc)

	s.telemetry.TrackError(err, map[string]any{
		"service":   inc.Service,
		"data_type": string(inc.DataType),
		"fallback":  string(strategy.Fallback),
		"retry":     strategy.ShouldRetry,
	})

	if strategy.ShouldRetry && retryFn != nil {
		for attempt := 1; attempt <= strategy.MaxRetries; attempt++ {
			if strategy.RetryDelay > 0 {
				timer := time.NewTimer(strategy.RetryDelay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return RecoveryResult{Source: "none", Strategy: strategy}
				case <-timer.C:
				}
			}

			data, retryErr := retryFn(ctx)
			if retryErr == nil {
				s.RecordSuccess(inc.Service)
				return RecoveryResult{Recovered: true, Data: data, Source: "retry", Strategy: strategy}
			}
			s.RecordFailure(inc.Service)
			s.logger.Debug("recovery retry failed",
				"service", inc.Service, "attempt", attempt, "error", retryErr)
		}
	}

	return s.executeFallback(ctx, inc, strategy)
}

// executeFallback serves the strategy's fallback action.
func (s *Service) executeFallback(ctx context.Context, inc Incident, strategy Strategy) RecoveryResult {
	switch strategy.Fallback {
	case FallbackCache, FallbackOffline:
		if data, ok := s.cacheLookup(ctx, inc, CacheFallbackMaxAge); ok {
			return RecoveryResult{Recovered: true, Data: data, Source: "cache", Strategy: strategy}
		}
	case FallbackEmergencyCache:
		if data, ok := s.cacheLookup(ctx, inc, EmergencyFallbackMaxAge); ok {
			return RecoveryResult{Recovered: true, Data: data, Source: "emergency_cache", Strategy: strategy}
		}
	case FallbackDegradedMode:
		// Degraded mode is an explicit empty placeholder, not invented data.
		return RecoveryResult{Recovered: true, Data: []types.HealthMetric{}, Source: "degraded", Strategy: strategy}
	}

	return RecoveryResult{Source: "none", Strategy: strategy}
}

func (s *Service) cacheLookup(ctx context.Context, inc Incident, maxAge time.Duration) ([]types.HealthMetric, bool) {
	if s.dataCache == nil || inc.DataType == "" {
		return nil, false
	}
	return s.dataCache.Get(ctx, inc.DataType, inc.Start, inc.End,
		datacache.GetOptions{IgnoreTTL: true, MaxAge: maxAge})
}
