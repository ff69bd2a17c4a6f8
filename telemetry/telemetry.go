// Package telemetry defines the fire-and-forget error reporting sink.
// Tracking an error must never block, fail, or panic the calling path;
// implementations that cannot honor that contract do not belong here.
package telemetry

import (
	"log/slog"
)

// Sink receives error reports with structured context.
type Sink interface {
	// TrackError reports err with attached context. Fire-and-forget.
	TrackError(err error, context map[string]any)
}

// SlogSink reports errors to a structured logger. The default sink.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink writing to logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger.With("component", "telemetry")}
}

// TrackError implements Sink.
func (s *SlogSink) TrackError(err error, context map[string]any) {
	defer func() {
		// A reporting failure must never take down the caller.
		_ = recover()
	}()

	if err == nil {
		return
	}

	attrs := make([]any, 0, 2+2*len(context))
	attrs = append(attrs, "error", err)
	for k, v := range context {
		attrs = append(attrs, k, v)
	}
	s.logger.Error("tracked error", attrs...)
}

// Nop discards every report. Useful in tests.
type Nop struct{}

// TrackError implements Sink.
func (Nop) TrackError(error, map[string]any) {}
