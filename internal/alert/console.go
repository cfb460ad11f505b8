package alert

import (
	"context"

	"go.uber.org/zap"
)

// ConsoleSink writes events to the structured log. It is always wired
// so alerts remain visible even with no external sink configured.
type ConsoleSink struct {
	log *zap.Logger
}

// NewConsoleSink creates a console sink on the given logger.
func NewConsoleSink(log *zap.Logger) *ConsoleSink {
	return &ConsoleSink{log: log}
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Deliver(_ context.Context, ev Event) error {
	s.log.Warn("ALERT",
		zap.String("alert_id", ev.ID),
		zap.String("type", ev.Type),
		zap.String("service", ev.Service),
		zap.Int("count", ev.Count),
		zap.Int("window_seconds", ev.WindowSeconds),
		zap.Int("samples", len(ev.Samples)),
		zap.Time("timestamp", ev.Timestamp))
	return nil
}
