package audit

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes events to a zap logger. Used when no database is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink on logger
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

// WriteEvents logs each event at info level
func (s *LogSink) WriteEvents(_ context.Context, events []Event) error {
	for _, e := range events {
		fields := []zap.Field{
			zap.String("id", e.ID),
			zap.Time("time", e.Time),
			zap.String("operation", e.Operation),
			zap.String("outcome", string(e.Outcome)),
			zap.String("from", e.FromState),
			zap.String("to", e.ToState),
			zap.Uint64("generation", e.Generation),
		}
		if e.Username != "" {
			fields = append(fields, zap.String("username", e.Username))
		}
		if e.Fingerprint != "" {
			fields = append(fields, zap.String("device_fingerprint", e.Fingerprint))
		}
		if e.RiskScore != nil {
			fields = append(fields, zap.Int("risk_score", *e.RiskScore), zap.String("risk_level", e.RiskLevel))
		}
		if e.ErrorKind != "" {
			fields = append(fields, zap.String("error_kind", e.ErrorKind))
		}
		if e.Message != "" {
			fields = append(fields, zap.String("message", e.Message))
		}
		s.logger.Info("audit", fields...)
	}
	return nil
}
