package querylog

import (
	"go.uber.org/zap"
)

// ZapSink renders each event as a single structured zap record.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a sink writing to the specified structured logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("querylog")}
}

// Write emits the event at info level, or at warn level for failed outcomes.
func (s *ZapSink) Write(event QueryEvent) error {
	fields := []zap.Field{
		zap.Uint64("seq", event.Seq),
		zap.Time("timestamp", event.Timestamp),
		zap.String("client", event.Client),
		zap.String("domain", event.DisplayDomain()),
		zap.Stringer("outcome", event.Outcome),
	}

	if event.HasLatency() {
		fields = append(fields, zap.Duration("latency", event.Latency))
	}

	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}

	if event.Outcome == Forwarded {
		s.logger.Info("query", fields...)
	} else {
		s.logger.Warn("query", fields...)
	}

	return nil
}

// Close flushes buffered records. Sync errors on terminals are common and not meaningful, so they
// are not reported.
func (s *ZapSink) Close() error {
	s.logger.Sync()
	return nil
}
