package events

import (
	"context"
	"log/slog"

	"stitchsentry/internal/logging"
)

// LogPublisher writes events to the log. It is the fallback when no NATS
// server is configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher returns a publisher backed by the supplied logger.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logging.NewComponentLogger(logger, "events")}
}

// Publish logs the event at info level.
func (p *LogPublisher) Publish(ctx context.Context, event Event) {
	p.logger.InfoContext(ctx, "run progress",
		logging.String(logging.FieldEventType, event.Type),
		logging.String(logging.FieldOrgID, event.OrganizationID),
		logging.Int64(logging.FieldRunID, event.RunID),
		logging.String("status", event.Status),
		logging.String(logging.FieldStage, event.Stage),
		logging.Int("percent", event.Percent),
		logging.String("message", event.Message))
}

// Close is a no-op.
func (p *LogPublisher) Close() {}

// NewPublisher returns a NATS publisher when a URL is configured, otherwise
// the log fallback. Connection failures also fall back to the log so the
// daemon keeps processing runs.
func NewPublisher(natsURL, subjectPrefix string, logger *slog.Logger) Publisher {
	if natsURL == "" {
		return NewLogPublisher(logger)
	}
	pub, err := NewNatsPublisher(natsURL, subjectPrefix, logger)
	if err != nil {
		logging.NewComponentLogger(logger, "events").Warn("nats unavailable, logging events instead",
			logging.Error(err))
		return NewLogPublisher(logger)
	}
	return pub
}
