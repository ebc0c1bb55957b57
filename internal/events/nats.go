package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"stitchsentry/internal/logging"
)

// NatsPublisher publishes events to a NATS server on per-organization
// subjects: "<prefix>.org.<organization id>".
type NatsPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNatsPublisher connects to the NATS server. The connection reconnects
// indefinitely; publishes while disconnected are buffered by the client.
func NewNatsPublisher(url, subjectPrefix string, logger *slog.Logger) (*NatsPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("stitchsentry"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NatsPublisher{
		conn:   conn,
		prefix: subjectPrefix,
		logger: logging.NewComponentLogger(logger, "events"),
	}, nil
}

// Publish sends the event. Failures are logged and swallowed; progress
// delivery is best effort.
func (p *NatsPublisher) Publish(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "encode event", logging.Error(err))
		return
	}
	subject := fmt.Sprintf("%s.org.%s", p.prefix, event.OrganizationID)
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.WarnContext(ctx, "publish event failed",
			logging.String("subject", subject),
			logging.Int64(logging.FieldRunID, event.RunID),
			logging.Error(err))
	}
}

// Close drains the connection.
func (p *NatsPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}
