package bus

import (
	"encoding/json"
	"log/slog"

	"github.com/cadenza-labs/synthd/internal/metrics"
)

// RecordPublisher forwards every synthesis record to a NATS subject so
// external consumers can watch the service without polling its HTTP
// surface. Publish failures are logged and dropped; the feed is advisory.
type RecordPublisher struct {
	client  *Client
	subject string
	log     *slog.Logger
}

func NewRecordPublisher(client *Client, subject string, log *slog.Logger) *RecordPublisher {
	return &RecordPublisher{
		client:  client,
		subject: subject,
		log:     log.With(slog.String("component", "record-publisher")),
	}
}

// Consume implements metrics.Sink.
func (p *RecordPublisher) Consume(rec metrics.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		p.log.Warn("failed to marshal record",
			slog.String("request_id", rec.RequestID),
			slog.String("error", err.Error()))
		return
	}
	if err := p.client.Conn().Publish(p.subject, data); err != nil {
		p.log.Warn("failed to publish record",
			slog.String("request_id", rec.RequestID),
			slog.String("subject", p.subject),
			slog.String("error", err.Error()))
	}
}

var _ metrics.Sink = (*RecordPublisher)(nil)
