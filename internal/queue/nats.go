// internal/queue/nats.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/fawad-mazhar/syros/internal/models"
)

// Publisher pushes run/task status events to NATS so operators can watch a
// long translation run without polling the HTTP API. Delivery is
// best-effort; the engine treats publish failures as log-only.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// NewPublisher connects to the NATS server at url and publishes on subject.
func NewPublisher(url, subject string) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("syros"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if subject == "" {
		subject = "syros.status"
	}
	return &Publisher{conn: conn, subject: subject}, nil
}

// PublishStatus sends one status message. The context bounds the flush.
func (p *Publisher) PublishStatus(ctx context.Context, msg *models.StatusMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal status message: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush status: %w", err)
	}
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	p.conn.Drain()
}
