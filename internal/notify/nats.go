// Package notify provides the broker-backed notification sink. Displays that
// live outside this process (or a future aggregation service) subscribe to
// the tickets subject instead of holding an SSE connection.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/preplinehq/prepline/internal/tickets"
)

// DefaultSubject is the NATS subject ticket queue events are published on.
const DefaultSubject = "prepline.tickets"

// NATSNotifier publishes ticket events as JSON to a NATS subject.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

// NewNATSNotifier connects to the NATS server at url. An empty subject falls
// back to DefaultSubject.
func NewNATSNotifier(url, subject string) (*NATSNotifier, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSNotifier{conn: conn, subject: subject}, nil
}

// Notify implements tickets.Notifier.
func (n *NATSNotifier) Notify(_ context.Context, event tickets.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.conn.Publish(n.subject, payload)
}

// Close drains the underlying connection.
func (n *NATSNotifier) Close() error {
	n.conn.Close()
	return nil
}
