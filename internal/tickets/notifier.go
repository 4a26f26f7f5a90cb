package tickets

import (
	"context"
	"errors"
)

// EventKind names a queue mutation broadcast to displays.
type EventKind string

const (
	EventTicketCreated    EventKind = "ticket-created"
	EventTicketUpdated    EventKind = "ticket-updated"
	EventTicketsDeleted   EventKind = "tickets-deleted"
	EventTicketsReordered EventKind = "tickets-reordered"
)

// Event is the fire-and-forget payload delivered to notification sinks.
// Category is empty on events that span categories (bulk deletion); sinks
// should treat those as relevant to every display.
type Event struct {
	Kind      EventKind `json:"kind"`
	Ticket    *Ticket   `json:"ticket,omitempty"`
	TabID     string    `json:"tabId,omitempty"`
	Category  Category  `json:"category,omitempty"`
	TicketIDs []string  `json:"ticketIds,omitempty"`
}

// Notifier receives queue mutation events. Delivery is best-effort: the
// service logs a failed Notify and carries on, it never fails the mutation.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type nopNotifier struct{}

// NewNopNotifier returns a Notifier that discards every event.
func NewNopNotifier() Notifier {
	return nopNotifier{}
}

func (nopNotifier) Notify(context.Context, Event) error {
	return nil
}

type multiNotifier []Notifier

// MultiNotifier fans events out to every sink. Each sink is attempted even
// when an earlier one fails; failures are joined into one error.
func MultiNotifier(sinks ...Notifier) Notifier {
	filtered := make(multiNotifier, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}
	return filtered
}

func (m multiNotifier) Notify(ctx context.Context, event Event) error {
	var failures []error
	for _, sink := range m {
		if err := sink.Notify(ctx, event); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}
