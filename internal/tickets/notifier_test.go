package tickets

import (
	"context"
	"errors"
	"testing"
)

type failingNotifier struct {
	err error
}

func (n failingNotifier) Notify(context.Context, Event) error {
	return n.err
}

func TestMultiNotifierDeliversToEverySinkDespiteFailures(t *testing.T) {
	first := &recordingNotifier{}
	second := &recordingNotifier{}
	failure := errors.New("broker down")

	notifier := MultiNotifier(first, failingNotifier{err: failure}, nil, second)

	err := notifier.Notify(context.Background(), Event{Kind: EventTicketCreated})
	if !errors.Is(err, failure) {
		t.Fatalf("expected the sink failure to surface, got %v", err)
	}
	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("expected both healthy sinks to receive the event")
	}
}

func TestMultiNotifierSucceedsWithHealthySinks(t *testing.T) {
	sink := &recordingNotifier{}
	notifier := MultiNotifier(sink)

	if err := notifier.Notify(context.Background(), Event{Kind: EventTicketUpdated}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected one delivered event, got %d", len(sink.events))
	}
}
