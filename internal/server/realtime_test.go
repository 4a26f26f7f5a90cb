package server

import (
	"context"
	"testing"
	"time"

	"github.com/preplinehq/prepline/internal/tickets"
)

func TestDispatcherRoutesEventsByCategory(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kitchenStream, kitchenCleanup := dispatcher.Subscribe(ctx, "kitchen")
	defer kitchenCleanup()
	barStream, barCleanup := dispatcher.Subscribe(ctx, "bar")
	defer barCleanup()

	dispatcher.Publish(tickets.Event{Kind: tickets.EventTicketCreated, Category: "kitchen"})

	select {
	case event := <-kitchenStream:
		if event.Category != "kitchen" {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("kitchen subscriber did not receive its event")
	}

	select {
	case event := <-barStream:
		t.Fatalf("bar subscriber received foreign event: %+v", event)
	default:
	}
}

func TestDispatcherBroadcastsUncategorizedEvents(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kitchenStream, cleanup := dispatcher.Subscribe(ctx, "kitchen")
	defer cleanup()
	allStream, allCleanup := dispatcher.Subscribe(ctx, "")
	defer allCleanup()

	dispatcher.Publish(tickets.Event{Kind: tickets.EventTicketsDeleted, TabID: "tab-1"})

	for name, stream := range map[string]<-chan tickets.Event{"kitchen": kitchenStream, "all": allStream} {
		select {
		case event := <-stream:
			if event.Kind != tickets.EventTicketsDeleted {
				t.Fatalf("unexpected event on %s stream: %+v", name, event)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s subscriber did not receive the broadcast", name)
		}
	}
}

func TestDispatcherCatchAllSubscriberSeesCategorizedEvents(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	allStream, cleanup := dispatcher.Subscribe(ctx, "")
	defer cleanup()

	dispatcher.Publish(tickets.Event{Kind: tickets.EventTicketUpdated, Category: "bar"})

	select {
	case event := <-allStream:
		if event.Category != "bar" {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("catch-all subscriber did not receive the event")
	}
}

func TestDispatcherDropsEventsForSlowSubscribers(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	dispatcher.bufferSize = 1
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "kitchen")
	defer cleanup()

	dispatcher.Publish(tickets.Event{Kind: tickets.EventTicketCreated, Category: "kitchen"})
	dispatcher.Publish(tickets.Event{Kind: tickets.EventTicketUpdated, Category: "kitchen"})

	<-stream
	select {
	case event := <-stream:
		t.Fatalf("expected second event to be dropped, got %+v", event)
	default:
	}
}

func TestDispatcherCleanupStopsDelivery(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "kitchen")
	cleanup()

	dispatcher.Publish(tickets.Event{Kind: tickets.EventTicketCreated, Category: "kitchen"})

	select {
	case event, ok := <-stream:
		if ok {
			t.Fatalf("unsubscribed stream received event: %+v", event)
		}
	default:
	}
}
