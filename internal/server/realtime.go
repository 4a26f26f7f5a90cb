package server

import (
	"context"
	"sync"

	"github.com/preplinehq/prepline/internal/tickets"
)

// RealtimeDispatcher fans ticket queue events out to connected station
// displays. Streams subscribe by category; subscribing with an empty category
// receives every event, and events carrying no category (bulk deletions, a
// tab's tickets span categories) reach every stream.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan tickets.Event
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for the category and returns its channel with
// a cleanup func. The subscription also ends when ctx is done.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, category string) (<-chan tickets.Event, func()) {
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan tickets.Event, d.bufferSize),
	}
	d.registerSubscriber(category, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(category, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the event to matching subscribers without blocking; a
// display that cannot keep up drops events and resyncs on its next list.
func (d *RealtimeDispatcher) Publish(event tickets.Event) {
	if event.Kind == "" {
		return
	}
	d.mu.RLock()
	var copies []*realtimeSubscriber
	if event.Category == "" {
		for _, subscribers := range d.subscribers {
			for _, subscriber := range subscribers {
				copies = append(copies, subscriber)
			}
		}
	} else {
		for _, subscriber := range d.subscribers[event.Category.String()] {
			copies = append(copies, subscriber)
		}
		for _, subscriber := range d.subscribers[""] {
			copies = append(copies, subscriber)
		}
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// Notify implements tickets.Notifier.
func (d *RealtimeDispatcher) Notify(_ context.Context, event tickets.Event) error {
	d.Publish(event)
	return nil
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(category string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[category]; !ok {
		d.subscribers[category] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[category][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(category string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[category]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, category)
		}
	}
	d.mu.Unlock()
}
