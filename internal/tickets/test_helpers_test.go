package tickets

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type recordingNotifier struct {
	events []Event
}

func (n *recordingNotifier) Notify(_ context.Context, event Event) error {
	n.events = append(n.events, event)
	return nil
}

func mustTabID(t *testing.T, value string) TabID {
	t.Helper()
	id, err := NewTabID(value)
	if err != nil {
		t.Fatalf("unexpected tab id error: %v", err)
	}
	return id
}

func mustTicketID(t *testing.T, value string) TicketID {
	t.Helper()
	id, err := NewTicketID(value)
	if err != nil {
		t.Fatalf("unexpected ticket id error: %v", err)
	}
	return id
}

func mustCategorySet(t *testing.T, names ...string) CategorySet {
	t.Helper()
	set, err := NewCategorySet(names)
	if err != nil {
		t.Fatalf("unexpected category set error: %v", err)
	}
	return set
}

// newTestService builds a service over a fresh in-memory database with a
// second-stepping clock so created_at_ms values are strictly increasing.
func newTestService(t *testing.T, ids []string) (*Service, *gorm.DB, *recordingNotifier) {
	t.Helper()

	dsn := fmt.Sprintf("file:prepline_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Ticket{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	current := time.Unix(1700000000, 0).UTC()
	clock := func() time.Time {
		current = current.Add(time.Second)
		return current
	}

	notifier := &recordingNotifier{}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &staticIDGenerator{ids: ids},
		Notifier:   notifier,
		Categories: mustCategorySet(t, "kitchen", "bar"),
	})
	if err != nil {
		t.Fatalf("failed to construct ticket service: %v", err)
	}

	return service, db, notifier
}

func positionOf(t *testing.T, ticket Ticket) int {
	t.Helper()
	if ticket.Position == nil {
		t.Fatalf("ticket %s has no position", ticket.ID)
	}
	return *ticket.Position
}
