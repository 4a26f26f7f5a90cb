package integration_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/preplinehq/prepline/internal/accessgate"
	"github.com/preplinehq/prepline/internal/server"
	"github.com/preplinehq/prepline/internal/tickets"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	userAccessKey   = "integration-user-key"
	adminAccessKey  = "integration-admin-key"
	jsonContentType = "application/json"
)

func newIntegrationServer(testContext *testing.T) *httptest.Server {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&tickets.Ticket{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	categories, err := tickets.NewCategorySet([]string{"kitchen", "bar"})
	if err != nil {
		testContext.Fatalf("failed to build category set: %v", err)
	}

	dispatcher := server.NewRealtimeDispatcher()
	ticketService, err := tickets.NewService(tickets.ServiceConfig{
		Database:   db,
		IDProvider: tickets.NewUUIDProvider(),
		Notifier:   dispatcher,
		Categories: categories,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to construct ticket service: %v", err)
	}

	gate, err := accessgate.New(accessgate.Config{UserKey: userAccessKey, AdminKey: adminAccessKey})
	if err != nil {
		testContext.Fatalf("failed to construct gate: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Gate:     gate,
		Tickets:  ticketService,
		Realtime: dispatcher,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to construct http handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return testServer
}

func postJSON(testContext *testing.T, url, accessKey string, payload interface{}) *http.Response {
	testContext.Helper()
	encoded, err := json.Marshal(payload)
	if err != nil {
		testContext.Fatalf("failed to encode payload: %v", err)
	}
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(encoded))
	if err != nil {
		testContext.Fatalf("failed to construct request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	if accessKey != "" {
		request.Header.Set("X-Access-Key", accessKey)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	return response
}

func TestQueueFlowEmitsRealtimeEvents(testContext *testing.T) {
	testServer := newIntegrationServer(testContext)

	// Displays authenticate with the shared key first.
	authResponse := postJSON(testContext, testServer.URL+"/auth", "", map[string]string{"accessKey": userAccessKey})
	if authResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected auth status: %d", authResponse.StatusCode)
	}
	_ = authResponse.Body.Close()

	streamRequest, err := http.NewRequest(http.MethodGet, testServer.URL+"/tickets/stream?category=kitchen&access_key="+userAccessKey, http.NoBody)
	if err != nil {
		testContext.Fatalf("failed to construct stream request: %v", err)
	}
	streamResponse, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		testContext.Fatalf("failed to open stream: %v", err)
	}
	testContext.Cleanup(func() {
		_ = streamResponse.Body.Close()
	})
	if streamResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected stream status: %d", streamResponse.StatusCode)
	}
	streamReader := bufio.NewReader(streamResponse.Body)

	createResponse := postJSON(testContext, testServer.URL+"/tickets", userAccessKey, map[string]interface{}{
		"tabId":  "tab-1",
		"table":  "12",
		"waiter": "ana",
		"products": []map[string]interface{}{
			{"id": "P1", "name": "Burger", "amount": 2},
		},
	})
	if createResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected create status: %d", createResponse.StatusCode)
	}
	var createPayload struct {
		Ticket *tickets.Ticket `json:"ticket"`
	}
	if err := json.NewDecoder(createResponse.Body).Decode(&createPayload); err != nil {
		testContext.Fatalf("failed to decode create response: %v", err)
	}
	_ = createResponse.Body.Close()
	if createPayload.Ticket == nil || createPayload.Ticket.Position == nil || *createPayload.Ticket.Position != 0 {
		testContext.Fatalf("unexpected created ticket: %+v", createPayload.Ticket)
	}

	event := readStreamEvent(testContext, streamReader, string(tickets.EventTicketCreated))
	if event.Ticket == nil || event.Ticket.ID != createPayload.Ticket.ID {
		testContext.Fatalf("unexpected creation event: %+v", event)
	}

	reorderResponse := postJSON(testContext, testServer.URL+"/tickets/reorder", userAccessKey, map[string]interface{}{
		"category": "kitchen",
		"ids":      []string{createPayload.Ticket.ID},
	})
	if reorderResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected reorder status: %d", reorderResponse.StatusCode)
	}
	_ = reorderResponse.Body.Close()

	event = readStreamEvent(testContext, streamReader, string(tickets.EventTicketsReordered))
	if len(event.TicketIDs) != 1 || event.TicketIDs[0] != createPayload.Ticket.ID {
		testContext.Fatalf("unexpected reorder event: %+v", event)
	}
}

// readStreamEvent scans SSE lines until it sees a data payload for the wanted
// event type, skipping heartbeats and unrelated events.
func readStreamEvent(testContext *testing.T, streamReader *bufio.Reader, wantedType string) tickets.Event {
	testContext.Helper()

	type readResult struct {
		line string
		err  error
	}
	deadline := time.After(5 * time.Second)
	currentEventType := ""
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			testContext.Fatalf("timed out waiting for %s event", wantedType)
		case result := <-resultCh:
			if result.err != nil {
				testContext.Fatalf("failed to read stream: %v", result.err)
			}
			line := strings.TrimSpace(result.line)
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType != wantedType {
				continue
			}
			dataJSON := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var event tickets.Event
			if err := json.Unmarshal([]byte(dataJSON), &event); err != nil {
				testContext.Fatalf("failed to decode event payload: %v", err)
			}
			return event
		}
	}
}
