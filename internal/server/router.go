package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/preplinehq/prepline/internal/accessgate"
	"github.com/preplinehq/prepline/internal/tickets"
	"go.uber.org/zap"
)

const (
	accessKeyHeader    = "X-Access-Key"
	accessKeyQueryName = "access_key"
	isAdminContextKey  = "prepline_is_admin"

	heartbeatInterval = 15 * time.Second
)

var (
	errMissingGate          = errors.New("access gate dependency required")
	errMissingTicketService = errors.New("ticket service dependency required")
	errMissingRealtime      = errors.New("realtime dispatcher dependency required")
)

type Dependencies struct {
	Gate     *accessgate.Gate
	Tickets  *tickets.Service
	Realtime *RealtimeDispatcher
	Logger   *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Gate == nil {
		return nil, errMissingGate
	}
	if deps.Tickets == nil {
		return nil, errMissingTicketService
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{accessKeyHeader, "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		gate:     deps.Gate,
		tickets:  deps.Tickets,
		realtime: deps.Realtime,
		logger:   logger,
	}

	router.POST("/auth", handler.handleAuth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/tickets", handler.handleList)
	protected.POST("/tickets", handler.handleCreate)
	protected.GET("/tickets/stream", handler.handleStream)
	protected.GET("/tickets/:id", handler.handleShow)
	protected.PATCH("/tickets/:id", handler.handleUpdate)
	protected.POST("/tickets/reorder", handler.handleReorder)
	protected.DELETE("/tickets/tab/:tabId", handler.handleDeleteTab)
	protected.GET("/tickets/tab/:tabId/products", handler.handleTabProducts)

	return router, nil
}

type httpHandler struct {
	gate     *accessgate.Gate
	tickets  *tickets.Service
	realtime *RealtimeDispatcher
	logger   *zap.Logger
}

type authRequestPayload struct {
	AccessKey string `json:"accessKey"`
}

func (h *httpHandler) handleAuth(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.AccessKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"message":      "an access key must be provided",
			"isAuthorized": false,
		})
		return
	}

	decision := h.gate.Authorize(request.AccessKey)
	if !decision.Authorized {
		c.JSON(http.StatusUnauthorized, gin.H{
			"message":      "invalid access key",
			"isAuthorized": false,
			"isAdmin":      decision.Admin,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "authorized",
		"isAuthorized": true,
		"isAdmin":      decision.Admin,
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	accessKey := c.GetHeader(accessKeyHeader)
	if accessKey == "" {
		// EventSource clients cannot set headers on the stream request.
		accessKey = c.Query(accessKeyQueryName)
	}
	decision := h.gate.Authorize(accessKey)
	if !decision.Authorized {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid access key"})
		return
	}
	c.Set(isAdminContextKey, decision.Admin)
	c.Next()
}

func (h *httpHandler) handleList(c *gin.Context) {
	filter := tickets.ListFilter{}
	if rawIsClosed, supplied := c.GetQuery("isClosed"); supplied {
		isClosed, err := strconv.ParseBool(rawIsClosed)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "isClosed must be a boolean"})
			return
		}
		filter.IsClosed = &isClosed
	}
	if rawCategory, supplied := c.GetQuery("category"); supplied {
		category, err := tickets.NewCategory(rawCategory)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid category"})
			return
		}
		filter.Category = &category
	}

	result, err := h.tickets.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, "failed to list tickets", err)
		return
	}
	if result == nil {
		result = []tickets.Ticket{}
	}
	c.JSON(http.StatusOK, result)
}

type productPayload struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Amount        int64  `json:"amount"`
	Prepared      bool   `json:"prepared"`
	ThawRequested bool   `json:"thawRequested"`
}

type createTicketPayload struct {
	TabID       string           `json:"tabId"`
	TableLabel  string           `json:"table"`
	Waiter      string           `json:"waiter"`
	Products    []productPayload `json:"products"`
	Observation string           `json:"observation"`
	IsClosed    bool             `json:"isClosed"`
	IsThawed    bool             `json:"isThawed"`
	Category    string           `json:"category"`
	OrderWaiter string           `json:"orderWaiter"`
}

func (h *httpHandler) handleCreate(c *gin.Context) {
	var request createTicketPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body", "ticket": nil})
		return
	}
	if request.TabID == "" || request.TableLabel == "" || request.Waiter == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "required fields were not provided",
			"ticket":  nil,
		})
		return
	}

	tabID, err := tickets.NewTabID(request.TabID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid tab id", "ticket": nil})
		return
	}
	var category tickets.Category
	if request.Category != "" {
		category, err = tickets.NewCategory(request.Category)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid category", "ticket": nil})
			return
		}
	}

	outcome, err := h.tickets.Create(c.Request.Context(), tickets.CreateRequest{
		TabID:       tabID,
		TableLabel:  request.TableLabel,
		Waiter:      request.Waiter,
		Products:    productsFromPayload(request.Products),
		Observation: request.Observation,
		IsClosed:    request.IsClosed,
		IsThawed:    request.IsThawed,
		Category:    category,
		OrderWaiter: request.OrderWaiter,
	})
	if err != nil {
		h.respondError(c, "failed to create ticket", err)
		return
	}

	switch outcome.Reason {
	case tickets.CreateReasonNoProducts:
		c.JSON(http.StatusOK, gin.H{
			"message": "no products to prepare were supplied",
			"ticket":  nil,
		})
	case tickets.CreateReasonNothingNew:
		c.JSON(http.StatusOK, gin.H{
			"message": "nothing new to prepare",
			"ticket":  nil,
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"message": "ticket queued for preparation",
			"ticket":  outcome.Ticket,
		})
	}
}

func (h *httpHandler) handleShow(c *gin.Context) {
	id, err := tickets.NewTicketID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "a ticket id must be provided", "ticket": nil})
		return
	}

	ticket, err := h.tickets.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "failed to load ticket", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ticket found", "ticket": ticket})
}

type updateTicketPayload struct {
	IsClosed *bool             `json:"isClosed"`
	Products *[]productPayload `json:"products"`
	IsThawed *bool             `json:"isThawed"`
}

func (h *httpHandler) handleUpdate(c *gin.Context) {
	id, err := tickets.NewTicketID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "a ticket id must be provided", "ticket": nil})
		return
	}

	var request updateTicketPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body", "ticket": nil})
		return
	}

	updateRequest := tickets.UpdateRequest{
		ID:       id,
		IsClosed: request.IsClosed,
		IsThawed: request.IsThawed,
	}
	if request.Products != nil {
		products := tickets.ProductList(productsFromPayload(*request.Products))
		updateRequest.Products = &products
	}

	ticket, err := h.tickets.Update(c.Request.Context(), updateRequest)
	if err != nil {
		h.respondError(c, "failed to update ticket", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ticket updated", "ticket": ticket})
}

func (h *httpHandler) handleDeleteTab(c *gin.Context) {
	tabID, err := tickets.NewTabID(c.Param("tabId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "a tab id must be provided"})
		return
	}

	if err := h.tickets.DeleteByTab(c.Request.Context(), tabID); err != nil {
		h.respondError(c, "failed to delete tab tickets", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "tab tickets deleted"})
}

func (h *httpHandler) handleTabProducts(c *gin.Context) {
	tabID, err := tickets.NewTabID(c.Param("tabId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "a tab id must be provided"})
		return
	}

	products, err := h.tickets.TabProducts(c.Request.Context(), tabID)
	if err != nil {
		h.respondError(c, "failed to load tab products", err)
		return
	}
	if products == nil {
		products = tickets.ProductList{}
	}
	c.JSON(http.StatusOK, products)
}

type reorderPayload struct {
	Category string    `json:"category"`
	IDs      *[]string `json:"ids"`
}

func (h *httpHandler) handleReorder(c *gin.Context) {
	var request reorderPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Category == "" || request.IDs == nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "a category and an id list must be provided"})
		return
	}

	category, err := tickets.NewCategory(request.Category)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid category"})
		return
	}

	ordered, err := h.tickets.Reorder(c.Request.Context(), category, *request.IDs)
	if err != nil {
		h.respondError(c, "failed to reorder tickets", err)
		return
	}
	if ordered == nil {
		ordered = []tickets.Ticket{}
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "tickets reordered",
		"category": category,
		"tickets":  ordered,
	})
}

func (h *httpHandler) handleStream(c *gin.Context) {
	category := ""
	if rawCategory, supplied := c.GetQuery("category"); supplied {
		parsed, err := tickets.NewCategory(rawCategory)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid category"})
			return
		}
		category = parsed.String()
	}

	events, cleanup := h.realtime.Subscribe(c.Request.Context(), category)
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event := <-events:
			if err := writeStreamEvent(c.Writer, event); err != nil {
				return
			}
			c.Writer.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func writeStreamEvent(writer io.Writer, event tickets.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(writer, "event: %s\ndata: %s\n\n", event.Kind, payload)
	return err
}

// respondError maps service errors onto the HTTP taxonomy: validation
// failures are 400, missing tickets 404, everything else a generic 500.
func (h *httpHandler) respondError(c *gin.Context, logMessage string, err error) {
	switch {
	case errors.Is(err, tickets.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "ticket not found", "ticket": nil})
	case errors.Is(err, tickets.ErrMissingField),
		errors.Is(err, tickets.ErrInvalidCategory),
		errors.Is(err, tickets.ErrInvalidTabID),
		errors.Is(err, tickets.ErrInvalidTicketID):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	default:
		h.logger.Error(logMessage, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "operation failed"})
	}
}

func productsFromPayload(payloads []productPayload) []tickets.Product {
	products := make([]tickets.Product, 0, len(payloads))
	for _, payload := range payloads {
		products = append(products, tickets.Product{
			ID:            payload.ID,
			Name:          payload.Name,
			Amount:        payload.Amount,
			Prepared:      payload.Prepared,
			ThawRequested: payload.ThawRequested,
		})
	}
	return products
}
