package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingCategories = errors.New("category set is required")
	noOpLogger           = zap.NewNop()

	// ErrTicketNotFound indicates that no ticket exists for the identifier.
	ErrTicketNotFound = errors.New("tickets: ticket not found")
	// ErrMissingField indicates a required creation field was left empty.
	ErrMissingField = errors.New("tickets: required field missing")
)

// ServiceError wraps a storage or internal failure with an operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "tickets.service.new"
	opList        = "tickets.list"
	opCreate      = "tickets.create"
	opUpdate      = "tickets.update"
	opDeleteByTab = "tickets.delete_by_tab"
	opGetByID     = "tickets.get_by_id"
	opTabProducts = "tickets.tab_products"
	opReorder     = "tickets.reorder"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig wires the ticket service's collaborators.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Notifier   Notifier
	Categories CategorySet
}

// Service owns the ticket queue: incremental creation, closure with
// compaction, manual reordering, and the tab-history views. It keeps no
// state between calls; every operation reads the store fresh.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	notifier   Notifier
	categories CategorySet
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if len(cfg.Categories.ordered) == 0 {
		return nil, newServiceError(opServiceNew, "missing_categories", errMissingCategories)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NewNopNotifier()
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		notifier:   notifier,
		categories: cfg.Categories,
	}, nil
}

// Categories exposes the configured category set.
func (s *Service) Categories() CategorySet {
	return s.categories
}

// ListFilter narrows List by closure state and category. Nil fields match
// everything.
type ListFilter struct {
	IsClosed *bool
	Category *Category
}

// List returns tickets sorted by (position, createdAt). Readers must tolerate
// transiently duplicate or sparse positions; the sort is stable regardless.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Ticket, error) {
	query := s.db.WithContext(ctx).Order(queueOrder)
	if filter.IsClosed != nil {
		query = query.Where("is_closed = ?", *filter.IsClosed)
	}
	if filter.Category != nil {
		if !s.categories.Contains(*filter.Category) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, filter.Category.String())
		}
		query = query.Where("category = ?", *filter.Category)
	}

	var result []Ticket
	if err := query.Find(&result).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return nil, newServiceError(opList, "query_failed", err)
	}
	return result, nil
}

// CreateReason distinguishes the three creation outcomes.
type CreateReason string

const (
	// CreateReasonCreated means a ticket was persisted.
	CreateReasonCreated CreateReason = "created"
	// CreateReasonNoProducts means the request carried no products at all.
	CreateReasonNoProducts CreateReason = "no_products"
	// CreateReasonNothingNew means the tab's history already covers the request.
	CreateReasonNothingNew CreateReason = "nothing_new"
)

// CreateRequest describes a waiter sending a tab's order to a station.
type CreateRequest struct {
	TabID       TabID
	TableLabel  string
	Waiter      string
	Products    []Product
	Observation string
	IsClosed    bool
	IsThawed    bool
	Category    Category
	OrderWaiter string
}

// CreateOutcome carries the persisted ticket, or a nil ticket with the
// no-op reason. Neither no-op is an error.
type CreateOutcome struct {
	Ticket *Ticket
	Reason CreateReason
}

// Create diffs the request against the tab's ticket history and persists a
// ticket for the genuinely new work, appended at the tail of its category's
// open queue. Requests fully covered by history create nothing.
func (s *Service) Create(ctx context.Context, request CreateRequest) (CreateOutcome, error) {
	if request.TabID == "" {
		return CreateOutcome{}, fmt.Errorf("%w: tabId", ErrMissingField)
	}
	if request.TableLabel == "" {
		return CreateOutcome{}, fmt.Errorf("%w: table", ErrMissingField)
	}
	if request.Waiter == "" {
		return CreateOutcome{}, fmt.Errorf("%w: waiter", ErrMissingField)
	}

	category := request.Category
	if category == "" {
		category = s.categories.Default()
	}
	if !s.categories.Contains(category) {
		return CreateOutcome{}, fmt.Errorf("%w: %q", ErrInvalidCategory, category.String())
	}

	if len(request.Products) == 0 {
		return CreateOutcome{Reason: CreateReasonNoProducts}, nil
	}

	history, err := s.findByTab(ctx, request.TabID)
	if err != nil {
		s.logError(opCreate, "history_query_failed", err, zap.String("tab_id", request.TabID.String()))
		return CreateOutcome{}, newServiceError(opCreate, "history_query_failed", err)
	}

	increment := ComputeIncrement(MergeProducts(history), request.Products)
	if len(increment) == 0 {
		return CreateOutcome{Reason: CreateReasonNothingNew}, nil
	}

	var position *int
	if !request.IsClosed {
		next, err := nextPosition(s.db.WithContext(ctx), category)
		if err != nil {
			s.logError(opCreate, "position_query_failed", err, zap.String("category", category.String()))
			return CreateOutcome{}, newServiceError(opCreate, "position_query_failed", err)
		}
		position = &next
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return CreateOutcome{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	ticket := Ticket{
		ID:              id,
		TabID:           request.TabID.String(),
		TableLabel:      request.TableLabel,
		Waiter:          request.Waiter,
		OrderWaiter:     request.OrderWaiter,
		Observation:     request.Observation,
		Category:        category,
		Products:        increment,
		IsClosed:        request.IsClosed,
		IsThawed:        request.IsThawed,
		Position:        position,
		CreatedAtMillis: s.clock().UTC().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&ticket).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("ticket_id", id))
		return CreateOutcome{}, newServiceError(opCreate, "insert_failed", err)
	}

	if !ticket.IsClosed {
		s.notify(ctx, Event{Kind: EventTicketCreated, Ticket: &ticket, Category: ticket.Category})
	}
	return CreateOutcome{Ticket: &ticket, Reason: CreateReasonCreated}, nil
}

// UpdateRequest is a partial ticket mutation. Nil fields are left untouched.
// An explicit empty product list forces closure.
type UpdateRequest struct {
	ID       TicketID
	IsClosed *bool
	Products *ProductList
	IsThawed *bool
}

// Update applies the partial mutation. Closing a ticket clears its position
// and compacts the remaining open tickets of its category.
func (s *Service) Update(ctx context.Context, request UpdateRequest) (*Ticket, error) {
	var existing Ticket
	err := s.db.WithContext(ctx).Where("id = ?", request.ID.String()).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, request.ID.String())
	}
	if err != nil {
		s.logError(opUpdate, "select_failed", err, zap.String("ticket_id", request.ID.String()))
		return nil, newServiceError(opUpdate, "select_failed", err)
	}

	isClosed := request.IsClosed
	if request.Products != nil && len(*request.Products) == 0 {
		closed := true
		isClosed = &closed
	}

	updates := map[string]interface{}{}
	if isClosed != nil {
		updates["is_closed"] = *isClosed
		if *isClosed {
			updates["position"] = gorm.Expr("NULL")
		}
	}
	if request.IsThawed != nil {
		updates["is_thawed"] = *request.IsThawed
	}
	if request.Products != nil {
		updates["products"] = *request.Products
	}

	if len(updates) > 0 {
		err := s.db.WithContext(ctx).Model(&Ticket{}).
			Where("id = ?", existing.ID).
			Updates(updates).Error
		if err != nil {
			s.logError(opUpdate, "update_failed", err, zap.String("ticket_id", existing.ID))
			return nil, newServiceError(opUpdate, "update_failed", err)
		}
	}

	if isClosed != nil && *isClosed {
		if err := CompactPositions(s.db.WithContext(ctx), existing.Category); err != nil {
			s.logError(opUpdate, "compact_failed", err, zap.String("category", existing.Category.String()))
			return nil, newServiceError(opUpdate, "compact_failed", err)
		}
	}

	var refreshed Ticket
	if err := s.db.WithContext(ctx).Where("id = ?", existing.ID).Take(&refreshed).Error; err != nil {
		s.logError(opUpdate, "reload_failed", err, zap.String("ticket_id", existing.ID))
		return nil, newServiceError(opUpdate, "reload_failed", err)
	}

	s.notify(ctx, Event{Kind: EventTicketUpdated, Ticket: &refreshed, Category: refreshed.Category})
	return &refreshed, nil
}

// DeleteByTab removes every ticket of the tab, open or closed, then compacts
// the categories its open tickets occupied so their queues close up.
func (s *Service) DeleteByTab(ctx context.Context, tabID TabID) error {
	if tabID == "" {
		return fmt.Errorf("%w: tabId", ErrMissingField)
	}

	history, err := s.findByTab(ctx, tabID)
	if err != nil {
		s.logError(opDeleteByTab, "history_query_failed", err, zap.String("tab_id", tabID.String()))
		return newServiceError(opDeleteByTab, "history_query_failed", err)
	}

	affected := make(map[Category]struct{})
	ids := make([]string, 0, len(history))
	for _, ticket := range history {
		ids = append(ids, ticket.ID)
		if !ticket.IsClosed {
			affected[ticket.Category] = struct{}{}
		}
	}

	err = s.db.WithContext(ctx).
		Where("tab_id = ?", tabID.String()).
		Delete(&Ticket{}).Error
	if err != nil {
		s.logError(opDeleteByTab, "delete_failed", err, zap.String("tab_id", tabID.String()))
		return newServiceError(opDeleteByTab, "delete_failed", err)
	}

	for category := range affected {
		if err := CompactPositions(s.db.WithContext(ctx), category); err != nil {
			s.logError(opDeleteByTab, "compact_failed", err, zap.String("category", category.String()))
			return newServiceError(opDeleteByTab, "compact_failed", err)
		}
	}

	s.notify(ctx, Event{Kind: EventTicketsDeleted, TabID: tabID.String(), TicketIDs: ids})
	return nil
}

// GetByID returns the ticket or ErrTicketNotFound.
func (s *Service) GetByID(ctx context.Context, id TicketID) (*Ticket, error) {
	var ticket Ticket
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&ticket).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, id.String())
	}
	if err != nil {
		s.logError(opGetByID, "select_failed", err, zap.String("ticket_id", id.String()))
		return nil, newServiceError(opGetByID, "select_failed", err)
	}
	return &ticket, nil
}

// TabProducts returns the tab's cumulative already-sent product view, the
// same merge the diff engine subtracts from. Empty when the tab has no
// ticket history.
func (s *Service) TabProducts(ctx context.Context, tabID TabID) (ProductList, error) {
	if tabID == "" {
		return nil, fmt.Errorf("%w: tabId", ErrMissingField)
	}
	history, err := s.findByTab(ctx, tabID)
	if err != nil {
		s.logError(opTabProducts, "history_query_failed", err, zap.String("tab_id", tabID.String()))
		return nil, newServiceError(opTabProducts, "history_query_failed", err)
	}
	return MergeProducts(history), nil
}

// Reorder makes ids the new front-to-back order of the category's open
// tickets. Ids that are closed, foreign to the category, or unknown are
// silently discarded, tolerating stale display lists. Returns the refreshed
// ordered open set.
func (s *Service) Reorder(ctx context.Context, category Category, ids []string) ([]Ticket, error) {
	if !s.categories.Contains(category) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category.String())
	}

	surviving := ids
	if len(ids) > 0 {
		var open []Ticket
		err := s.db.WithContext(ctx).
			Select("id").
			Where("id IN ? AND category = ? AND is_closed = ?", ids, category, false).
			Find(&open).Error
		if err != nil {
			s.logError(opReorder, "open_set_query_failed", err, zap.String("category", category.String()))
			return nil, newServiceError(opReorder, "open_set_query_failed", err)
		}

		valid := make(map[string]struct{}, len(open))
		for _, ticket := range open {
			valid[ticket.ID] = struct{}{}
		}
		surviving = make([]string, 0, len(valid))
		for _, id := range ids {
			if _, ok := valid[id]; ok {
				surviving = append(surviving, id)
			}
		}

		if err := assignPositions(s.db.WithContext(ctx), surviving); err != nil {
			s.logError(opReorder, "assign_failed", err, zap.String("category", category.String()))
			return nil, newServiceError(opReorder, "assign_failed", err)
		}
	}

	var refreshed []Ticket
	err := s.db.WithContext(ctx).
		Where("category = ? AND is_closed = ?", category, false).
		Order(queueOrder).
		Find(&refreshed).Error
	if err != nil {
		s.logError(opReorder, "reload_failed", err, zap.String("category", category.String()))
		return nil, newServiceError(opReorder, "reload_failed", err)
	}

	ordered := make([]string, 0, len(refreshed))
	for _, ticket := range refreshed {
		ordered = append(ordered, ticket.ID)
	}
	s.notify(ctx, Event{Kind: EventTicketsReordered, Category: category, TicketIDs: ordered})
	return refreshed, nil
}

func (s *Service) findByTab(ctx context.Context, tabID TabID) ([]Ticket, error) {
	var history []Ticket
	err := s.db.WithContext(ctx).
		Where("tab_id = ?", tabID.String()).
		Order(queueOrder).
		Find(&history).Error
	if err != nil {
		return nil, err
	}
	return history, nil
}

func (s *Service) notify(ctx context.Context, event Event) {
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("ticket event delivery failed",
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("tickets service error", attrs...)
}
