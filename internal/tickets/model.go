package tickets

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidTicketID indicates that a ticket identifier is empty or exceeds storage bounds.
	ErrInvalidTicketID = errors.New("tickets: invalid ticket id")
	// ErrInvalidTabID indicates that a tab identifier is empty or exceeds storage bounds.
	ErrInvalidTabID = errors.New("tickets: invalid tab id")
	// ErrInvalidCategory indicates that a category name is empty, malformed, or not configured.
	ErrInvalidCategory = errors.New("tickets: invalid category")
)

// TicketID represents a validated ticket identifier.
type TicketID string

// NewTicketID validates raw input and returns a TicketID.
func NewTicketID(rawInput string) (TicketID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTicketID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidTicketID, maxIdentifierLength)
	}
	return TicketID(trimmed), nil
}

// String returns the underlying string identifier.
func (id TicketID) String() string {
	return string(id)
}

// TabID represents a validated tab identifier.
type TabID string

// NewTabID validates raw input and returns a TabID.
func NewTabID(rawInput string) (TabID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTabID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidTabID, maxIdentifierLength)
	}
	return TabID(trimmed), nil
}

// String returns the underlying string identifier.
func (id TabID) String() string {
	return string(id)
}

// Category names an independent ordering namespace for open tickets.
type Category string

// NewCategory validates raw input and returns a Category. Membership in the
// configured category set is checked separately by CategorySet.
func NewCategory(rawInput string) (Category, error) {
	trimmed := strings.ToLower(strings.TrimSpace(rawInput))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCategory)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCategory, maxIdentifierLength)
	}
	return Category(trimmed), nil
}

// String returns the underlying category name.
func (c Category) String() string {
	return string(c)
}

// CategorySet holds the configured categories in declaration order. The first
// entry is the default applied to tickets created without one.
type CategorySet struct {
	ordered []Category
	members map[Category]struct{}
}

// NewCategorySet builds a CategorySet from raw names, dropping duplicates.
func NewCategorySet(rawNames []string) (CategorySet, error) {
	set := CategorySet{members: make(map[Category]struct{})}
	for _, rawName := range rawNames {
		category, err := NewCategory(rawName)
		if err != nil {
			return CategorySet{}, err
		}
		if _, exists := set.members[category]; exists {
			continue
		}
		set.ordered = append(set.ordered, category)
		set.members[category] = struct{}{}
	}
	if len(set.ordered) == 0 {
		return CategorySet{}, fmt.Errorf("%w: no categories configured", ErrInvalidCategory)
	}
	return set, nil
}

// Contains reports whether the category is configured.
func (s CategorySet) Contains(category Category) bool {
	_, ok := s.members[category]
	return ok
}

// Default returns the first configured category.
func (s CategorySet) Default() Category {
	return s.ordered[0]
}

// All returns the configured categories in declaration order.
func (s CategorySet) All() []Category {
	return append([]Category(nil), s.ordered...)
}

// Product is one line of preparation work on a ticket. Amount is the count
// requested by this ticket alone, never the tab's running total.
type Product struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Amount        int64  `json:"amount"`
	Prepared      bool   `json:"prepared"`
	ThawRequested bool   `json:"thawRequested"`
}

// ProductList serializes the product lines as a JSON text column.
type ProductList []Product

// Value implements driver.Valuer for GORM persistence.
func (l ProductList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	encoded, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan implements sql.Scanner for GORM persistence.
func (l *ProductList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch raw := value.(type) {
	case []byte:
		return json.Unmarshal(raw, l)
	case string:
		return json.Unmarshal([]byte(raw), l)
	default:
		return fmt.Errorf("tickets: cannot scan product list from %T", value)
	}
}

// Ticket models one persisted preparation request batch. Position is set only
// while the ticket is open; closed tickets carry no ordering key.
type Ticket struct {
	ID              string      `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	TabID           string      `gorm:"column:tab_id;size:190;not null;index:idx_tickets_tab" json:"tabId"`
	TableLabel      string      `gorm:"column:table_label;not null" json:"table"`
	Waiter          string      `gorm:"column:waiter;not null" json:"waiter"`
	OrderWaiter     string      `gorm:"column:order_waiter;not null;default:''" json:"orderWaiter"`
	Observation     string      `gorm:"column:observation;not null;default:''" json:"observation"`
	Category        Category    `gorm:"column:category;size:190;not null;index:idx_tickets_queue,priority:1" json:"category"`
	Products        ProductList `gorm:"column:products;type:text;not null" json:"products"`
	IsClosed        bool        `gorm:"column:is_closed;not null;default:false;index:idx_tickets_queue,priority:2" json:"isClosed"`
	IsThawed        bool        `gorm:"column:is_thawed;not null;default:false" json:"isThawed"`
	Position        *int        `gorm:"column:position;index:idx_tickets_queue,priority:3" json:"position"`
	CreatedAtMillis int64       `gorm:"column:created_at_ms;not null;index:idx_tickets_queue,priority:4" json:"createdAtMs"`
}

// TableName provides the explicit table binding for GORM.
func (Ticket) TableName() string {
	return "tickets"
}
