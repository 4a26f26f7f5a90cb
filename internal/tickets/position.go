package tickets

import (
	"errors"

	"gorm.io/gorm"
)

// queueOrder is the stable read order for every queue listing. Equal or
// transiently duplicate positions fall back to creation time; NULL positions
// (closed tickets) sort ahead of numbered ones in SQLite.
const queueOrder = "position, created_at_ms"

// nextPosition returns the ordering key for a ticket about to be opened in
// the category: one past the current maximum open position, or zero for an
// empty queue. A concurrent creation may observe the same maximum; the
// resulting collision is transient and removed by the next compaction.
func nextPosition(db *gorm.DB, category Category) (int, error) {
	var last Ticket
	err := db.
		Select("position").
		Where("category = ? AND is_closed = ?", category, false).
		Order("position DESC").
		Take(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if last.Position == nil {
		return 0, nil
	}
	return *last.Position + 1, nil
}

// CompactPositions renumbers the category's open tickets to a dense
// zero-based sequence, scanning by (position, created_at_ms). Idempotent;
// safe to run after every closure and as a repair pass.
func CompactPositions(db *gorm.DB, category Category) error {
	var open []Ticket
	err := db.
		Select("id").
		Where("category = ? AND is_closed = ?", category, false).
		Order(queueOrder).
		Find(&open).Error
	if err != nil {
		return err
	}

	for index, ticket := range open {
		err := db.Model(&Ticket{}).
			Where("id = ?", ticket.ID).
			Update("position", index).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// assignPositions gives each listed open ticket the position matching its
// index in ids. Callers are expected to pass ids already restricted to the
// category's open set.
func assignPositions(db *gorm.DB, ids []string) error {
	for index, id := range ids {
		err := db.Model(&Ticket{}).
			Where("id = ?", id).
			Update("position", index).Error
		if err != nil {
			return err
		}
	}
	return nil
}
