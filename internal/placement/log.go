package placement

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// EventLog is the append-only, time-ordered store of accepted placements.
// It is the source of truth for grid state; the projection and the
// cooldown index are both derived from it. Total order within a board is
// (timestamp_ms, seq), where seq is the per-board monotonic sequence
// number assigned by the coordinator.
type EventLog struct {
	db *gorm.DB
}

// NewEventLog constructs an event log over the provided database handle.
func NewEventLog(db *gorm.DB) (*EventLog, error) {
	if db == nil {
		return nil, fmt.Errorf("placement: database handle is required")
	}
	return &EventLog{db: db}, nil
}

// Append persists an event inside the supplied transaction. The caller
// holds the board commit lock; Append never reorders or rewrites events.
func (l *EventLog) Append(tx *gorm.DB, event *PlacementEvent) error {
	return tx.Create(event).Error
}

// ReadAll returns every event for the board in commit order.
func (l *EventLog) ReadAll(ctx context.Context, boardID string) ([]PlacementEvent, error) {
	var events []PlacementEvent
	err := l.db.WithContext(ctx).
		Where("board_id = ?", boardID).
		Order("timestamp_ms ASC, seq ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ReadSince returns the events with timestamp strictly greater than
// sinceMS, in commit order.
func (l *EventLog) ReadSince(ctx context.Context, boardID string, sinceMS int64) ([]PlacementEvent, error) {
	var events []PlacementEvent
	err := l.db.WithContext(ctx).
		Where("board_id = ? AND timestamp_ms > ?", boardID, sinceMS).
		Order("timestamp_ms ASC, seq ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// HistoryAt returns every event that touched one coordinate, oldest first.
func (l *EventLog) HistoryAt(ctx context.Context, boardID string, x, y int) ([]PlacementEvent, error) {
	var events []PlacementEvent
	err := l.db.WithContext(ctx).
		Where("board_id = ? AND x = ? AND y = ?", boardID, x, y).
		Order("timestamp_ms ASC, seq ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// LatestAt returns the most recent event at one coordinate, if any.
func (l *EventLog) LatestAt(ctx context.Context, boardID string, x, y int) (PlacementEvent, bool, error) {
	var event PlacementEvent
	err := l.db.WithContext(ctx).
		Where("board_id = ? AND x = ? AND y = ?", boardID, x, y).
		Order("timestamp_ms DESC, seq DESC").
		Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PlacementEvent{}, false, nil
	}
	if err != nil {
		return PlacementEvent{}, false, err
	}
	return event, true, nil
}

// LastUserPlacementMS returns the timestamp of the user's most recent
// event on the board, or false when the user never placed there.
func (l *EventLog) LastUserPlacementMS(ctx context.Context, boardID, userID string) (int64, bool, error) {
	var event PlacementEvent
	err := l.db.WithContext(ctx).
		Where("board_id = ? AND user_id = ?", boardID, userID).
		Order("timestamp_ms DESC, seq DESC").
		Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return event.TimestampMS, true, nil
}

// boardCursor captures the latest (timestamp, seq) pair committed for a
// board, used to seed the coordinator's in-memory commit state.
type boardCursor struct {
	TimestampMS int64
	Seq         int64
}

func (l *EventLog) lastCursor(ctx context.Context, boardID string) (boardCursor, error) {
	var event PlacementEvent
	err := l.db.WithContext(ctx).
		Where("board_id = ?", boardID).
		Order("timestamp_ms DESC, seq DESC").
		Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return boardCursor{}, nil
	}
	if err != nil {
		return boardCursor{}, err
	}
	return boardCursor{TimestampMS: event.TimestampMS, Seq: event.Seq}, nil
}
