package placement

import (
	"context"
	"sync"
)

// GridProjection is the derived sparse coordinate→color view of a board,
// kept consistent with the event log. It is a rebuildable cache, not a
// second source of truth: replaying the log in commit order always
// reproduces it. Mutations happen only on the serialized commit path for
// the board; readers see a possibly slightly stale snapshot.
type GridProjection struct {
	mu     sync.RWMutex
	boards map[string]*boardGrid
}

type boardGrid struct {
	cells   map[Coordinate]string
	lastTS  int64
	lastSeq int64
}

// NewGridProjection constructs an empty projection.
func NewGridProjection() *GridProjection {
	return &GridProjection{boards: make(map[string]*boardGrid)}
}

// Get returns the current color at a coordinate. The second result is
// false when no event ever touched the cell, the third when the board has
// not been loaded into the projection at all.
func (p *GridProjection) Get(boardID string, x, y int) (string, bool, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	grid, loaded := p.boards[boardID]
	if !loaded {
		return "", false, false
	}
	color, ok := grid.cells[Coordinate{X: x, Y: y}]
	return color, ok, true
}

// Apply folds one committed event into the projection. Application is
// idempotent under in-order replay: events at or before the last applied
// (timestamp, seq) pair are skipped.
func (p *GridProjection) Apply(event PlacementEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	grid := p.grid(event.BoardID)
	if event.TimestampMS < grid.lastTS {
		return
	}
	if event.TimestampMS == grid.lastTS && event.Seq <= grid.lastSeq && grid.lastSeq > 0 {
		return
	}
	grid.cells[Coordinate{X: event.X, Y: event.Y}] = event.Color
	grid.lastTS = event.TimestampMS
	grid.lastSeq = event.Seq
}

// Rebuild discards the board's cached grid and replays the full event log
// in commit order. Used on first touch of a board and for recovery.
func (p *GridProjection) Rebuild(ctx context.Context, log *EventLog, boardID string) error {
	events, err := log.ReadAll(ctx, boardID)
	if err != nil {
		return err
	}

	grid := &boardGrid{cells: make(map[Coordinate]string)}
	for _, event := range events {
		grid.cells[Coordinate{X: event.X, Y: event.Y}] = event.Color
		grid.lastTS = event.TimestampMS
		grid.lastSeq = event.Seq
	}

	p.mu.Lock()
	p.boards[boardID] = grid
	p.mu.Unlock()
	return nil
}

// Loaded reports whether the board's grid has been materialized.
func (p *GridProjection) Loaded(boardID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.boards[boardID]
	return ok
}

// CellCount returns the number of distinct painted cells on a board.
func (p *GridProjection) CellCount(boardID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	grid, ok := p.boards[boardID]
	if !ok {
		return 0
	}
	return len(grid.cells)
}

func (p *GridProjection) grid(boardID string) *boardGrid {
	grid, ok := p.boards[boardID]
	if !ok {
		grid = &boardGrid{cells: make(map[Coordinate]string)}
		p.boards[boardID] = grid
	}
	return grid
}
