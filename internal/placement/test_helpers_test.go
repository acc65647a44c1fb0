package placement

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/florianbrrl/pixelboard/internal/board"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(startMS int64) *fakeClock {
	return &fakeClock{now: time.UnixMilli(startMS).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubDirectory struct {
	mu     sync.Mutex
	boards map[string]board.Board
}

func newStubDirectory(boards ...board.Board) *stubDirectory {
	directory := &stubDirectory{boards: make(map[string]board.Board)}
	for _, b := range boards {
		directory.boards[b.BoardID] = b
	}
	return directory
}

func (d *stubDirectory) Get(_ context.Context, boardID string) (board.Board, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.boards[boardID]
	if !ok {
		return board.Board{}, board.ErrNotFound
	}
	return b, nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []PlacementEvent
}

func (p *capturingPublisher) Publish(event PlacementEvent) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

func (p *capturingPublisher) snapshot() []PlacementEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PlacementEvent(nil), p.events...)
}

// waitFor blocks until the publisher has captured count events. Delivery
// runs on the board dispatch goroutine, so tests poll instead of
// asserting immediately after Place returns.
func (p *capturingPublisher) waitFor(t *testing.T, count int) []PlacementEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		captured := p.snapshot()
		if len(captured) >= count {
			return captured
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d published events, got %d", count, len(captured))
		}
		time.Sleep(time.Millisecond)
	}
}

type sequentialIDGenerator struct {
	mu   sync.Mutex
	next int
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("event-%d", g.next), nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:placement_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&PlacementEvent{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, directory BoardDirectory, clock *fakeClock, publisher EventPublisher) *Service {
	t.Helper()

	service, err := NewService(ServiceConfig{
		Database:      newTestDB(t),
		Boards:        directory,
		Clock:         clock.Now,
		IDProvider:    &sequentialIDGenerator{},
		Publisher:     publisher,
		CommitTimeout: 500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to construct placement service: %v", err)
	}
	return service
}

func mustPlace(t *testing.T, service *Service, request PlaceRequest) PlacementEvent {
	t.Helper()
	event, err := service.Place(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected placement error: %v", err)
	}
	return event
}

func mustReject(t *testing.T, service *Service, request PlaceRequest, reason Reason) *RejectionError {
	t.Helper()
	_, err := service.Place(context.Background(), request)
	rejection, ok := AsRejection(err)
	if !ok {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rejection.Reason != reason {
		t.Fatalf("expected reason %s, got %s", reason, rejection.Reason)
	}
	return rejection
}
