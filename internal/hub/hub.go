package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/florianbrrl/pixelboard/internal/placement"
)

const defaultBufferSize = 64

// Hub is the per-board registry of live subscribers. Publish delivers a
// committed event to every subscriber of that board at the moment of the
// call; a slow or dead subscriber is dropped from the registry instead of
// blocking delivery to the others. Delivery order within one board
// matches commit order; across boards there is no ordering guarantee.
type Hub struct {
	mu         sync.RWMutex
	boards     map[string]map[int64]*Subscription
	nextID     int64
	bufferSize int
	logger     *zap.Logger
}

// Config describes hub construction options.
type Config struct {
	BufferSize int
	Logger     *zap.Logger
}

// Subscription is the handle returned by Subscribe. Its stream carries
// events in commit order until the subscription is closed; Done is closed
// when the hub drops the subscriber or Close is called.
type Subscription struct {
	hub     *Hub
	boardID string
	id      int64
	stream  chan placement.PlacementEvent
	done    chan struct{}
	once    sync.Once
}

// Events returns the subscriber's event stream.
func (s *Subscription) Events() <-chan placement.PlacementEvent {
	return s.stream
}

// Done is closed once the subscription has been removed from the hub.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// BoardID returns the board this subscription watches.
func (s *Subscription) BoardID() string {
	return s.boardID
}

// Close unsubscribes. Safe to call multiple times.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// New constructs an empty hub.
func New(cfg Config) *Hub {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		boards:     make(map[string]map[int64]*Subscription),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Subscribe registers a connection on a board. The subscription is torn
// down when the context is cancelled or Close is called.
func (h *Hub) Subscribe(ctx context.Context, boardID string) *Subscription {
	h.mu.Lock()
	h.nextID++
	subscription := &Subscription{
		hub:     h,
		boardID: boardID,
		id:      h.nextID,
		stream:  make(chan placement.PlacementEvent, h.bufferSize),
		done:    make(chan struct{}),
	}
	if _, ok := h.boards[boardID]; !ok {
		h.boards[boardID] = make(map[int64]*Subscription)
	}
	h.boards[boardID][subscription.id] = subscription
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			h.unsubscribe(subscription)
		case <-subscription.done:
		}
	}()

	h.logger.Debug("subscriber registered",
		zap.String("board_id", boardID), zap.Int64("subscriber_id", subscription.id))
	return subscription
}

// Publish fans a committed event out to the board's current subscribers.
// Implements placement.EventPublisher.
func (h *Hub) Publish(event placement.PlacementEvent) {
	h.mu.RLock()
	subscribers := h.boards[event.BoardID]
	if len(subscribers) == 0 {
		h.mu.RUnlock()
		return
	}
	active := make([]*Subscription, 0, len(subscribers))
	for _, subscription := range subscribers {
		active = append(active, subscription)
	}
	h.mu.RUnlock()

	var stalled []*Subscription
	for _, subscription := range active {
		select {
		case subscription.stream <- event:
		default:
			stalled = append(stalled, subscription)
		}
	}

	// A full buffer means the consumer stopped draining; drop it rather
	// than block or lose ordering for everyone else. The consumer
	// recovers missed events through catch-up.
	for _, subscription := range stalled {
		h.logger.Warn("dropping stalled subscriber",
			zap.String("board_id", subscription.boardID),
			zap.Int64("subscriber_id", subscription.id))
		h.unsubscribe(subscription)
	}
}

// SubscriberCount returns the number of live subscriptions on a board.
func (h *Hub) SubscriberCount(boardID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.boards[boardID])
}

func (h *Hub) unsubscribe(subscription *Subscription) {
	h.mu.Lock()
	subscribers := h.boards[subscription.boardID]
	if subscribers != nil {
		delete(subscribers, subscription.id)
		if len(subscribers) == 0 {
			delete(h.boards, subscription.boardID)
		}
	}
	h.mu.Unlock()

	// The stream is never closed; senders only ever use non-blocking
	// sends, and consumers exit via done.
	subscription.once.Do(func() { close(subscription.done) })
}
