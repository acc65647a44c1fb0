package placement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/florianbrrl/pixelboard/internal/board"
)

const (
	defaultCommitTimeout = 2 * time.Second
	dispatchBufferSize   = 256
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingBoards     = errors.New("board directory is required")
	errMissingIDProvider = errors.New("id provider is required")
	errCommitLockTimeout = errors.New("board commit lock acquisition timed out")
	noOpLogger           = zap.NewNop()
)

// BoardDirectory resolves board metadata. Implemented by the CRUD
// subsystem; the coordinator treats the result as read-only configuration.
type BoardDirectory interface {
	Get(ctx context.Context, boardID string) (board.Board, error)
}

// EventPublisher receives committed events for fan-out. Publishing happens
// after the commit is durable and after the board lock is released;
// delivery failures never reach the placing caller.
type EventPublisher interface {
	Publish(event PlacementEvent)
}

// ServiceConfig describes the dependencies of the placement coordinator.
type ServiceConfig struct {
	Database      *gorm.DB
	Boards        BoardDirectory
	Clock         func() time.Time
	IDProvider    IDProvider
	Publisher     EventPublisher
	Logger        *zap.Logger
	CommitTimeout time.Duration
}

// Service is the transactional gatekeeper for pixel placements. Commits
// for one board are linearized behind a per-board lock; boards never
// contend with each other.
type Service struct {
	db            *gorm.DB
	boards        BoardDirectory
	clock         func() time.Time
	idProvider    IDProvider
	publisher     EventPublisher
	logger        *zap.Logger
	commitTimeout time.Duration

	log        *EventLog
	projection *GridProjection
	cooldowns  *CooldownTracker

	mu     sync.Mutex
	states map[string]*boardState
}

// boardState is the single-writer commit state for one board: a
// capacity-1 semaphore plus the (timestamp, seq) cursor of the latest
// committed event. The cursor is mutated only while the semaphore is
// held. Committed events are enqueued on dispatch while the semaphore
// is still held, so queue order equals commit order; a long-lived
// per-board loop drains the queue into the publisher off the lock.
type boardState struct {
	sem      chan struct{}
	dispatch chan PlacementEvent
	loaded   bool
	lastTS   int64
	lastSeq  int64
}

// NewService constructs the coordinator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Boards == nil {
		return nil, errMissingBoards
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	commitTimeout := cfg.CommitTimeout
	if commitTimeout <= 0 {
		commitTimeout = defaultCommitTimeout
	}

	log, err := NewEventLog(cfg.Database)
	if err != nil {
		return nil, err
	}

	return &Service{
		db:            cfg.Database,
		boards:        cfg.Boards,
		clock:         clock,
		idProvider:    cfg.IDProvider,
		publisher:     cfg.Publisher,
		logger:        logger,
		commitTimeout: commitTimeout,
		log:           log,
		projection:    NewGridProjection(),
		cooldowns:     NewCooldownTracker(log),
		states:        make(map[string]*boardState),
	}, nil
}

// EventLog exposes the underlying log for read-only collaborators.
func (s *Service) EventLog() *EventLog {
	return s.log
}

// Place validates and commits one placement. Validation short-circuits on
// the first failing rule; each failure maps to a distinct RejectionError.
// On success the event is durably appended, folded into the projection
// and cooldown index, and queued for the board's dispatch loop, which
// hands events to the publisher in commit order.
func (s *Service) Place(ctx context.Context, request PlaceRequest) (PlacementEvent, error) {
	targetBoard, err := s.boards.Get(ctx, request.BoardID)
	if errors.Is(err, board.ErrNotFound) {
		return PlacementEvent{}, newRejection(ReasonBoardNotFound, request.BoardID)
	}
	if err != nil {
		s.logger.Error("board lookup failed", zap.String("board_id", request.BoardID), zap.Error(err))
		return PlacementEvent{}, newTransient(err)
	}

	if !targetBoard.ActiveAt(s.clock()) {
		return PlacementEvent{}, newRejection(ReasonBoardInactive, request.BoardID)
	}
	if !targetBoard.Contains(request.X, request.Y) {
		return PlacementEvent{}, newRejection(ReasonOutOfBounds,
			fmt.Sprintf("(%d,%d) outside %dx%d", request.X, request.Y, targetBoard.Width, targetBoard.Height))
	}
	if err := ValidateColor(request.Color); err != nil {
		return PlacementEvent{}, newRejection(ReasonInvalidColor, request.Color)
	}

	event, err := s.commitSerialized(ctx, targetBoard, request)
	if err != nil {
		return PlacementEvent{}, err
	}

	s.logger.Info("placement committed",
		zap.String("board_id", event.BoardID),
		zap.Int("x", event.X),
		zap.Int("y", event.Y),
		zap.String("color", event.Color),
		zap.Int64("seq", event.Seq))
	return event, nil
}

// commitSerialized performs the cooldown and overwrite checks and the log
// append atomically with respect to other placements on the same board.
func (s *Service) commitSerialized(ctx context.Context, targetBoard board.Board, request PlaceRequest) (PlacementEvent, error) {
	state := s.boardState(request.BoardID)

	select {
	case state.sem <- struct{}{}:
	case <-time.After(s.commitTimeout):
		return PlacementEvent{}, newTransient(errCommitLockTimeout)
	case <-ctx.Done():
		return PlacementEvent{}, newTransient(ctx.Err())
	}
	defer func() { <-state.sem }()

	if !state.loaded {
		if err := s.loadBoardState(ctx, request.BoardID, state); err != nil {
			return PlacementEvent{}, newTransient(err)
		}
	}

	now := s.clock().UTC()

	if request.UserID != "" && !request.Privileged {
		remaining, err := s.cooldowns.Remaining(ctx, request.BoardID, request.UserID, targetBoard.Cooldown(), now)
		if err != nil {
			return PlacementEvent{}, newTransient(err)
		}
		if remaining > 0 {
			return PlacementEvent{}, newCooldownRejection(remaining)
		}
	}

	if !targetBoard.AllowOverwrite {
		if _, occupied, _ := s.projection.Get(request.BoardID, request.X, request.Y); occupied {
			return PlacementEvent{}, newRejection(ReasonOverwriteForbidden,
				fmt.Sprintf("(%d,%d)", request.X, request.Y))
		}
	}

	eventID, err := s.idProvider.NewID()
	if err != nil {
		return PlacementEvent{}, newTransient(err)
	}

	// Commit timestamps are clamped monotone non-decreasing per board;
	// the sequence number breaks ties within one millisecond.
	timestampMS := now.UnixMilli()
	if timestampMS < state.lastTS {
		timestampMS = state.lastTS
	}

	event := PlacementEvent{
		EventID:     eventID,
		BoardID:     request.BoardID,
		X:           request.X,
		Y:           request.Y,
		Color:       NormalizeColor(request.Color),
		UserID:      request.UserID,
		TimestampMS: timestampMS,
		Seq:         state.lastSeq + 1,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.log.Append(tx, &event)
	})
	if txErr != nil {
		s.logger.Error("event append failed",
			zap.String("board_id", request.BoardID), zap.Error(txErr))
		return PlacementEvent{}, newTransient(txErr)
	}

	// The append is durable; derived state follows, still under the lock.
	state.lastTS = event.TimestampMS
	state.lastSeq = event.Seq
	s.projection.Apply(event)
	s.cooldowns.Record(event.BoardID, event.UserID, event.TimestampMS)

	// Enqueued before the semaphore is released so the dispatch loop
	// observes events in commit order. Publishing itself happens off the
	// lock, on the board's dispatch goroutine.
	state.dispatch <- event

	return event, nil
}

// dispatchLoop delivers a board's committed events to the publisher in
// commit order. One loop per board, started with the board state.
func (s *Service) dispatchLoop(state *boardState) {
	for event := range state.dispatch {
		if s.publisher != nil {
			s.publisher.Publish(event)
		}
	}
}

// CooldownStatus reports whether the user may place now and the remaining
// wait otherwise. Informational read; the authoritative check happens on
// the commit path.
func (s *Service) CooldownStatus(ctx context.Context, boardID, userID string) (bool, int64, error) {
	targetBoard, err := s.boards.Get(ctx, boardID)
	if errors.Is(err, board.ErrNotFound) {
		return false, 0, newRejection(ReasonBoardNotFound, boardID)
	}
	if err != nil {
		return false, 0, newTransient(err)
	}

	remaining, err := s.cooldowns.Remaining(ctx, boardID, userID, targetBoard.Cooldown(), s.clock().UTC())
	if err != nil {
		return false, 0, newTransient(err)
	}
	return remaining == 0, remaining, nil
}

// CurrentPixel returns the latest color at a coordinate, or false when
// the cell was never painted. Served from the projection when the board
// grid is materialized, from the log otherwise.
func (s *Service) CurrentPixel(ctx context.Context, boardID string, x, y int) (string, bool, error) {
	if color, occupied, loaded := s.projection.Get(boardID, x, y); loaded {
		return color, occupied, nil
	}

	event, found, err := s.log.LatestAt(ctx, boardID, x, y)
	if err != nil {
		return "", false, newTransient(err)
	}
	if !found {
		return "", false, nil
	}
	return event.Color, true, nil
}

// History returns every placement at a coordinate in commit order.
func (s *Service) History(ctx context.Context, boardID string, x, y int) ([]PlacementEvent, error) {
	events, err := s.log.HistoryAt(ctx, boardID, x, y)
	if err != nil {
		return nil, newTransient(err)
	}
	return events, nil
}

// RebuildProjection replays the board's full event log into a fresh grid.
// Exposed for recovery and cache invalidation.
func (s *Service) RebuildProjection(ctx context.Context, boardID string) error {
	state := s.boardState(boardID)
	select {
	case state.sem <- struct{}{}:
	case <-time.After(s.commitTimeout):
		return newTransient(errCommitLockTimeout)
	case <-ctx.Done():
		return newTransient(ctx.Err())
	}
	defer func() { <-state.sem }()

	return s.loadBoardState(ctx, boardID, state)
}

// loadBoardState materializes the projection and commit cursor from the
// event log. Caller holds the board semaphore.
func (s *Service) loadBoardState(ctx context.Context, boardID string, state *boardState) error {
	cursor, err := s.log.lastCursor(ctx, boardID)
	if err != nil {
		return err
	}
	if err := s.projection.Rebuild(ctx, s.log, boardID); err != nil {
		return err
	}
	state.lastTS = cursor.TimestampMS
	state.lastSeq = cursor.Seq
	state.loaded = true
	return nil
}

func (s *Service) boardState(boardID string) *boardState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[boardID]
	if !ok {
		state = &boardState{
			sem:      make(chan struct{}, 1),
			dispatch: make(chan PlacementEvent, dispatchBufferSize),
		}
		s.states[boardID] = state
		go s.dispatchLoop(state)
	}
	return state
}
