package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the requested board does not exist.
	ErrNotFound = errors.New("board: not found")
	// ErrInvalidBoard indicates the board definition fails validation.
	ErrInvalidBoard = errors.New("board: invalid definition")
)

// ServiceConfig describes the dependencies of the board metadata service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service answers board metadata lookups for the placement core and
// supports creating boards so the engine can be exercised end to end.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the board service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("board: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// Get returns the board configuration for the identifier.
func (s *Service) Get(ctx context.Context, boardID string) (Board, error) {
	var stored Board
	err := s.db.WithContext(ctx).
		Where("board_id = ?", boardID).
		Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Board{}, ErrNotFound
	}
	if err != nil {
		return Board{}, err
	}
	return stored, nil
}

// Create persists a new board definition.
func (s *Service) Create(ctx context.Context, b Board) (Board, error) {
	if strings.TrimSpace(b.BoardID) == "" {
		return Board{}, fmt.Errorf("%w: empty board id", ErrInvalidBoard)
	}
	if b.Width <= 0 || b.Height <= 0 {
		return Board{}, fmt.Errorf("%w: dimensions must be positive", ErrInvalidBoard)
	}
	if b.CooldownSeconds < 0 {
		return Board{}, fmt.Errorf("%w: cooldown must not be negative", ErrInvalidBoard)
	}
	if b.StartTimeMS > 0 && b.EndTimeMS > 0 && b.EndTimeMS < b.StartTimeMS {
		return Board{}, fmt.Errorf("%w: end time precedes start time", ErrInvalidBoard)
	}

	b.CreatedAtMS = s.now().UnixMilli()
	if err := s.db.WithContext(ctx).Create(&b).Error; err != nil {
		return Board{}, err
	}
	return b, nil
}
