package board

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	dsn := fmt.Sprintf("file:board_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Board{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    func() time.Time { return time.UnixMilli(1700000000000).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct board service: %v", err)
	}
	return service
}

func TestCreateAndGetBoard(t *testing.T) {
	service := newTestService(t)

	created, err := service.Create(context.Background(), Board{
		BoardID:         "board-1",
		Name:            "main canvas",
		Width:           100,
		Height:          50,
		CooldownSeconds: 30,
		AllowOverwrite:  true,
		IsActive:        true,
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if created.CreatedAtMS != 1700000000000 {
		t.Fatalf("unexpected creation timestamp %d", created.CreatedAtMS)
	}

	fetched, err := service.Get(context.Background(), "board-1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if fetched.Width != 100 || fetched.Height != 50 {
		t.Fatalf("unexpected dimensions %dx%d", fetched.Width, fetched.Height)
	}
	if fetched.CooldownSeconds != 30 {
		t.Fatalf("unexpected cooldown %d", fetched.CooldownSeconds)
	}
}

func TestGetMissingBoard(t *testing.T) {
	service := newTestService(t)

	_, err := service.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateRejectsInvalidDefinitions(t *testing.T) {
	service := newTestService(t)

	tests := []struct {
		name  string
		board Board
	}{
		{name: "empty-id", board: Board{Width: 10, Height: 10}},
		{name: "zero-width", board: Board{BoardID: "b", Width: 0, Height: 10}},
		{name: "negative-cooldown", board: Board{BoardID: "b", Width: 10, Height: 10, CooldownSeconds: -1}},
		{name: "inverted-window", board: Board{BoardID: "b", Width: 10, Height: 10, StartTimeMS: 2000, EndTimeMS: 1000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := service.Create(context.Background(), tt.board); !errors.Is(err, ErrInvalidBoard) {
				t.Fatalf("expected ErrInvalidBoard, got %v", err)
			}
		})
	}
}

func TestActiveAtWindow(t *testing.T) {
	b := Board{
		IsActive:    true,
		StartTimeMS: 1000,
		EndTimeMS:   2000,
	}

	tests := []struct {
		name   string
		nowMS  int64
		active bool
	}{
		{name: "before-start", nowMS: 500, active: false},
		{name: "at-start", nowMS: 1000, active: true},
		{name: "inside", nowMS: 1500, active: true},
		{name: "at-end", nowMS: 2000, active: true},
		{name: "expired", nowMS: 2001, active: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.ActiveAt(time.UnixMilli(tt.nowMS)); got != tt.active {
				t.Fatalf("ActiveAt(%d) = %v, want %v", tt.nowMS, got, tt.active)
			}
		})
	}

	inactive := Board{IsActive: false}
	if inactive.ActiveAt(time.UnixMilli(1500)) {
		t.Fatal("inactive board must never be active")
	}

	unbounded := Board{IsActive: true}
	if !unbounded.ActiveAt(time.UnixMilli(1)) {
		t.Fatal("board without window must be active")
	}
}
