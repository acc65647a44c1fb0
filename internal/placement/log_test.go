package placement

import (
	"context"
	"testing"
)

func seedEvents(t *testing.T, log *EventLog, events []PlacementEvent) {
	t.Helper()
	for i := range events {
		if err := log.db.Create(&events[i]).Error; err != nil {
			t.Fatalf("failed to seed event: %v", err)
		}
	}
}

func TestReadAllReturnsCommitOrder(t *testing.T) {
	log, err := NewEventLog(newTestDB(t))
	if err != nil {
		t.Fatalf("failed to construct log: %v", err)
	}

	// Inserted out of order on purpose; two events share a timestamp.
	seedEvents(t, log, []PlacementEvent{
		{EventID: "e3", BoardID: "board-1", X: 3, Y: 0, Color: "#333333", TimestampMS: 2000, Seq: 3},
		{EventID: "e1", BoardID: "board-1", X: 1, Y: 0, Color: "#111111", TimestampMS: 1000, Seq: 1},
		{EventID: "e2", BoardID: "board-1", X: 2, Y: 0, Color: "#222222", TimestampMS: 2000, Seq: 2},
		{EventID: "other", BoardID: "board-2", X: 0, Y: 0, Color: "#999999", TimestampMS: 500, Seq: 1},
	})

	events, err := log.ReadAll(context.Background(), "board-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, wantSeq := range []int64{1, 2, 3} {
		if events[i].Seq != wantSeq {
			t.Fatalf("position %d: expected seq %d, got %d", i, wantSeq, events[i].Seq)
		}
	}
}

func TestReadSinceIsStrictlyAfter(t *testing.T) {
	log, err := NewEventLog(newTestDB(t))
	if err != nil {
		t.Fatalf("failed to construct log: %v", err)
	}

	seedEvents(t, log, []PlacementEvent{
		{EventID: "e1", BoardID: "board-1", TimestampMS: 1000, Seq: 1},
		{EventID: "e2", BoardID: "board-1", TimestampMS: 2000, Seq: 2},
		{EventID: "e3", BoardID: "board-1", TimestampMS: 3000, Seq: 3},
	})

	events, err := log.ReadSince(context.Background(), "board-1", 2000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Seq != 3 {
		t.Fatalf("expected only the event after 2000, got %#v", events)
	}

	// Repeating the same query yields the same answer.
	again, err := log.ReadSince(context.Background(), "board-1", 2000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(again) != 1 || again[0].EventID != events[0].EventID {
		t.Fatalf("expected identical repeat read, got %#v", again)
	}
}

func TestHistoryAndLatestAt(t *testing.T) {
	log, err := NewEventLog(newTestDB(t))
	if err != nil {
		t.Fatalf("failed to construct log: %v", err)
	}

	seedEvents(t, log, []PlacementEvent{
		{EventID: "e1", BoardID: "board-1", X: 4, Y: 4, Color: "#111111", TimestampMS: 1000, Seq: 1},
		{EventID: "e2", BoardID: "board-1", X: 4, Y: 4, Color: "#222222", TimestampMS: 2000, Seq: 2},
		{EventID: "e3", BoardID: "board-1", X: 5, Y: 5, Color: "#333333", TimestampMS: 3000, Seq: 3},
	})

	history, err := log.HistoryAt(context.Background(), "board-1", 4, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 || history[0].Color != "#111111" || history[1].Color != "#222222" {
		t.Fatalf("unexpected history %#v", history)
	}

	latest, found, err := log.LatestAt(context.Background(), "board-1", 4, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || latest.Color != "#222222" {
		t.Fatalf("unexpected latest %#v found=%v", latest, found)
	}

	_, found, err = log.LatestAt(context.Background(), "board-1", 9, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected no event at untouched coordinate")
	}
}

func TestLastUserPlacementMS(t *testing.T) {
	log, err := NewEventLog(newTestDB(t))
	if err != nil {
		t.Fatalf("failed to construct log: %v", err)
	}

	seedEvents(t, log, []PlacementEvent{
		{EventID: "e1", BoardID: "board-1", UserID: "user-a", TimestampMS: 1000, Seq: 1},
		{EventID: "e2", BoardID: "board-1", UserID: "user-a", TimestampMS: 5000, Seq: 2},
		{EventID: "e3", BoardID: "board-1", UserID: "user-b", TimestampMS: 9000, Seq: 3},
	})

	lastMS, found, err := log.LastUserPlacementMS(context.Background(), "board-1", "user-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || lastMS != 5000 {
		t.Fatalf("expected 5000, got %d found=%v", lastMS, found)
	}

	_, found, err = log.LastUserPlacementMS(context.Background(), "board-1", "user-c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected no placement for unknown user")
	}
}
