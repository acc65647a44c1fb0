package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/florianbrrl/pixelboard/internal/board"
)

func dialBoard(t *testing.T, env *testEnv, boardID string) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(env.server.URL, "http://", "ws://", 1) + "/boards/" + boardID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebSocketDeliversCommittedPlacements(t *testing.T) {
	env := newTestEnv(t)
	env.seedBoard(t, board.Board{BoardID: "board-1", Width: 10, Height: 10, AllowOverwrite: true, IsActive: true})

	conn := dialBoard(t, env, "board-1")

	colors := []string{"#112233", "#445566"}
	for i, color := range colors {
		response := env.do(t, http.MethodPost, "/boards/board-1/pixels", "",
			map[string]any{"x": i, "y": 0, "color": color})
		if response.StatusCode != http.StatusCreated {
			t.Fatalf("unexpected place status %d", response.StatusCode)
		}
	}

	for i, expected := range colors {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("failed to read event %d: %v", i, err)
		}
		var event struct {
			BoardID   string `json:"board_id"`
			X         int    `json:"x"`
			Y         int    `json:"y"`
			Color     string `json:"color"`
			Timestamp int64  `json:"timestamp"`
			Seq       int64  `json:"seq"`
		}
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("failed to decode event %d: %v", i, err)
		}
		if event.BoardID != "board-1" || event.X != i || event.Color != expected {
			t.Fatalf("unexpected event %d: %#v", i, event)
		}
		if event.Timestamp <= 0 || event.Seq != int64(i+1) {
			t.Fatalf("unexpected ordering fields on event %d: %#v", i, event)
		}
	}
}

func TestWebSocketIsolatesBoards(t *testing.T) {
	env := newTestEnv(t)
	env.seedBoard(t, board.Board{BoardID: "board-1", Width: 10, Height: 10, AllowOverwrite: true, IsActive: true})
	env.seedBoard(t, board.Board{BoardID: "board-2", Width: 10, Height: 10, AllowOverwrite: true, IsActive: true})

	conn := dialBoard(t, env, "board-2")

	response := env.do(t, http.MethodPost, "/boards/board-1/pixels", "",
		map[string]any{"x": 0, "y": 0, "color": "#FF0000"})
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected place status %d", response.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, payload, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no delivery for other board, got %s", payload)
	}
}

func TestWebSocketRejectsUnknownBoard(t *testing.T) {
	env := newTestEnv(t)

	wsURL := strings.Replace(env.server.URL, "http://", "ws://", 1) + "/boards/missing/ws"
	conn, response, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		conn.Close()
		t.Fatal("expected dial to fail for unknown board")
	}
	if response == nil || response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake response, got %#v", response)
	}
}
