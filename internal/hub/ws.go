package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the request to a WebSocket connection, subscribes it
// to the board, and streams committed placements to the peer until it
// disconnects or falls behind.
func ServeWS(h *Hub, logger *zap.Logger, boardID string, w http.ResponseWriter, r *http.Request) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed",
			zap.String("board_id", boardID), zap.Error(err))
		return
	}

	// The request context ends when the handler returns even though the
	// hijacked connection lives on; the pumps own the subscription's
	// lifetime instead.
	subscription := h.Subscribe(context.Background(), boardID)
	client := &wsClient{
		conn:         conn,
		subscription: subscription,
		logger:       logger,
	}

	go client.writePump()
	go client.readPump()
}

type wsClient struct {
	conn         *websocket.Conn
	subscription *Subscription
	logger       *zap.Logger
}

// readPump consumes inbound frames to keep pong handling alive and to
// notice the peer going away. Subscribers never send application data.
func (c *wsClient) readPump() {
	defer func() {
		c.subscription.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket closed unexpectedly",
					zap.String("board_id", c.subscription.BoardID()), zap.Error(err))
			}
			return
		}
	}
}

// writePump streams events from the subscription to the peer in commit
// order, with per-write deadlines so one unresponsive connection never
// stalls the hub.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.subscription.Close()
		c.conn.Close()
	}()

	for {
		select {
		case event := <-c.subscription.Events():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			payload, err := json.Marshal(event)
			if err != nil {
				c.logger.Error("event marshal failed",
					zap.String("board_id", c.subscription.BoardID()), zap.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-c.subscription.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscription dropped"))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
