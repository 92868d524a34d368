package chathub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"roomrelay/backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBuffer     = 64
)

// WebSocketClient implements Client over a gorilla/websocket connection. Inbound frames
// are handed to its Session in the order they arrive.
type WebSocketClient struct {
	Conn    *websocket.Conn
	Session *Session
	Hub     *Hub
	Send    chan models.Delivery

	closeOnce sync.Once
}

var _ Client = (*WebSocketClient)(nil)

// NewWebSocketClient wraps conn for session.
func NewWebSocketClient(conn *websocket.Conn, session *Session, hub *Hub) *WebSocketClient {
	return &WebSocketClient{
		Conn:    conn,
		Session: session,
		Hub:     hub,
		Send:    make(chan models.Delivery, sendBuffer),
	}
}

func (c *WebSocketClient) GetConnectionID() string                { return c.Session.ConnectionID }
func (c *WebSocketClient) GetUserID() string                      { return c.Session.UserID }
func (c *WebSocketClient) GetRoomID() string                      { return c.Session.RoomID }
func (c *WebSocketClient) GetSendChannel() chan<- models.Delivery { return c.Send }

// Run starts the pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close closes the Send channel, which stops writePump and with it the connection.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

func (c *WebSocketClient) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	id := c.GetConnectionID()

	defer func() {
		cancel()
		if err := c.Session.Close(context.Background()); err != nil {
			log.Error().Err(err).Str("connectionID", id).Msg("ws: leave on disconnect failed")
		}
		c.Hub.Detach(id)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("connectionID", id).Msg("ws: read failed")
			}
			return
		}

		var frame models.InboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Debug().Err(err).Str("connectionID", id).Msg("ws: undecodable frame skipped")
			continue
		}

		// errors were already reported to the peer
		_ = c.Session.Handle(ctx, frame)

		if c.Session.State() == StateClosed {
			return
		}
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case delivery, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub closed the queue
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteJSON(delivery); err != nil {
				log.Debug().Err(err).Str("connectionID", c.GetConnectionID()).Msg("ws: write failed")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
