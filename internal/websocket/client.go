package websocket

import (
	"encoding/json"
	"time"

	"codeberg.org/algopatterns/cowrite/internal/errors"
	"codeberg.org/algopatterns/cowrite/internal/logger"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// creates a new webSocket client connection
func NewClient(id, sessionID, userID, displayName, replicaID, ipAddress string, limits Limits, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		ID:          id,
		SessionID:   sessionID,
		UserID:      userID,
		DisplayName: displayName,
		ReplicaID:   replicaID,
		IPAddress:   ipAddress,
		conn:        conn,
		hub:         hub,
		send:        make(chan []byte, sendBuffer),
		edits:       rate.NewLimiter(rate.Limit(limits.EditsPerSecond), max(limits.EditBurst, 1)),
		chats:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(max(limits.ChatPerMinute, 1))), max(limits.ChatPerMinute, 1)),
	}
}

// reads messages from the webSocket connection and dispatches them in
// arrival order
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister <- c
		c.conn.Close() //nolint:errcheck,gosec // G104: defer cleanup
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck,gosec // G104: websocket setup
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck,gosec // G104: pong handler
		return nil
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket error",
					"client_id", c.ID,
					"session_id", c.SessionID,
					"error", err,
				)
			}

			break
		}

		// any traffic proves the peer is alive
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck,gosec // G104: websocket timing

		var msg Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			c.SendError(errors.CodeBadRequest, "invalid message format", err.Error())
			continue
		}

		// set session ID, client ID, and user ID from the connection
		msg.SessionID = c.SessionID
		msg.ClientID = c.ID
		msg.UserID = c.UserID
		msg.Timestamp = time.Now()

		c.hub.handleMessage(c, &msg)
	}
}

// writes messages from the hub to the webSocket connection for sending to the client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck,gosec // G104: defer cleanup
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck,gosec // G104: websocket timing

			if !ok {
				// hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck,gosec // G104: close message
				return
			}

			// one websocket frame per message so clients can decode each frame as JSON
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck,gosec // G104: websocket ping timing

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sends a message to the client
func (c *Client) Send(msg *Message) (err error) {
	// recover from panic if channel is closed
	defer func() {
		if r := recover(); r != nil {
			err = ErrConnectionClosed
		}
	}()

	c.mu.RLock()

	if c.closed {
		c.mu.RUnlock()
		return ErrConnectionClosed
	}

	c.mu.RUnlock()

	messageBytes, marshalErr := json.Marshal(msg)
	if marshalErr != nil {
		return marshalErr
	}

	select {
	case c.send <- messageBytes:
		return nil
	default:
		// channel is full, send error directly to websocket before closing
		c.sendBufferOverflowError()
		c.Close()
		return ErrConnectionClosed
	}
}

// sends buffer overflow error directly to websocket (bypassing the full channel)
func (c *Client) sendBufferOverflowError() {
	if c.conn == nil {
		return
	}

	errorMsg, err := NewMessage(TypeError, c.SessionID, c.UserID, errors.ErrorResponse{
		Error:   "buffer_overflow",
		Message: "message buffer full, connection will be closed",
		Details: "too many messages queued, please reconnect",
	})
	if err != nil {
		return
	}

	errorBytes, err := json.Marshal(errorMsg)
	if err != nil {
		return
	}

	// write directly to websocket with short deadline
	c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck,gosec
	c.conn.WriteMessage(websocket.TextMessage, errorBytes)   //nolint:errcheck,gosec
}

// sends an error message to the client
func (c *Client) SendError(code, message, details string) {
	errorMsg, err := NewMessage(TypeError, c.SessionID, c.UserID, errors.ErrorResponse{
		Error:   code,
		Message: message,
		Details: sanitizeErrorString(details),
	})
	if err != nil {
		logger.ErrorErr(err, "failed to create error message",
			"client_id", c.ID,
			"session_id", c.SessionID,
			"error_code", code,
		)
		return
	}

	c.Send(errorMsg) //nolint:errcheck,gosec // G104: best effort error notification
}

// closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// checks if the client is closed
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.closed
}

// reports whether an edit batch may be sent now
func (c *Client) allowEdit() bool {
	return c.edits == nil || c.edits.Allow()
}

// reports whether a chat message may be sent now
func (c *Client) allowChat() bool {
	return c.chats == nil || c.chats.Allow()
}
