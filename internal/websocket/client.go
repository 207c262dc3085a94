package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// Inbound is one chat frame sent by a browser
type Inbound struct {
	Message string `json:"message"`
	Mode    string `json:"mode,omitempty"`
}

// TurnFunc runs one turn for a session and returns what every client of the session
// should see.
type TurnFunc func(ctx context.Context, sessionID string, in Inbound) (interface{}, error)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	Hub *Hub

	// The websocket connection.
	Conn *websocket.Conn

	// SessionID is the conversation this connection is bound to
	SessionID string

	// Buffered channel of outbound messages.
	Send chan []byte

	turn TurnFunc
}

func (c *Client) reply(frame Frame) {
	data, _ := json.Marshal(frame)
	c.Hub.sendTo(c, data)
}

// handle runs one inbound frame. Failures go to this client only; replies go to every
// client of the session.
func (c *Client) handle(raw []byte) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil || in.Message == "" {
		c.reply(Frame{Type: "error", Error: "expected {\"message\": \"...\"}"})
		return
	}

	ctx := context.Background()
	res, err := c.turn(ctx, c.SessionID, in)
	if err != nil {
		c.reply(Frame{Type: "error", Error: err.Error()})
		return
	}
	c.Hub.Deliver(ctx, c.SessionID, Frame{Type: "turn", Data: res})
}

// readPump pumps messages from the websocket connection to the engine.
func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister(c)
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn(hubModule, "Unexpected websocket close", map[string]interface{}{"session_id": c.SessionID, "error": err.Error()})
			}
			break
		}
		c.handle(message)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One frame per websocket message so clients can parse each as JSON
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
