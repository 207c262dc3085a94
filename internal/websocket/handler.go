package websocket

import (
	"github.com/gofiber/websocket/v2"
)

// ServeWs binds a connection to a session and serves it until the peer goes away.
func ServeWs(hub *Hub, c *websocket.Conn, sessionID string, turn TurnFunc) {
	client := &Client{Hub: hub, Conn: c, SessionID: sessionID, Send: make(chan []byte, 256), turn: turn}
	hub.Register(client)

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	client.readPump() // Run readPump in current goroutine (handler)
}
