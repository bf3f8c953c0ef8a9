// Package websocket is the concrete wire transport for the Push Channel
// Registry (§4.1): a gorilla/websocket adapter satisfying
// internal/pushchannel.Conn, plus the HTTP upgrade handler that attaches a
// connection after session validation.
//
// Grounded on chat-service/internal/handlers/chat_handler.go's
// HandleWebSocket/writePump/readPump shape (connection-cap rejection before
// upgrade, write-deadline-guarded pings) and
// websocket_handler.go's simpler ping/pong constants.
package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// conn adapts a *websocket.Conn to pushchannel.Conn. WriteMessage applies
// writeTimeout as a write deadline per call, mirroring the teacher's
// writePump setting a fresh deadline before every frame.
type conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func newConn(ws *websocket.Conn, writeTimeout time.Duration) *conn {
	return &conn{ws: ws, writeTimeout: writeTimeout}
}

func (c *conn) WriteMessage(data []byte) error {
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) Close() error {
	return c.ws.Close()
}

// closeWithCode sends a close frame carrying code before closing the
// underlying connection -- used to surface pushchannel.AuthCloseCode to the
// client on authentication failure.
func (c *conn) closeWithCode(code int, reason string) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = c.ws.Close()
}
