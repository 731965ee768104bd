package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

// connection owns one client socket with a single write goroutine.
type connection struct {
	player    uuid.UUID
	conn      *ws.Conn
	sendCh    chan []byte
	done      chan struct{} // closed on shutdown
	closeOnce sync.Once
	writeWait time.Duration

	logger *slog.Logger
}

func newConnection(player uuid.UUID, conn *ws.Conn, buffer int, writeWait time.Duration, logger *slog.Logger) *connection {
	return &connection{
		player:    player,
		conn:      conn,
		sendCh:    make(chan []byte, buffer),
		done:      make(chan struct{}),
		writeWait: writeWait,
		logger:    logger,
	}
}

// writeLoop drains sendCh and writes binary frames to the socket.
// It returns on write error or shutdown.
func (c *connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "player", c.player, "error", err)
				c.close()
				return
			}
			if err := c.conn.WriteMessage(ws.BinaryMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "player", c.player, "error", err)
				c.close()
				return
			}
		}
	}
}

// send pushes data to the write loop. Non-blocking; reports false if the
// channel is full or the connection is closed.
func (c *connection) send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.sendCh <- data:
		return true
	default:
		return false
	}
}

// close sends a close frame and shuts the socket down. Safe to call twice.
func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(c.writeWait),
		)
		_ = c.conn.Close()
	})
}
