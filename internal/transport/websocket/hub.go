// Package websocket carries bridge frames to companion clients over
// gorilla/websocket, one connection per player.
package websocket

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"

	"github.com/eventui/server/internal/bridge"
)

const (
	defaultSendBuffer = 256
	defaultWriteWait  = 10 * time.Second
	maxFrameSize      = 1 << 20
)

// ErrSendBufferFull is returned when a player's outbound buffer is full.
var ErrSendBufferFull = errors.New("send buffer full")

// Config holds hub settings.
type Config struct {
	// Secret, when set, must match the "secret" query parameter.
	Secret     string
	SendBuffer int
	WriteWait  time.Duration
}

// Hub accepts companion-client connections and implements bridge.Transport.
type Hub struct {
	cfg      Config
	logger   *slog.Logger
	upgrader ws.Upgrader

	mu    sync.RWMutex
	conns map[uuid.UUID]*connection

	// OnMessage receives every binary frame. Required.
	OnMessage func(ctx context.Context, player uuid.UUID, frame []byte) error
	// OnConnect and OnDisconnect are optional lifecycle hooks.
	OnConnect    func(player uuid.UUID)
	OnDisconnect func(player uuid.UUID)
}

var _ bridge.Transport = (*Hub)(nil)

// NewHub creates a hub. Set OnMessage before serving.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	return &Hub{
		cfg:    cfg,
		logger: logger,
		upgrader: ws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[uuid.UUID]*connection),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.cfg.Secret != "" && subtle.ConstantTimeCompare([]byte(q.Get("secret")), []byte(h.cfg.Secret)) != 1 {
		http.Error(w, "invalid secret", http.StatusUnauthorized)
		return
	}
	player, err := uuid.Parse(q.Get("player"))
	if err != nil {
		http.Error(w, "missing or invalid player", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "player", player, "error", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	c := newConnection(player, conn, h.cfg.SendBuffer, h.cfg.WriteWait, h.logger)
	h.register(c)
	go c.writeLoop()

	h.readLoop(r.Context(), c)
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	old := h.conns[c.player]
	h.conns[c.player] = c
	h.mu.Unlock()

	if old != nil {
		h.logger.Info("Replacing existing connection", "player", c.player)
		old.close()
	}
	h.logger.Info("Companion client connected", "player", c.player)
	if h.OnConnect != nil {
		h.OnConnect(c.player)
	}
}

// unregister removes c unless it was already replaced. It reports whether
// c was the player's current connection.
func (h *Hub) unregister(c *connection) bool {
	h.mu.Lock()
	current := h.conns[c.player] == c
	if current {
		delete(h.conns, c.player)
	}
	h.mu.Unlock()
	c.close()
	return current
}

// readLoop forwards binary frames until the socket fails.
func (h *Hub) readLoop(ctx context.Context, c *connection) {
	defer func() {
		if h.unregister(c) {
			h.logger.Info("Companion client disconnected", "player", c.player)
			if h.OnDisconnect != nil {
				h.OnDisconnect(c.player)
			}
		}
	}()

	for {
		typ, frame, err := c.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				h.logger.Warn("WebSocket read error", "player", c.player, "error", err)
			}
			return
		}
		if typ != ws.BinaryMessage {
			h.logger.Debug("Ignoring non-binary frame", "player", c.player, "type", typ)
			continue
		}
		if err := h.OnMessage(ctx, c.player, frame); err != nil {
			h.logger.Debug("Frame rejected", "player", c.player, "error", err)
		}
	}
}

// Send queues frame for the player's write loop. It never blocks.
func (h *Hub) Send(player uuid.UUID, frame []byte) error {
	h.mu.RLock()
	c := h.conns[player]
	h.mu.RUnlock()

	if c == nil {
		return bridge.ErrPeerUnreachable
	}
	if !c.send(frame) {
		return fmt.Errorf("%w: %s", ErrSendBufferFull, player)
	}
	return nil
}

// Connected reports whether the player has a live connection.
func (h *Hub) Connected(player uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[player]
	return ok
}

// Count returns the number of connected players.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client. OnDisconnect fires for each as its read
// loop exits.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}
