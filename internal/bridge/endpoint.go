package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/eventui/server/internal/result"
	wire "github.com/eventui/server/pkg/bridge"
)

// ErrPeerUnreachable is reported when the player has no live connection.
var ErrPeerUnreachable = errors.New("peer unreachable")

// Transport moves encoded frames to a player's companion client.
// Send must not block.
type Transport interface {
	Send(player uuid.UUID, frame []byte) error
	Connected(player uuid.UUID) bool
}

// pendingRequest is a request awaiting its reply. stop releases the
// context watch once the request resolves.
type pendingRequest struct {
	out  chan result.Result[wire.Message]
	stop func() bool
}

// Endpoint is the server side of the bridge: it sends messages, matches
// replies to pending requests and dispatches everything else.
type Endpoint struct {
	transport  Transport
	logger     Logger
	dispatcher *Dispatcher

	mu      sync.Mutex
	pending map[uuid.UUID]*pendingRequest

	sent       metric.Int64Counter
	sendFailed metric.Int64Counter
}

// NewEndpoint creates an endpoint sending through t.
func NewEndpoint(t Transport, logger Logger) (*Endpoint, error) {
	e := &Endpoint{
		transport: t,
		logger:    logger,
		pending:   make(map[uuid.UUID]*pendingRequest),
	}

	d, err := NewDispatcher(logger, e.deliver)
	if err != nil {
		return nil, err
	}
	e.dispatcher = d

	m := meter()
	e.sent, err = m.Int64Counter(
		"bridge.messages.sent",
		metric.WithDescription("Total messages handed to the transport"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sent counter: %w", err)
	}
	e.sendFailed, err = m.Int64Counter(
		"bridge.messages.send_failed",
		metric.WithDescription("Total messages the transport refused"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating send failed counter: %w", err)
	}
	return e, nil
}

// Dispatcher returns the dispatcher inbound messages are routed through.
func (e *Endpoint) Dispatcher() *Dispatcher {
	return e.dispatcher
}

// Send encodes msg and hands it to the transport. The returned channel
// yields exactly one value: nil on success, ErrPeerUnreachable when the
// player is offline, or the encode/transport error. Send never blocks and
// never retries.
func (e *Endpoint) Send(msg wire.Message) <-chan error {
	done := make(chan error, 1)
	done <- e.send(msg)
	return done
}

func (e *Endpoint) send(msg wire.Message) error {
	ctx := context.Background()
	if !e.transport.Connected(msg.PlayerID) {
		e.sendFailed.Add(ctx, 1, kindAttr(msg.Kind))
		return fmt.Errorf("send %s to %s: %w", msg.Kind, msg.PlayerID, ErrPeerUnreachable)
	}
	frame, err := wire.Encode(msg)
	if err != nil {
		e.sendFailed.Add(ctx, 1, kindAttr(msg.Kind))
		return fmt.Errorf("encode %s: %w", msg.Kind, err)
	}
	if err := e.transport.Send(msg.PlayerID, frame); err != nil {
		e.sendFailed.Add(ctx, 1, kindAttr(msg.Kind))
		return fmt.Errorf("send %s to %s: %w", msg.Kind, msg.PlayerID, err)
	}
	e.sent.Add(ctx, 1, kindAttr(msg.Kind))
	return nil
}

// deliver sends dispatcher output, logging failures.
func (e *Endpoint) deliver(msg wire.Message) {
	if err := e.send(msg); err != nil {
		e.logger.Error("failed to deliver reply", "kind", msg.Kind, "player", msg.PlayerID, "error", err)
	}
}

// Reply sends a response correlated to req.
func (e *Endpoint) Reply(req wire.Message, kind wire.Kind, payload map[string]string) <-chan error {
	return e.Send(req.Reply(kind, payload))
}

// Request sends a message and returns a channel that yields the correlated
// reply. The request is released with ctx.Err() if ctx ends first. Nothing
// blocks while waiting.
func (e *Endpoint) Request(ctx context.Context, player uuid.UUID, kind wire.Kind, payload map[string]string) <-chan result.Result[wire.Message] {
	msg := wire.NewMessage(kind, player, payload)
	out := make(chan result.Result[wire.Message], 1)

	req := &pendingRequest{out: out}
	e.mu.Lock()
	e.pending[msg.ID] = req
	if ctx.Done() != nil {
		req.stop = context.AfterFunc(ctx, func() {
			e.resolve(msg.ID, result.Fail[wire.Message](ctx.Err()))
		})
	}
	e.mu.Unlock()

	if err := e.send(msg); err != nil {
		e.resolve(msg.ID, result.Fail[wire.Message](err))
	}
	return out
}

// resolve completes a pending request once. It reports whether id was pending.
func (e *Endpoint) resolve(id uuid.UUID, r result.Result[wire.Message]) bool {
	e.mu.Lock()
	req, ok := e.pending[id]
	delete(e.pending, id)
	e.mu.Unlock()
	if !ok {
		return false
	}
	if req.stop != nil {
		req.stop()
	}
	req.out <- r
	return ok
}

// Pending returns the number of requests awaiting a reply.
func (e *Endpoint) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Receive decodes a frame from player. Replies to pending requests complete
// them; everything else is dispatched.
func (e *Endpoint) Receive(ctx context.Context, player uuid.UUID, frame []byte) error {
	msg, err := wire.Decode(frame)
	if err != nil {
		e.logger.Error("dropping undecodable frame", "player", player, "size", len(frame), "error", err)
		return fmt.Errorf("decode frame: %w", err)
	}
	msg.PlayerID = player

	if msg.IsReply() && e.resolve(msg.ReplyTo.UUID, result.Ok(msg)) {
		return nil
	}
	e.dispatcher.Dispatch(ctx, msg)
	return nil
}
