// Package bridge routes decoded companion-client messages to handlers and
// correlates requests with their replies.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	wire "github.com/eventui/server/pkg/bridge"
	"github.com/eventui/server/pkg/core"
)

// ErrHandlerPanic wraps a value recovered from a panicking handler.
var ErrHandlerPanic = errors.New("handler panicked")

// HandlerFunc processes a message. A non-nil reply is sent back to the
// message's player; an error is turned into a KindError reply.
type HandlerFunc func(ctx context.Context, msg wire.Message) (*wire.Message, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

type queued struct {
	ctx context.Context
	msg wire.Message
}

// Dispatcher routes messages to handlers registered by kind. Every reply
// and every synthesized error goes to out.
type Dispatcher struct {
	handlers map[wire.Kind]HandlerFunc
	logger   Logger
	out      func(wire.Message)

	// OTEL metrics
	queueSize  metric.Int64ObservableGauge
	dispatched metric.Int64Counter
	failed     metric.Int64Counter
	dropped    metric.Int64Counter

	// Track buffers for gauge callback
	mu      sync.RWMutex
	buffers map[wire.Kind]chan queued
}

// NewDispatcher creates a Dispatcher that hands replies to out.
// Uses the global OTel meter for metrics (no-op if not configured).
func NewDispatcher(logger Logger, out func(wire.Message)) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[wire.Kind]HandlerFunc),
		buffers:  make(map[wire.Kind]chan queued),
		logger:   logger,
		out:      out,
	}

	m := meter()

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"bridge.dispatcher.queue.size",
		metric.WithDescription("Current number of messages in handler queues"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for kind, buf := range d.buffers {
				o.ObserveInt64(d.queueSize, int64(len(buf)), kindAttr(kind))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.dispatched, err = m.Int64Counter(
		"bridge.messages.dispatched",
		metric.WithDescription("Total messages handed to a handler"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dispatched counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"bridge.messages.failed",
		metric.WithDescription("Total messages answered with an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"bridge.messages.dropped",
		metric.WithDescription("Total messages dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given kind with optional configuration.
// Handlers must be registered before the first Dispatch.
func (d *Dispatcher) Register(kind wire.Kind, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := d.recovering(h)

	if cfg.logged {
		handler = d.withLogging(kind, handler)
	}

	if cfg.bufferSize > 0 {
		handler = d.withBuffer(kind, cfg.bufferSize, cfg.blocking, handler)
	}

	d.handlers[kind] = handler
}

// HasHandler returns true if a handler is registered for the kind.
func (d *Dispatcher) HasHandler(kind wire.Kind) bool {
	_, ok := d.handlers[kind]
	return ok
}

// Dispatch routes msg to its handler. Unknown kinds and failing handlers
// produce a KindError reply correlated to msg.
func (d *Dispatcher) Dispatch(ctx context.Context, msg wire.Message) {
	h, ok := d.handlers[msg.Kind]
	if !ok {
		d.failed.Add(ctx, 1, kindAttr(msg.Kind))
		d.logger.Error("no handler for message", "kind", msg.Kind, "player", msg.PlayerID)
		if msg.Kind == wire.KindError {
			// never answer an error with an error
			return
		}
		d.out(msg.ErrorReply(wire.ErrorCodeUnknownKind, fmt.Sprintf("unknown message type: %s", msg.Kind)))
		return
	}
	d.dispatched.Add(ctx, 1, kindAttr(msg.Kind))
	d.finish(ctx, msg, h)
}

func (d *Dispatcher) finish(ctx context.Context, msg wire.Message, h HandlerFunc) {
	reply, err := h(ctx, msg)
	if err != nil {
		d.failed.Add(ctx, 1, kindAttr(msg.Kind))
		d.out(msg.ErrorReply(errorCode(err), err.Error()))
		return
	}
	if reply != nil {
		d.out(*reply)
	}
}

// errorCode maps an error to the code reported to the client. Domain
// failures keep their own code.
func errorCode(err error) string {
	if errors.Is(err, ErrHandlerPanic) {
		return wire.ErrorCodePanic
	}
	return core.FailureCode(err, wire.ErrorCodeProcessing)
}

func (d *Dispatcher) recovering(h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, msg wire.Message) (reply *wire.Message, err error) {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("handler panic", "kind", msg.Kind, "player", msg.PlayerID, "panic", r)
				reply, err = nil, fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			}
		}()
		return h(ctx, msg)
	}
}

func (d *Dispatcher) withBuffer(kind wire.Kind, size int, blocking bool, h HandlerFunc) HandlerFunc {
	buffer := make(chan queued, size)

	d.mu.Lock()
	d.buffers[kind] = buffer
	d.mu.Unlock()

	go func() {
		for q := range buffer {
			d.finish(q.ctx, q.msg, h)
		}
	}()

	// The queued handler itself never replies; finish above does.
	if blocking {
		return func(ctx context.Context, msg wire.Message) (*wire.Message, error) {
			buffer <- queued{context.WithoutCancel(ctx), msg}
			return nil, nil
		}
	}

	return func(ctx context.Context, msg wire.Message) (*wire.Message, error) {
		select {
		case buffer <- queued{context.WithoutCancel(ctx), msg}:
			return nil, nil
		default:
			d.dropped.Add(ctx, 1, kindAttr(kind))
			return nil, fmt.Errorf("queue full: %s", kind)
		}
	}
}

func (d *Dispatcher) withLogging(kind wire.Kind, h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, msg wire.Message) (*wire.Message, error) {
		start := time.Now()
		d.logger.Debug("handling message", "kind", kind, "player", msg.PlayerID, "payload", len(msg.Payload))

		reply, err := h(ctx, msg)

		if err != nil {
			d.logger.Error("message failed", "kind", kind, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("message complete", "kind", kind, "duration", time.Since(start))
		}

		return reply, err
	}
}

func kindAttr(kind wire.Kind) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", kind.String()))
}
