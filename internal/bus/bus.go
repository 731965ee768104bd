// Package bus is a synchronous in-process publish/subscribe bus with
// kind-filtered and catch-all subscribers.
package bus

import (
	"fmt"
	"sync"

	"github.com/eventui/server/pkg/core"
)

// Kinded values name their variant; subscribers filter on it.
type Kinded interface {
	Kind() string
}

// Handler receives published values. A returned error is logged and does
// not stop delivery to other handlers.
type Handler[T Kinded] func(T) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Subscription identifies a registered handler for Unsubscribe.
type Subscription struct {
	id   uint64
	kind string
	all  bool
}

type entry[T Kinded] struct {
	id uint64
	fn Handler[T]
}

// Bus delivers values to subscribers in registration order: kind-filtered
// subscribers first, then catch-all subscribers.
//
// Subscriber slices are copy-on-write, so Publish works on a snapshot and
// handlers may subscribe or unsubscribe while a publish is in progress.
type Bus[T Kinded] struct {
	name   string
	logger Logger

	mu     sync.Mutex
	nextID uint64
	typed  map[string][]entry[T]
	all    []entry[T]
}

// SignalBus carries player actions into the progression engine.
type SignalBus = Bus[core.Signal]

// EventBus carries domain events out of the progression engine.
type EventBus = Bus[core.Event]

// New creates an empty bus. name is used in log output.
func New[T Kinded](name string, logger Logger) *Bus[T] {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Bus[T]{
		name:   name,
		logger: logger,
		typed:  make(map[string][]entry[T]),
	}
}

func NewSignalBus(logger Logger) *SignalBus {
	return New[core.Signal]("signal", logger)
}

func NewEventBus(logger Logger) *EventBus {
	return New[core.Event]("event", logger)
}

// Subscribe registers fn for values whose Kind() equals kind.
func (b *Bus[T]) Subscribe(kind string, fn Handler[T]) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	cur := b.typed[kind]
	next := make([]entry[T], len(cur), len(cur)+1)
	copy(next, cur)
	b.typed[kind] = append(next, entry[T]{id: b.nextID, fn: fn})

	return Subscription{id: b.nextID, kind: kind}
}

// SubscribeAll registers fn for every published value.
func (b *Bus[T]) SubscribeAll(fn Handler[T]) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	next := make([]entry[T], len(b.all), len(b.all)+1)
	copy(next, b.all)
	b.all = append(next, entry[T]{id: b.nextID, fn: fn})

	return Subscription{id: b.nextID, all: true}
}

// Unsubscribe removes a subscription. Unknown or already removed
// subscriptions are ignored.
func (b *Bus[T]) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.all {
		b.all = without(b.all, sub.id)
		return
	}
	cur, ok := b.typed[sub.kind]
	if !ok {
		return
	}
	next := without(cur, sub.id)
	if len(next) == 0 {
		delete(b.typed, sub.kind)
		return
	}
	b.typed[sub.kind] = next
}

// Clear drops every subscriber.
func (b *Bus[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.typed = make(map[string][]entry[T])
	b.all = nil
}

// Len returns the number of registered subscribers.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.all)
	for _, s := range b.typed {
		n += len(s)
	}
	return n
}

// Publish delivers v synchronously and returns the number of handlers
// that failed.
func (b *Bus[T]) Publish(v T) int {
	kind := v.Kind()

	b.mu.Lock()
	typed := b.typed[kind]
	all := b.all
	b.mu.Unlock()

	failed := 0
	for _, e := range typed {
		if err := b.deliver(e, v); err != nil {
			failed++
			b.logger.Error("subscriber failed", "bus", b.name, "kind", kind, "subscription", e.id, "error", err)
		}
	}
	for _, e := range all {
		if err := b.deliver(e, v); err != nil {
			failed++
			b.logger.Error("subscriber failed", "bus", b.name, "kind", kind, "subscription", e.id, "error", err)
		}
	}
	return failed
}

func (b *Bus[T]) deliver(e entry[T], v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.fn(v)
}

func without[T Kinded](entries []entry[T], id uint64) []entry[T] {
	for i, e := range entries {
		if e.id == id {
			next := make([]entry[T], 0, len(entries)-1)
			next = append(next, entries[:i]...)
			return append(next, entries[i+1:]...)
		}
	}
	return entries
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
