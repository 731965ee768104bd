package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventui/server/internal/bus"
	"github.com/eventui/server/internal/queue"
	"github.com/eventui/server/pkg/core"
)

// DefaultFlushInterval is used when PersisterDeps.FlushInterval is unset.
const DefaultFlushInterval = 30 * time.Second

// Save reasons, reported as the metric attribute and in logs.
const (
	reasonCritical = "critical"
	reasonFlush    = "flush"
	reasonLeave    = "leave"
)

// Engine is the part of the progression engine the persister drives.
type Engine interface {
	Loaded(player uuid.UUID) bool
	Players() []uuid.UUID
	JoinPlayer(player uuid.UUID)
	LeavePlayer(player uuid.UUID) (*core.PlayerMissionState, error)
	Snapshot(player uuid.UUID) (*core.PlayerMissionState, error)
	Restore(saved *core.PlayerMissionState) error
}

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// PersisterDeps holds all dependencies for the persister.
type PersisterDeps struct {
	Backend       Backend
	Engine        Engine
	Logger        Logger
	FlushInterval time.Duration
}

// Persister keeps the backend in step with the engine. A mission reaching
// COMPLETED is saved immediately; any other event marks the player dirty
// and the player is saved on the next flush.
type Persister struct {
	deps     PersisterDeps
	recorder EventRecorder
	dirty    *queue.Queue[uuid.UUID]
	metrics  *metrics

	mu sync.Mutex
	// players whose saved state was loaded or found missing by Join; only
	// these are ever saved
	joined map[uuid.UUID]struct{}
	// players whose saved state could not be restored; never overwritten
	blocked map[uuid.UUID]error

	events *bus.EventBus
	sub    bus.Subscription
}

// NewPersister creates a persister. Call Attach to start following events.
func NewPersister(deps PersisterDeps) (*Persister, error) {
	if deps.Backend == nil || deps.Engine == nil || deps.Logger == nil {
		return nil, errors.New("storage: backend, engine and logger are required")
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}

	p := &Persister{
		deps:    deps,
		dirty:   queue.New[uuid.UUID](),
		joined:  make(map[uuid.UUID]struct{}),
		blocked: make(map[uuid.UUID]error),
	}
	p.recorder, _ = deps.Backend.(EventRecorder)

	m, err := newMetrics(p.dirty.Len)
	if err != nil {
		return nil, err
	}
	p.metrics = m
	return p, nil
}

// Attach subscribes to every event on events.
func (p *Persister) Attach(events *bus.EventBus) {
	p.events = events
	p.sub = events.SubscribeAll(p.onEvent)
}

// Detach unsubscribes from the event bus.
func (p *Persister) Detach() {
	if p.events != nil {
		p.events.Unsubscribe(p.sub)
		p.events = nil
	}
}

func (p *Persister) onEvent(ev core.Event) error {
	if p.recorder != nil {
		if err := p.recorder.RecordEvent(ev); err != nil {
			p.deps.Logger.Error("failed to record event", "kind", ev.Kind(), "error", err)
		}
	}

	if sc, ok := ev.(core.StateChanged); ok && sc.New == core.StateCompleted {
		_, err := p.save(context.Background(), ev.Player(), reasonCritical)
		return err
	}
	p.dirty.Push(ev.Player())
	return nil
}

// Join loads the player's saved state into the engine, or starts the
// player fresh when nothing is saved. A player joined earlier and still
// loaded, e.g. after a reconnect, keeps its in-memory state. State the
// engine holds for a player that never joined is replaced.
func (p *Persister) Join(ctx context.Context, player uuid.UUID) error {
	if p.isJoined(player) && p.deps.Engine.Loaded(player) {
		return nil
	}
	saved, err := p.deps.Backend.LoadPlayer(ctx, player)
	if errors.Is(err, ErrNotFound) {
		p.deps.Engine.JoinPlayer(player)
		p.markJoined(player)
		p.deps.Logger.Debug("new player", "player", player)
		return nil
	}
	if err == nil {
		err = p.deps.Engine.Restore(saved)
	}
	if err != nil {
		p.metrics.failed.Add(ctx, 1, reasonAttr("load"))
		p.mu.Lock()
		p.blocked[player] = err
		p.mu.Unlock()
		return fmt.Errorf("join %s: %w", player, err)
	}

	p.markJoined(player)
	p.deps.Logger.Debug("restored player", "player", player, "active", len(saved.Active), "completed", len(saved.Completed))
	return nil
}

// Leave saves the player's state and unloads the player from the engine.
// Leaving a player that is not loaded is not an error.
func (p *Persister) Leave(ctx context.Context, player uuid.UUID) error {
	state, err := p.deps.Engine.LeavePlayer(player)
	if errors.Is(err, core.ErrPlayerNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = p.write(ctx, state, reasonLeave)
	p.mu.Lock()
	delete(p.joined, player)
	p.mu.Unlock()
	return err
}

// Flush saves every player marked dirty since the last flush and returns
// how many were saved.
func (p *Persister) Flush(ctx context.Context) int {
	seen := make(map[uuid.UUID]struct{})
	saved := 0
	for _, player := range p.dirty.GetAndEmpty() {
		if _, dup := seen[player]; dup {
			continue
		}
		seen[player] = struct{}{}
		if ok, _ := p.save(ctx, player, reasonFlush); ok {
			saved++
		}
	}
	return saved
}

// SaveAll saves every loaded player and returns how many were saved.
func (p *Persister) SaveAll(ctx context.Context) int {
	p.dirty.Clear()
	saved := 0
	for _, player := range p.deps.Engine.Players() {
		if ok, _ := p.save(ctx, player, reasonFlush); ok {
			saved++
		}
	}
	return saved
}

// Run flushes every FlushInterval until ctx is done, then flushes once more.
func (p *Persister) Run(ctx context.Context) {
	ticker := time.NewTicker(p.deps.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Flush(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			if n := p.Flush(ctx); n > 0 {
				p.deps.Logger.Debug("flushed player states", "count", n)
			}
		}
	}
}

// Dirty returns the number of queued dirty marks.
func (p *Persister) Dirty() int {
	return p.dirty.Len()
}

func (p *Persister) isJoined(player uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.joined[player]
	return ok
}

func (p *Persister) markJoined(player uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joined[player] = struct{}{}
	delete(p.blocked, player)
}

// save writes the player's current state and reports whether anything was
// written.
func (p *Persister) save(ctx context.Context, player uuid.UUID, reason string) (bool, error) {
	state, err := p.deps.Engine.Snapshot(player)
	if errors.Is(err, core.ErrPlayerNotFound) {
		// left before the flush; Leave already saved it
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.write(ctx, state, reason)
}

func (p *Persister) write(ctx context.Context, state *core.PlayerMissionState, reason string) (bool, error) {
	p.mu.Lock()
	blockErr, blocked := p.blocked[state.PlayerID]
	_, joined := p.joined[state.PlayerID]
	p.mu.Unlock()
	if blocked {
		p.deps.Logger.Debug("not saving player with unrestored state", "player", state.PlayerID, "error", blockErr)
		return false, nil
	}
	if !joined {
		p.deps.Logger.Debug("not saving player that never joined", "player", state.PlayerID)
		return false, nil
	}

	if err := p.deps.Backend.SavePlayer(ctx, state); err != nil {
		p.metrics.failed.Add(ctx, 1, reasonAttr(reason))
		p.deps.Logger.Error("failed to save player state", "player", state.PlayerID, "reason", reason, "error", err)
		return false, err
	}
	p.metrics.saves.Add(ctx, 1, reasonAttr(reason))
	return true, nil
}
