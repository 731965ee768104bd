// Package progression implements the mission progression engine: per-player
// mission state, objective counters, and the index that routes signals to
// the few missions they can affect.
package progression

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/eventui/server/internal/bus"
	"github.com/eventui/server/internal/geo"
	"github.com/eventui/server/internal/queue"
	"github.com/eventui/server/pkg/core"
)

// DefaultQueueSize bounds the signal ingestion queue.
const DefaultQueueSize = 50_000

// Logger interface for pluggable logging.
type Logger = bus.Logger

// Dependencies holds all dependencies for the engine.
type Dependencies struct {
	Signals *bus.SignalBus
	Events  *bus.EventBus
	Logger  Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// QueueSize defaults to DefaultQueueSize.
	QueueSize int
}

// Engine owns the registry, player states, tracker and index, and exposes
// the command and query API.
type Engine struct {
	deps     Dependencies
	registry *Registry
	players  *PlayerStore
	tracker  *Tracker
	index    *Index
	pending  *queue.Queue[core.Signal]
	areas    atomic.Pointer[map[string]geo.Area]

	signalSub bus.Subscription
	metrics   *metrics
}

// LoadReport summarizes a definition load.
type LoadReport struct {
	Loaded   int
	Rejected map[string][]string
	Warnings map[string][]string
}

// New creates an engine subscribed to deps.Signals.
func New(deps Dependencies) (*Engine, error) {
	if deps.Signals == nil || deps.Events == nil {
		return nil, fmt.Errorf("progression: signal and event buses are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("progression: logger is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.QueueSize <= 0 {
		deps.QueueSize = DefaultQueueSize
	}

	e := &Engine{
		deps:     deps,
		registry: NewRegistry(),
		players:  NewPlayerStore(),
		tracker:  NewTracker(),
		index:    NewIndex(),
		pending:  queue.NewBounded[core.Signal](deps.QueueSize),
	}
	empty := map[string]geo.Area{}
	e.areas.Store(&empty)

	m, err := newMetrics(e.pending.Len)
	if err != nil {
		return nil, err
	}
	e.metrics = m

	e.signalSub = deps.Signals.SubscribeAll(e.handleSignal)
	return e, nil
}

// Close detaches the engine from the signal bus.
func (e *Engine) Close() {
	e.deps.Signals.Unsubscribe(e.signalSub)
}

func (e *Engine) now() time.Time {
	return e.deps.Now().UTC()
}

// Load validates defs and replaces the catalogue with the valid ones.
// Definitions with hard errors are never registered.
func (e *Engine) Load(defs []*core.MissionDefinition) LoadReport {
	report := LoadReport{
		Rejected: make(map[string][]string),
		Warnings: make(map[string][]string),
	}

	accepted := make([]*core.MissionDefinition, 0, len(defs))
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		v := Validate(d)
		if seen[d.ID] {
			v.Errors = append(v.Errors, "duplicate mission id")
		}
		if !v.Valid() {
			report.Rejected[d.ID] = v.Errors
			e.deps.Logger.Error("mission definition rejected", "mission", d.ID, "errors", v.Errors)
			continue
		}
		if len(v.Warnings) > 0 {
			report.Warnings[d.ID] = v.Warnings
			e.deps.Logger.Info("mission definition has warnings", "mission", d.ID, "warnings", v.Warnings)
		}
		seen[d.ID] = true
		accepted = append(accepted, d)
	}

	e.registry.Replace(accepted)
	all, gen := e.registry.Snapshot()
	e.index.Rebuild(all)
	e.compileAreas(all)

	for _, id := range e.players.Players() {
		if p, ok := e.players.Get(id); ok {
			p.mu.Lock()
			e.syncLocked(p, all, gen)
			p.mu.Unlock()
		}
	}

	report.Loaded = len(accepted)
	e.deps.Logger.Info("mission definitions loaded", "loaded", report.Loaded, "rejected", len(report.Rejected))
	return report
}

func (e *Engine) compileAreas(defs []*core.MissionDefinition) {
	areas := make(map[string]geo.Area)
	for _, d := range defs {
		for _, o := range d.Objectives {
			if o.Kind != core.ObjectiveReachLocation || o.Area == "" {
				continue
			}
			a, err := geo.ParseArea(o.Area)
			if err != nil {
				continue
			}
			areas[areaKey(d.ID, o.ID)] = a
		}
	}
	e.areas.Store(&areas)
}

func areaKey(missionID, objectiveID string) string {
	return missionID + "/" + objectiveID
}

// syncLocked refreshes p against the given registry snapshot and forgets
// active missions whose definition was removed. Must be called with p.mu held.
func (e *Engine) syncLocked(p *PlayerMissions, defs []*core.MissionDefinition, gen uint64) {
	for _, id := range p.sync(defs, gen) {
		e.index.Deactivate(p.PlayerID, id)
		e.tracker.ResetMission(p.PlayerID, id)
		e.deps.Logger.Info("active mission removed from catalogue", "player", p.PlayerID, "mission", id)
	}
}

// lockPlayer returns the player's container locked and in sync with the
// registry, creating it on first reference.
func (e *Engine) lockPlayer(player uuid.UUID) *PlayerMissions {
	p, _ := e.players.GetOrCreate(player)
	e.lockSynced(p)
	return p
}

// lockLoadedPlayer is lockPlayer for players already in memory. Callers
// outside the player's own session use it so they never create state that
// a later restore would be skipped for.
func (e *Engine) lockLoadedPlayer(player uuid.UUID) (*PlayerMissions, error) {
	p, ok := e.players.Get(player)
	if !ok {
		return nil, notLoaded(player)
	}
	e.lockSynced(p)
	return p, nil
}

func (e *Engine) lockSynced(p *PlayerMissions) {
	p.mu.Lock()
	if p.stale(e.registry.Generation()) {
		defs, gen := e.registry.Snapshot()
		e.syncLocked(p, defs, gen)
	}
}

func notLoaded(player uuid.UUID) error {
	return core.Failf(core.CodePlayerNotFound, core.ErrPlayerNotFound, "player not loaded: %s", player)
}

// withPlayer runs fn with the player locked, then publishes the events fn
// returned. Events are published after the lock is released so subscribers
// may call back into the engine.
func (e *Engine) withPlayer(player uuid.UUID, fn func(p *PlayerMissions, now time.Time) ([]core.Event, error)) error {
	return e.run(e.lockPlayer(player), fn)
}

// withLoadedPlayer is withPlayer failing with ErrPlayerNotFound for players
// not in memory.
func (e *Engine) withLoadedPlayer(player uuid.UUID, fn func(p *PlayerMissions, now time.Time) ([]core.Event, error)) error {
	p, err := e.lockLoadedPlayer(player)
	if err != nil {
		return err
	}
	return e.run(p, fn)
}

func (e *Engine) run(p *PlayerMissions, fn func(p *PlayerMissions, now time.Time) ([]core.Event, error)) error {
	events, err := fn(p, e.now())
	p.mu.Unlock()
	if err != nil {
		return err
	}
	e.publish(events...)
	return nil
}

func (e *Engine) publish(events ...core.Event) {
	for _, ev := range events {
		e.deps.Events.Publish(ev)
	}
}

// JoinPlayer makes sure the player's missions exist.
func (e *Engine) JoinPlayer(player uuid.UUID) {
	p := e.lockPlayer(player)
	p.mu.Unlock()
}

// LeavePlayer snapshots the player's state and drops it from memory.
// It returns ErrPlayerNotFound when the player was not loaded.
func (e *Engine) LeavePlayer(player uuid.UUID) (*core.PlayerMissionState, error) {
	state, err := e.Snapshot(player)
	if err != nil {
		return nil, err
	}
	e.players.Remove(player)
	e.tracker.DropPlayer(player)
	e.index.DropPlayer(player)
	return state, nil
}

// Players returns the loaded players.
func (e *Engine) Players() []uuid.UUID {
	return e.players.Players()
}

// Loaded reports whether the player's missions are in memory.
func (e *Engine) Loaded(player uuid.UUID) bool {
	_, ok := e.players.Get(player)
	return ok
}

// Enqueue queues a signal for the next Tick. It never blocks; a full queue
// drops the signal and returns an error.
func (e *Engine) Enqueue(s core.Signal) error {
	if err := e.pending.TryPush(s); err != nil {
		e.metrics.dropped.Add(context.Background(), 1, kindAttr(s.Kind()))
		return fmt.Errorf("enqueue %s: %w", s.Kind(), err)
	}
	return nil
}

// Tick publishes every queued signal on the signal bus and returns how
// many were processed.
func (e *Engine) Tick() int {
	sigs := e.pending.GetAndEmpty()
	for _, s := range sigs {
		e.deps.Signals.Publish(s)
		e.metrics.ingested.Add(context.Background(), 1, kindAttr(s.Kind()))
	}
	return len(sigs)
}

// Run ticks every interval until ctx is done, then drains once more.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Tick()
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// handleSignal is subscribed to the signal bus.
func (e *Engine) handleSignal(s core.Signal) error {
	player := s.Player()
	ids := e.index.RelevantActiveMissions(player, s.Objective())
	if len(ids) == 0 {
		return nil
	}
	p, ok := e.players.Get(player)
	if !ok {
		return nil
	}

	now := e.now()
	var events []core.Event
	var completed []string

	p.mu.Lock()
	for _, id := range ids {
		inst, ok := p.missions[id]
		if !ok || inst.State != core.StateActive {
			continue
		}
		d, ok := e.tracker.ProcessSignal(player, inst.Definition, s)
		if !ok || !d.Changed() {
			continue
		}
		events = append(events, progressEvent(player, id, d, now))
		if e.tracker.IsCompleted(player, inst.Definition) {
			completed = append(completed, id)
		}
	}
	p.mu.Unlock()

	if len(events) > 0 {
		e.metrics.matched.Add(context.Background(), 1, kindAttr(s.Kind()))
	}
	e.publish(events...)
	return e.completeAll(player, completed)
}

func (e *Engine) completeAll(player uuid.UUID, ids []string) error {
	var firstErr error
	for _, id := range ids {
		if err := e.Complete(player, id); err != nil {
			e.deps.Logger.Error("auto-complete failed", "player", player, "mission", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func progressEvent(player uuid.UUID, missionID string, d Delta, now time.Time) core.ProgressChanged {
	return core.ProgressChanged{
		EventBase:   core.EventBase{PlayerID: player, MissionID: missionID, Time: now},
		ObjectiveID: d.ObjectiveID,
		Old:         d.Old,
		New:         d.New,
		Target:      d.Target,
	}
}
