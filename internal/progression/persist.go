package progression

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventui/server/internal/result"
	"github.com/eventui/server/pkg/core"
)

// Snapshot captures the player's progression for persistence.
func (e *Engine) Snapshot(player uuid.UUID) (*core.PlayerMissionState, error) {
	p, ok := e.players.Get(player)
	if !ok {
		return nil, notLoaded(player)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	state := core.NewPlayerMissionState(player)
	for _, id := range p.order {
		inst := p.missions[id]
		switch inst.State {
		case core.StateCompleted:
			state.Completed = append(state.Completed, id)
		case core.StateActive:
			state.Active = append(state.Active, id)
		case core.StateFailed:
			state.Failed = append(state.Failed, id)
		}
		if t, err := inst.StartedAt.Get(); err == nil {
			state.StartedAt[id] = t
		}
		if t, err := inst.CompletedAt.Get(); err == nil {
			state.CompletedAt[id] = t
		}
	}
	for id, counters := range e.tracker.Snapshot(player) {
		if _, ok := p.missions[id]; ok {
			state.Progress[id] = counters
		}
	}
	return state, nil
}

// Migrate upgrades a saved state to StateSchemaVersion in place.
func Migrate(state *core.PlayerMissionState) error {
	if state.Version > core.StateSchemaVersion {
		return fmt.Errorf("%w: %d", core.ErrUnsupportedSchema, state.Version)
	}
	if state.Progress == nil {
		state.Progress = make(map[string]map[string]int)
	}
	if state.Version == 0 {
		// v0 stored no timestamps.
		state.StartedAt = make(map[string]time.Time)
		state.CompletedAt = make(map[string]time.Time)
	}
	if state.StartedAt == nil {
		state.StartedAt = make(map[string]time.Time)
	}
	if state.CompletedAt == nil {
		state.CompletedAt = make(map[string]time.Time)
	}
	state.Version = core.StateSchemaVersion
	return nil
}

// Restore replaces the player's in-memory progression with a saved state.
// Mission ids no longer in the catalogue are skipped. No events are emitted.
func (e *Engine) Restore(saved *core.PlayerMissionState) error {
	state := saved.Clone()
	if err := Migrate(state); err != nil {
		return err
	}
	player := state.PlayerID

	e.tracker.DropPlayer(player)
	e.index.DropPlayer(player)

	defs, gen := e.registry.Snapshot()
	p := newPlayerMissions(player)
	p.mu.Lock()
	p.sync(defs, gen)

	apply := func(ids []string, st core.MissionState) {
		for _, id := range ids {
			inst, ok := p.missions[id]
			if !ok {
				e.deps.Logger.Info("skipping unknown mission in saved state", "player", player, "mission", id)
				continue
			}
			inst.State = st
			if t, ok := state.StartedAt[id]; ok {
				inst.StartedAt = result.Some(t)
			}
			if t, ok := state.CompletedAt[id]; ok {
				inst.CompletedAt = result.Some(t)
			}
			if counters, ok := state.Progress[id]; ok || st == core.StateActive {
				e.tracker.RestoreMission(player, inst.Definition, counters)
			}
			if st == core.StateActive {
				e.index.Activate(player, id)
			}
		}
	}
	apply(state.Completed, core.StateCompleted)
	apply(state.Failed, core.StateFailed)
	apply(state.Active, core.StateActive)

	for _, id := range p.order {
		inst := p.missions[id]
		if inst.State != core.StateLocked && inst.State != core.StateAvailable {
			continue
		}
		if p.prerequisitesMet(inst.Definition) {
			inst.State = core.StateAvailable
		} else {
			inst.State = core.StateLocked
		}
	}
	p.mu.Unlock()

	e.players.Put(p)
	e.deps.Logger.Debug("player state restored", "player", player,
		"active", len(state.Active), "completed", len(state.Completed))
	return nil
}
