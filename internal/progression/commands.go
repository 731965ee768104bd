package progression

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/eventui/server/internal/result"
	"github.com/eventui/server/pkg/core"
)

func find(p *PlayerMissions, missionID string) (*MissionInstance, error) {
	inst, ok := p.missions[missionID]
	if !ok {
		return nil, core.Failf(core.CodeMissionNotFound, core.ErrMissionNotFound, "mission not found: %s", missionID)
	}
	return inst, nil
}

// move applies a validated transition and returns its StateChanged event.
func (e *Engine) move(p *PlayerMissions, inst *MissionInstance, to core.MissionState, now time.Time) (core.Event, error) {
	from := inst.State
	next, err := Transition(from, to)
	if err != nil {
		return nil, err
	}
	inst.State = next
	e.metrics.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", next.String()),
	))
	return core.StateChanged{
		EventBase: core.EventBase{PlayerID: p.PlayerID, MissionID: inst.Definition.ID, Time: now},
		Old:       from,
		New:       next,
	}, nil
}

// Activate starts an AVAILABLE mission whose prerequisites are all completed.
func (e *Engine) Activate(player uuid.UUID, missionID string) error {
	return e.withPlayer(player, func(p *PlayerMissions, now time.Time) ([]core.Event, error) {
		inst, err := find(p, missionID)
		if err != nil {
			return nil, err
		}
		if !CanActivate(inst.State) {
			return nil, core.Failf(core.CodeInvalidState, core.ErrInvalidState,
				"cannot activate mission in state %s", inst.State)
		}
		for _, pre := range inst.Definition.Prerequisites {
			if pi, ok := p.missions[pre]; !ok || pi.State != core.StateCompleted {
				return nil, core.Failf(core.CodePrerequisite, core.ErrPrerequisite, "prerequisite not completed: %s", pre)
			}
		}

		ev, err := e.move(p, inst, core.StateActive, now)
		if err != nil {
			return nil, err
		}
		inst.StartedAt = result.Some(now)
		inst.CompletedAt = result.None[time.Time]()
		e.tracker.InitMission(player, inst.Definition)
		e.index.Activate(player, missionID)
		return []core.Event{ev}, nil
	})
}

// Abandon returns an ACTIVE mission to AVAILABLE and discards its progress.
func (e *Engine) Abandon(player uuid.UUID, missionID string) error {
	return e.withPlayer(player, func(p *PlayerMissions, now time.Time) ([]core.Event, error) {
		inst, err := find(p, missionID)
		if err != nil {
			return nil, err
		}
		if !CanAbandon(inst.State) {
			return nil, core.Failf(core.CodeInvalidState, core.ErrInvalidState,
				"cannot abandon mission in state %s", inst.State)
		}

		ev, err := e.move(p, inst, core.StateAvailable, now)
		if err != nil {
			return nil, err
		}
		inst.StartedAt = result.None[time.Time]()
		e.tracker.ResetMission(player, missionID)
		e.index.Deactivate(player, missionID)
		return []core.Event{ev}, nil
	})
}

// Complete finishes an ACTIVE mission and unlocks missions that depended on it.
func (e *Engine) Complete(player uuid.UUID, missionID string) error {
	return e.withPlayer(player, func(p *PlayerMissions, now time.Time) ([]core.Event, error) {
		inst, err := find(p, missionID)
		if err != nil {
			return nil, err
		}

		ev, err := e.move(p, inst, core.StateCompleted, now)
		if err != nil {
			return nil, err
		}
		inst.CompletedAt = result.Some(now)
		e.index.Deactivate(player, missionID)

		events := []core.Event{ev}
		return append(events, e.unlockDependentMissions(p, now)...), nil
	})
}

// unlockDependentMissions moves every LOCKED mission whose prerequisites
// are now all completed to AVAILABLE. Must be called with p.mu held.
func (e *Engine) unlockDependentMissions(p *PlayerMissions, now time.Time) []core.Event {
	var events []core.Event
	for _, id := range p.order {
		inst := p.missions[id]
		if inst.State != core.StateLocked || !p.prerequisitesMet(inst.Definition) {
			continue
		}
		if _, err := e.move(p, inst, core.StateAvailable, now); err != nil {
			continue
		}
		events = append(events, core.Unlocked{
			EventBase: core.EventBase{PlayerID: p.PlayerID, MissionID: id, Time: now},
		})
	}
	return events
}

// Fail ends an ACTIVE mission as FAILED.
func (e *Engine) Fail(player uuid.UUID, missionID, reason string) error {
	return e.withPlayer(player, func(p *PlayerMissions, now time.Time) ([]core.Event, error) {
		inst, err := find(p, missionID)
		if err != nil {
			return nil, err
		}

		ev, err := e.move(p, inst, core.StateFailed, now)
		if err != nil {
			return nil, err
		}
		e.index.Deactivate(player, missionID)
		return []core.Event{ev, core.Failed{
			EventBase: core.EventBase{PlayerID: player, MissionID: missionID, Time: now},
			Reason:    reason,
		}}, nil
	})
}

// Reset makes a COMPLETED repeatable mission AVAILABLE again.
func (e *Engine) Reset(player uuid.UUID, missionID string) error {
	return e.withPlayer(player, func(p *PlayerMissions, now time.Time) ([]core.Event, error) {
		inst, err := find(p, missionID)
		if err != nil {
			return nil, err
		}
		if !inst.Definition.Repeatable {
			return nil, core.Failf(core.CodeNotRepeatable, core.ErrNotRepeatable, "mission is not repeatable: %s", missionID)
		}
		if inst.State != core.StateCompleted {
			return nil, core.Failf(core.CodeInvalidState, core.ErrInvalidState, "can only reset completed missions")
		}
		return e.reopen(p, inst, now)
	})
}

// Retry makes a FAILED mission AVAILABLE again.
func (e *Engine) Retry(player uuid.UUID, missionID string) error {
	return e.withPlayer(player, func(p *PlayerMissions, now time.Time) ([]core.Event, error) {
		inst, err := find(p, missionID)
		if err != nil {
			return nil, err
		}
		if inst.State != core.StateFailed {
			return nil, core.Failf(core.CodeInvalidState, core.ErrInvalidState, "can only retry failed missions")
		}
		return e.reopen(p, inst, now)
	})
}

func (e *Engine) reopen(p *PlayerMissions, inst *MissionInstance, now time.Time) ([]core.Event, error) {
	ev, err := e.move(p, inst, core.StateAvailable, now)
	if err != nil {
		return nil, err
	}
	inst.StartedAt = result.None[time.Time]()
	inst.CompletedAt = result.None[time.Time]()
	e.tracker.ResetMission(p.PlayerID, inst.Definition.ID)
	return []core.Event{ev}, nil
}
