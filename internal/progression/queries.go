package progression

import (
	"github.com/google/uuid"

	"github.com/eventui/server/internal/result"
	"github.com/eventui/server/pkg/core"
)

// Stats is a point-in-time summary of the engine.
type Stats struct {
	Players        int
	Missions       int
	ActiveMissions int
	QueuedSignals  int
}

func (e *Engine) Stats() Stats {
	return Stats{
		Players:        e.players.Len(),
		Missions:       e.registry.Len(),
		ActiveMissions: e.index.ActiveCount(),
		QueuedSignals:  e.pending.Len(),
	}
}

// Definitions returns the registered mission definitions in load order.
func (e *Engine) Definitions() []*core.MissionDefinition {
	return e.registry.All()
}

// copyInstance returns a detached copy safe to hand out.
func copyInstance(inst *MissionInstance) MissionInstance {
	return MissionInstance{
		Definition:  inst.Definition.Clone(),
		State:       inst.State,
		StartedAt:   inst.StartedAt,
		CompletedAt: inst.CompletedAt,
	}
}

func (e *Engine) collect(player uuid.UUID, keep func(*MissionInstance) bool) []MissionInstance {
	p := e.lockPlayer(player)
	defer p.mu.Unlock()

	var out []MissionInstance
	for _, id := range p.order {
		if inst := p.missions[id]; keep(inst) {
			out = append(out, copyInstance(inst))
		}
	}
	return out
}

// Missions returns every mission of the player in catalogue order.
func (e *Engine) Missions(player uuid.UUID) []MissionInstance {
	return e.collect(player, func(*MissionInstance) bool { return true })
}

func (e *Engine) MissionsByState(player uuid.UUID, state core.MissionState) []MissionInstance {
	return e.collect(player, func(inst *MissionInstance) bool { return inst.State == state })
}

// MissionsByCategory matches case-sensitively; an empty definition category
// counts as core.DefaultCategory.
func (e *Engine) MissionsByCategory(player uuid.UUID, category string) []MissionInstance {
	return e.collect(player, func(inst *MissionInstance) bool {
		c := inst.Definition.Category
		if c == "" {
			c = core.DefaultCategory
		}
		return c == category
	})
}

// Mission returns one of the player's missions.
func (e *Engine) Mission(player uuid.UUID, missionID string) result.Option[MissionInstance] {
	p := e.lockPlayer(player)
	defer p.mu.Unlock()
	inst, ok := p.missions[missionID]
	if !ok {
		return result.None[MissionInstance]()
	}
	return result.Some(copyInstance(inst))
}

// Progress reports the primary objective of an ACTIVE mission. Missions in
// any other state have no progress view.
func (e *Engine) Progress(player uuid.UUID, missionID string) result.Option[core.MissionProgress] {
	p := e.lockPlayer(player)
	defer p.mu.Unlock()

	inst, ok := p.missions[missionID]
	if !ok || inst.State != core.StateActive {
		return result.None[core.MissionProgress]()
	}
	primary, ok := inst.Definition.PrimaryObjective()
	if !ok {
		return result.None[core.MissionProgress]()
	}
	cur, _ := e.tracker.Progress(player, missionID, primary.ID)
	return result.Some(core.MissionProgress{
		MissionID:  missionID,
		Current:    cur,
		Target:     primary.Count,
		Percentage: ratio(cur, primary.Count),
	})
}

// Objectives returns every objective's progress for a tracked mission.
func (e *Engine) Objectives(player uuid.UUID, missionID string) []core.ObjectiveProgress {
	p := e.lockPlayer(player)
	defer p.mu.Unlock()
	inst, ok := p.missions[missionID]
	if !ok || !e.tracker.IsTracked(player, missionID) {
		return nil
	}
	return e.tracker.Objectives(player, inst.Definition)
}

// OverallProgress is the mean completion ratio across all objectives of a
// tracked mission. It is informational; Progress is the canonical view.
func (e *Engine) OverallProgress(player uuid.UUID, missionID string) float64 {
	objs := e.Objectives(player, missionID)
	if len(objs) == 0 {
		return 0
	}
	var sum float64
	for _, o := range objs {
		sum += ratio(o.Current, o.Target)
	}
	return sum / float64(len(objs))
}

// CanActivate reports whether Activate would succeed right now.
func (e *Engine) CanActivate(player uuid.UUID, missionID string) bool {
	p := e.lockPlayer(player)
	defer p.mu.Unlock()
	inst, ok := p.missions[missionID]
	return ok && CanActivate(inst.State) && p.prerequisitesMet(inst.Definition)
}

func ratio(cur, target int) float64 {
	if target <= 0 {
		return 0
	}
	return min(1, max(0, float64(cur)/float64(target)))
}
