package progression

import (
	"sync"

	"github.com/google/uuid"

	"github.com/eventui/server/pkg/core"
)

// Delta describes one objective counter change.
type Delta struct {
	ObjectiveID string
	Old         int
	New         int
	Target      int
}

// Changed reports whether the counter moved.
func (d Delta) Changed() bool {
	return d.Old != d.New
}

// Clamp returns min(target, current+amount). Negative amounts count as zero.
func Clamp(current, target, amount int) int {
	if amount < 0 {
		amount = 0
	}
	if amount >= target-current {
		return target
	}
	return current + amount
}

// Tracker holds objective counters per player, mission and objective.
type Tracker struct {
	mu      sync.RWMutex
	players map[uuid.UUID]*playerProgress
}

type playerProgress struct {
	mu       sync.Mutex
	missions map[string]map[string]int
}

func NewTracker() *Tracker {
	return &Tracker{players: make(map[uuid.UUID]*playerProgress)}
}

func (t *Tracker) get(player uuid.UUID) (*playerProgress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.players[player]
	return p, ok
}

func (t *Tracker) getOrCreate(player uuid.UUID) *playerProgress {
	if p, ok := t.get(player); ok {
		return p
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.players[player]; ok {
		return p
	}
	p := &playerProgress{missions: make(map[string]map[string]int)}
	t.players[player] = p
	return p
}

// InitMission seeds every objective of def to zero.
func (t *Tracker) InitMission(player uuid.UUID, def *core.MissionDefinition) {
	p := t.getOrCreate(player)
	p.mu.Lock()
	defer p.mu.Unlock()

	counters := make(map[string]int, len(def.Objectives))
	for _, o := range def.Objectives {
		counters[o.ID] = 0
	}
	p.missions[def.ID] = counters
}

// ProcessSignal matches s against the primary objective of def only.
// Secondary objectives advance through SetProgress or Raise.
// ok is false when the mission is not tracked or the signal does not match.
func (t *Tracker) ProcessSignal(player uuid.UUID, def *core.MissionDefinition, s core.Signal) (Delta, bool) {
	primary, ok := def.PrimaryObjective()
	if !ok {
		return Delta{}, false
	}
	amount, ok := primary.Match(s)
	if !ok {
		return Delta{}, false
	}

	p, ok := t.get(player)
	if !ok {
		return Delta{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	counters, ok := p.missions[def.ID]
	if !ok {
		return Delta{}, false
	}
	old := counters[primary.ID]
	counters[primary.ID] = Clamp(old, primary.Count, amount)
	return Delta{ObjectiveID: primary.ID, Old: old, New: counters[primary.ID], Target: primary.Count}, true
}

// SetProgress sets an objective counter, clamped to [0, target].
func (t *Tracker) SetProgress(player uuid.UUID, def *core.MissionDefinition, objectiveID string, amount int) (Delta, error) {
	return t.update(player, def, objectiveID, func(_, target int) int {
		return min(max(amount, 0), target)
	})
}

// Raise lifts an objective counter to observed (clamped), never lowering it.
// Repeated calls with the same observation are no-ops.
func (t *Tracker) Raise(player uuid.UUID, def *core.MissionDefinition, objectiveID string, observed int) (Delta, error) {
	return t.update(player, def, objectiveID, func(cur, target int) int {
		return max(cur, min(observed, target))
	})
}

func (t *Tracker) update(player uuid.UUID, def *core.MissionDefinition, objectiveID string, fn func(cur, target int) int) (Delta, error) {
	obj, ok := def.Objective(objectiveID)
	if !ok {
		return Delta{}, core.Failf(core.CodeObjectiveNotFound, core.ErrObjectiveNotFound,
			"objective not found: %s/%s", def.ID, objectiveID)
	}
	p, ok := t.get(player)
	if !ok {
		return Delta{}, core.Failf(core.CodeInvalidState, core.ErrInvalidState, "mission is not tracked: %s", def.ID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	counters, ok := p.missions[def.ID]
	if !ok {
		return Delta{}, core.Failf(core.CodeInvalidState, core.ErrInvalidState, "mission is not tracked: %s", def.ID)
	}
	old := counters[objectiveID]
	counters[objectiveID] = fn(old, obj.Count)
	return Delta{ObjectiveID: objectiveID, Old: old, New: counters[objectiveID], Target: obj.Count}, nil
}

// Progress returns the counter of one objective.
func (t *Tracker) Progress(player uuid.UUID, missionID, objectiveID string) (int, bool) {
	p, ok := t.get(player)
	if !ok {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	counters, ok := p.missions[missionID]
	if !ok {
		return 0, false
	}
	v, ok := counters[objectiveID]
	return v, ok
}

// Objectives returns every objective's progress in definition order.
func (t *Tracker) Objectives(player uuid.UUID, def *core.MissionDefinition) []core.ObjectiveProgress {
	out := make([]core.ObjectiveProgress, 0, len(def.Objectives))
	for _, o := range def.Objectives {
		cur, _ := t.Progress(player, def.ID, o.ID)
		out = append(out, core.ObjectiveProgress{
			ObjectiveID: o.ID,
			Current:     cur,
			Target:      o.Count,
			Completed:   cur >= o.Count,
		})
	}
	return out
}

// IsCompleted requires every objective of def, not only the primary one,
// to have reached its target.
func (t *Tracker) IsCompleted(player uuid.UUID, def *core.MissionDefinition) bool {
	p, ok := t.get(player)
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	counters, ok := p.missions[def.ID]
	if !ok || len(def.Objectives) == 0 {
		return false
	}
	for _, o := range def.Objectives {
		if counters[o.ID] < o.Count {
			return false
		}
	}
	return true
}

// ResetMission drops every counter of the mission.
func (t *Tracker) ResetMission(player uuid.UUID, missionID string) {
	p, ok := t.get(player)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.missions, missionID)
}

// IsTracked reports whether counters exist for the mission.
func (t *Tracker) IsTracked(player uuid.UUID, missionID string) bool {
	p, ok := t.get(player)
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok = p.missions[missionID]
	return ok
}

// DropPlayer forgets every counter of the player.
func (t *Tracker) DropPlayer(player uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.players, player)
}

// Snapshot copies the player's counters.
func (t *Tracker) Snapshot(player uuid.UUID) map[string]map[string]int {
	out := make(map[string]map[string]int)
	p, ok := t.get(player)
	if !ok {
		return out
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for m, counters := range p.missions {
		inner := make(map[string]int, len(counters))
		for o, v := range counters {
			inner[o] = v
		}
		out[m] = inner
	}
	return out
}

// RestoreMission installs saved counters for def, clamping each one and
// seeding objectives missing from saved to zero.
func (t *Tracker) RestoreMission(player uuid.UUID, def *core.MissionDefinition, saved map[string]int) {
	p := t.getOrCreate(player)
	p.mu.Lock()
	defer p.mu.Unlock()

	counters := make(map[string]int, len(def.Objectives))
	for _, o := range def.Objectives {
		counters[o.ID] = min(max(saved[o.ID], 0), o.Count)
	}
	p.missions[def.ID] = counters
}
