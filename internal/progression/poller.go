package progression

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eventui/server/pkg/core"
)

// CheckObjective raises one objective of an ACTIVE mission to the observed
// amount, for objectives satisfied by polling rather than by signals. It
// returns whether the counter moved. Reporting the same observation twice
// is a no-op. The mission is completed once every objective is at target.
// The player must be loaded.
func (e *Engine) CheckObjective(player uuid.UUID, missionID, objectiveID string, observed int) (bool, error) {
	var changed, done bool
	err := e.withLoadedPlayer(player, func(p *PlayerMissions, now time.Time) ([]core.Event, error) {
		inst, err := find(p, missionID)
		if err != nil {
			return nil, err
		}
		if inst.State != core.StateActive {
			return nil, core.Failf(core.CodeInvalidState, core.ErrInvalidState,
				"cannot check objective of mission in state %s", inst.State)
		}
		d, err := e.tracker.Raise(player, inst.Definition, objectiveID, observed)
		if err != nil {
			return nil, err
		}
		if !d.Changed() {
			return nil, nil
		}
		changed = true
		done = e.tracker.IsCompleted(player, inst.Definition)
		return []core.Event{progressEvent(player, missionID, d, now)}, nil
	})
	if err != nil {
		return false, err
	}
	if done {
		return changed, e.Complete(player, missionID)
	}
	return changed, nil
}

// CheckLocation tests a player position against the areas of the player's
// active REACH_LOCATION objectives. Standing inside an area satisfies the
// objective in full.
// It returns the number of objectives that advanced.
func (e *Engine) CheckLocation(player uuid.UUID, dimension string, x, y float64) (int, error) {
	if !e.Loaded(player) {
		return 0, notLoaded(player)
	}
	areas := *e.areas.Load()
	if len(areas) == 0 {
		return 0, nil
	}

	type hit struct {
		mission, objective string
		count              int
	}
	var hits []hit
	for _, id := range e.index.RelevantActiveMissions(player, core.ObjectiveReachLocation) {
		def, ok := e.registry.Get(id)
		if !ok {
			continue
		}
		for _, o := range def.Objectives {
			if o.Kind != core.ObjectiveReachLocation {
				continue
			}
			if o.Dimension != "" && !strings.EqualFold(o.Dimension, dimension) {
				continue
			}
			a, ok := areas[areaKey(id, o.ID)]
			if ok && a.Contains(x, y) {
				hits = append(hits, hit{id, o.ID, o.Count})
			}
		}
	}

	advanced := 0
	for _, h := range hits {
		changed, err := e.CheckObjective(player, h.mission, h.objective, h.count)
		if errors.Is(err, core.ErrInvalidState) {
			// completed by an earlier hit
			continue
		}
		if err != nil {
			return advanced, err
		}
		if changed {
			advanced++
		}
	}
	return advanced, nil
}
