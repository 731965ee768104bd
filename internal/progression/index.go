package progression

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/eventui/server/pkg/core"
)

type idSet map[string]struct{}

// Index narrows a signal to the missions worth evaluating: the missions
// that contain an objective of the signal's kind, intersected with the
// missions the player has active.
type Index struct {
	mu     sync.RWMutex
	byKind map[core.ObjectiveKind]idSet
	active map[uuid.UUID]idSet
}

func NewIndex() *Index {
	return &Index{
		byKind: make(map[core.ObjectiveKind]idSet),
		active: make(map[uuid.UUID]idSet),
	}
}

// Rebuild recomputes the kind index from defs. The active index is kept.
func (x *Index) Rebuild(defs []*core.MissionDefinition) {
	byKind := make(map[core.ObjectiveKind]idSet)
	for _, d := range defs {
		for _, o := range d.Objectives {
			set, ok := byKind[o.Kind]
			if !ok {
				set = make(idSet)
				byKind[o.Kind] = set
			}
			set[d.ID] = struct{}{}
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.byKind = byKind
}

// Activate records that the player entered ACTIVE for missionID.
func (x *Index) Activate(player uuid.UUID, missionID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	set, ok := x.active[player]
	if !ok {
		set = make(idSet)
		x.active[player] = set
	}
	set[missionID] = struct{}{}
}

// Deactivate records that the player left ACTIVE for missionID.
func (x *Index) Deactivate(player uuid.UUID, missionID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	set, ok := x.active[player]
	if !ok {
		return
	}
	delete(set, missionID)
	if len(set) == 0 {
		delete(x.active, player)
	}
}

// DropPlayer forgets the player's active set.
func (x *Index) DropPlayer(player uuid.UUID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.active, player)
}

// RelevantActiveMissions returns, sorted, the player's active missions
// that contain an objective of kind.
func (x *Index) RelevantActiveMissions(player uuid.UUID, kind core.ObjectiveKind) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	active := x.active[player]
	withKind := x.byKind[kind]
	if len(active) == 0 || len(withKind) == 0 {
		return nil
	}

	small, large := active, withKind
	if len(large) < len(small) {
		small, large = large, small
	}
	var out []string
	for id := range small {
		if _, ok := large[id]; ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ActiveMissions returns the player's active missions, sorted.
func (x *Index) ActiveMissions(player uuid.UUID) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return sortedIDs(x.active[player])
}

// ActiveCount returns the number of (player, mission) pairs currently active.
func (x *Index) ActiveCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n := 0
	for _, set := range x.active {
		n += len(set)
	}
	return n
}

func sortedIDs(set idSet) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
