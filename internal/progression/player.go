package progression

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventui/server/internal/result"
	"github.com/eventui/server/pkg/core"
)

// MissionInstance is a player's copy of a mission template and its state.
type MissionInstance struct {
	Definition  *core.MissionDefinition
	State       core.MissionState
	StartedAt   result.Option[time.Time]
	CompletedAt result.Option[time.Time]
}

// PlayerMissions owns one player's mission instances. Its mutex serializes
// every read and write of that player's states.
type PlayerMissions struct {
	PlayerID uuid.UUID

	mu         sync.Mutex
	missions   map[string]*MissionInstance
	order      []string
	generation uint64
}

func newPlayerMissions(player uuid.UUID) *PlayerMissions {
	return &PlayerMissions{
		PlayerID: player,
		missions: make(map[string]*MissionInstance),
	}
}

// sync brings the container up to the registry generation: instances are
// added for new definitions, refreshed for reloaded ones and dropped when
// their definition is gone. It returns the ids of dropped instances that
// were ACTIVE. Must be called with mu held.
func (p *PlayerMissions) sync(defs []*core.MissionDefinition, generation uint64) (droppedActive []string) {
	next := make(map[string]*MissionInstance, len(defs))
	order := make([]string, 0, len(defs))
	for _, d := range defs {
		inst, ok := p.missions[d.ID]
		if !ok {
			inst = &MissionInstance{State: core.StateLocked}
		}
		inst.Definition = d.Clone()
		next[d.ID] = inst
		order = append(order, d.ID)
	}
	for id, inst := range p.missions {
		if _, ok := next[id]; !ok && inst.State == core.StateActive {
			droppedActive = append(droppedActive, id)
		}
	}
	p.missions = next
	p.order = order
	p.generation = generation

	for _, id := range order {
		inst := p.missions[id]
		if inst.State == core.StateLocked && p.prerequisitesMet(inst.Definition) {
			inst.State = core.StateAvailable
		}
	}
	return droppedActive
}

// stale reports whether the container lags the registry.
func (p *PlayerMissions) stale(generation uint64) bool {
	return p.generation != generation || p.missions == nil
}

// prerequisitesMet reports whether every prerequisite is COMPLETED.
// Must be called with mu held.
func (p *PlayerMissions) prerequisitesMet(def *core.MissionDefinition) bool {
	for _, pre := range def.Prerequisites {
		if inst, ok := p.missions[pre]; !ok || inst.State != core.StateCompleted {
			return false
		}
	}
	return true
}

// PlayerStore maps players to their mission containers.
type PlayerStore struct {
	mu      sync.RWMutex
	players map[uuid.UUID]*PlayerMissions
}

func NewPlayerStore() *PlayerStore {
	return &PlayerStore{players: make(map[uuid.UUID]*PlayerMissions)}
}

// Get returns the player's container if it exists.
func (s *PlayerStore) Get(player uuid.UUID) (*PlayerMissions, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[player]
	return p, ok
}

// GetOrCreate returns the player's container, creating an empty one on
// first reference. created reports whether it was new.
func (s *PlayerStore) GetOrCreate(player uuid.UUID) (p *PlayerMissions, created bool) {
	if p, ok := s.Get(player); ok {
		return p, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[player]; ok {
		return p, false
	}
	p = newPlayerMissions(player)
	s.players[player] = p
	return p, true
}

// Put installs a container, replacing any existing one.
func (s *PlayerStore) Put(p *PlayerMissions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players[p.PlayerID] = p
}

// Remove drops the player's container.
func (s *PlayerStore) Remove(player uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.players, player)
}

// Len returns the number of loaded players.
func (s *PlayerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

// Players returns the ids of all loaded players.
func (s *PlayerStore) Players() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(s.players))
	for id := range s.players {
		out = append(out, id)
	}
	return out
}
