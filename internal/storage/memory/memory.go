// Package memory is a process-local storage backend. State is lost on exit.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/eventui/server/internal/storage"
	"github.com/eventui/server/pkg/core"
)

// Backend keeps player states in a map.
type Backend struct {
	mu      sync.RWMutex
	players map[uuid.UUID]*core.PlayerMissionState
	events  []core.Event
	record  bool
}

// New creates a new memory backend. When recordEvents is set the backend
// also keeps every recorded mission event.
func New(recordEvents bool) *Backend {
	return &Backend{
		players: make(map[uuid.UUID]*core.PlayerMissionState),
		record:  recordEvents,
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

func (b *Backend) LoadPlayer(_ context.Context, player uuid.UUID) (*core.PlayerMissionState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.players[player]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.Clone(), nil
}

func (b *Backend) SavePlayer(_ context.Context, state *core.PlayerMissionState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.players[state.PlayerID] = state.Clone()
	return nil
}

func (b *Backend) DeletePlayer(_ context.Context, player uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.players, player)
	return nil
}

func (b *Backend) HasPlayer(_ context.Context, player uuid.UUID) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.players[player]
	return ok, nil
}

// RecordEvent appends ev to the in-memory audit trail.
func (b *Backend) RecordEvent(ev core.Event) error {
	if !b.record {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

// Events returns a copy of the recorded audit trail.
func (b *Backend) Events() []core.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]core.Event(nil), b.events...)
}

// Len returns the number of saved players.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.players)
}
