// Package storage persists player mission state between sessions.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/eventui/server/pkg/core"
)

// ErrNotFound is returned by LoadPlayer when nothing is saved for a player.
var ErrNotFound = errors.New("player state not found")

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Player state. Implementations store and return copies.
	LoadPlayer(ctx context.Context, player uuid.UUID) (*core.PlayerMissionState, error)
	SavePlayer(ctx context.Context, state *core.PlayerMissionState) error
	DeletePlayer(ctx context.Context, player uuid.UUID) error
	HasPlayer(ctx context.Context, player uuid.UUID) (bool, error)
}

// EventRecorder is an optional interface for backends that keep an audit
// trail of mission events.
type EventRecorder interface {
	RecordEvent(ev core.Event) error
}
