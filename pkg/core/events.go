package core

import (
	"time"

	"github.com/google/uuid"
)

// Event kinds, used as bus subscription keys.
const (
	EventProgressChanged = "progress_changed"
	EventStateChanged    = "state_changed"
	EventUnlocked        = "unlocked"
	EventFailed          = "failed"
)

// Event is a domain notification that a player's mission changed.
// It is emitted, never stored.
type Event interface {
	Kind() string
	Player() uuid.UUID
	Mission() string
	At() time.Time
	isEvent()
}

// EventBase carries the fields shared by every event.
type EventBase struct {
	PlayerID  uuid.UUID
	MissionID string
	Time      time.Time
}

func (b EventBase) Player() uuid.UUID { return b.PlayerID }
func (b EventBase) Mission() string   { return b.MissionID }
func (b EventBase) At() time.Time     { return b.Time }
func (EventBase) isEvent()            {}

// ProgressChanged is emitted when an objective counter moves.
type ProgressChanged struct {
	EventBase
	ObjectiveID string
	Old         int
	New         int
	Target      int
}

func (ProgressChanged) Kind() string { return EventProgressChanged }

// Percentage is New/Target in [0,1]; zero when Target is zero.
func (e ProgressChanged) Percentage() float64 {
	if e.Target <= 0 {
		return 0
	}
	return float64(e.New) / float64(e.Target)
}

// StateChanged is emitted after every successful transition.
type StateChanged struct {
	EventBase
	Old MissionState
	New MissionState
}

func (StateChanged) Kind() string { return EventStateChanged }

// Unlocked is emitted when a locked mission's prerequisites are all completed.
type Unlocked struct {
	EventBase
}

func (Unlocked) Kind() string { return EventUnlocked }

// Failed is emitted when a mission moves to FAILED.
type Failed struct {
	EventBase
	Reason string
}

func (Failed) Kind() string { return EventFailed }
