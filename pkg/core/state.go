package core

import (
	"time"

	"github.com/google/uuid"
)

// StateSchemaVersion is the current PlayerMissionState layout.
// Version 0 predates the timestamp maps.
const StateSchemaVersion = 1

// PlayerMissionState is the persisted shape of one player's progression.
type PlayerMissionState struct {
	PlayerID uuid.UUID `json:"playerId"`
	// Progress maps mission id to objective id to current amount.
	Progress    map[string]map[string]int `json:"progress"`
	Completed   []string                  `json:"completed"`
	Active      []string                  `json:"active"`
	Failed      []string                  `json:"failed,omitempty"`
	StartedAt   map[string]time.Time      `json:"startedAt"`
	CompletedAt map[string]time.Time      `json:"completedAt"`
	Version     int                       `json:"schemaVersion"`
}

// NewPlayerMissionState returns an empty state at the current schema version.
func NewPlayerMissionState(player uuid.UUID) *PlayerMissionState {
	return &PlayerMissionState{
		PlayerID:    player,
		Progress:    make(map[string]map[string]int),
		StartedAt:   make(map[string]time.Time),
		CompletedAt: make(map[string]time.Time),
		Version:     StateSchemaVersion,
	}
}

// Clone returns a deep copy.
func (s *PlayerMissionState) Clone() *PlayerMissionState {
	c := &PlayerMissionState{
		PlayerID:    s.PlayerID,
		Progress:    make(map[string]map[string]int, len(s.Progress)),
		Completed:   append([]string(nil), s.Completed...),
		Active:      append([]string(nil), s.Active...),
		Failed:      append([]string(nil), s.Failed...),
		StartedAt:   make(map[string]time.Time, len(s.StartedAt)),
		CompletedAt: make(map[string]time.Time, len(s.CompletedAt)),
		Version:     s.Version,
	}
	for m, objectives := range s.Progress {
		inner := make(map[string]int, len(objectives))
		for o, v := range objectives {
			inner[o] = v
		}
		c.Progress[m] = inner
	}
	for k, v := range s.StartedAt {
		c.StartedAt[k] = v
	}
	for k, v := range s.CompletedAt {
		c.CompletedAt[k] = v
	}
	return c
}

// MissionProgress is the read-only progress view of an active mission.
// It reports the primary objective; Percentage is clamped to [0,1].
type MissionProgress struct {
	MissionID  string  `json:"missionId"`
	Current    int     `json:"current"`
	Target     int     `json:"target"`
	Percentage float64 `json:"percentage"`
}

// ObjectiveProgress is the current amount of one objective.
type ObjectiveProgress struct {
	ObjectiveID string `json:"objectiveId"`
	Current     int    `json:"current"`
	Target      int    `json:"target"`
	Completed   bool   `json:"completed"`
}
