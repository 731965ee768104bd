package core

import (
	"fmt"
	"strings"
)

// MissionState is the lifecycle state of a mission for one player.
type MissionState uint8

const (
	StateLocked MissionState = iota
	StateAvailable
	StateActive
	StateCompleted
	StateFailed
)

var missionStateNames = [...]string{
	StateLocked:    "LOCKED",
	StateAvailable: "AVAILABLE",
	StateActive:    "ACTIVE",
	StateCompleted: "COMPLETED",
	StateFailed:    "FAILED",
}

// AllMissionStates lists every state in ordinal order.
var AllMissionStates = []MissionState{StateLocked, StateAvailable, StateActive, StateCompleted, StateFailed}

func (s MissionState) String() string {
	if int(s) < len(missionStateNames) {
		return missionStateNames[s]
	}
	return fmt.Sprintf("MissionState(%d)", uint8(s))
}

// IsTerminal reports whether the state ends a run of the mission.
func (s MissionState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ParseMissionState converts a state name (case-insensitive) to a MissionState.
func ParseMissionState(name string) (MissionState, error) {
	for i, n := range missionStateNames {
		if strings.EqualFold(n, name) {
			return MissionState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mission state: %q", name)
}

// MarshalText encodes the state by name.
func (s MissionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *MissionState) UnmarshalText(b []byte) error {
	v, err := ParseMissionState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Reward is opaque to the progression engine; granting is done elsewhere.
type Reward struct {
	Type   string `json:"type"`
	Value  string `json:"value"`
	Amount int    `json:"amount"`
}

// MissionDefinition is the immutable template of a mission, shared by all players.
type MissionDefinition struct {
	ID            string                `json:"id"`
	Title         string                `json:"title"`
	Description   string                `json:"description"`
	Objectives    []ObjectiveDefinition `json:"objectives"`
	Prerequisites []string              `json:"prerequisites,omitempty"`
	Rewards       []Reward              `json:"rewards,omitempty"`
	Repeatable    bool                  `json:"repeatable"`
	Category      string                `json:"category"`
	Difficulty    string                `json:"difficulty"`
	Metadata      map[string]string     `json:"metadata,omitempty"`
}

// DefaultCategory is used when a definition does not name one.
const DefaultCategory = "general"

// PrimaryObjective returns the first objective in definition order.
func (d *MissionDefinition) PrimaryObjective() (ObjectiveDefinition, bool) {
	if len(d.Objectives) == 0 {
		return ObjectiveDefinition{}, false
	}
	return d.Objectives[0], true
}

// Objective looks up an objective by id.
func (d *MissionDefinition) Objective(id string) (ObjectiveDefinition, bool) {
	for _, o := range d.Objectives {
		if o.ID == id {
			return o, true
		}
	}
	return ObjectiveDefinition{}, false
}

// Clone returns a deep copy that shares no slices or maps with d.
func (d *MissionDefinition) Clone() *MissionDefinition {
	c := *d
	c.Objectives = append([]ObjectiveDefinition(nil), d.Objectives...)
	c.Prerequisites = append([]string(nil), d.Prerequisites...)
	c.Rewards = append([]Reward(nil), d.Rewards...)
	if d.Metadata != nil {
		c.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
