package progression

import "github.com/eventui/server/pkg/core"

// transitions is the complete set of legal moves.
var transitions = map[core.MissionState][]core.MissionState{
	core.StateLocked:    {core.StateAvailable},
	core.StateAvailable: {core.StateActive},
	core.StateActive:    {core.StateCompleted, core.StateFailed, core.StateAvailable},
	core.StateCompleted: {core.StateAvailable},
	core.StateFailed:    {core.StateAvailable},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to core.MissionState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns the new state. An illegal
// pair returns from unchanged and a Failure naming both states.
func Transition(from, to core.MissionState) (core.MissionState, error) {
	if !CanTransition(from, to) {
		return from, core.Failf(core.CodeInvalidTransition, core.ErrInvalidTransition,
			"invalid state transition: %s -> %s", from, to)
	}
	return to, nil
}

// CanActivate is true only for AVAILABLE.
func CanActivate(s core.MissionState) bool {
	return s == core.StateAvailable
}

// CanAbandon is true only for ACTIVE.
func CanAbandon(s core.MissionState) bool {
	return s == core.StateActive
}
