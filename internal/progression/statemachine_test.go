package progression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventui/server/pkg/core"
)

func TestTransition_AllPairs(t *testing.T) {
	legal := map[[2]core.MissionState]bool{
		{core.StateLocked, core.StateAvailable}:    true,
		{core.StateAvailable, core.StateActive}:    true,
		{core.StateActive, core.StateCompleted}:    true,
		{core.StateActive, core.StateFailed}:       true,
		{core.StateActive, core.StateAvailable}:    true,
		{core.StateCompleted, core.StateAvailable}: true,
		{core.StateFailed, core.StateAvailable}:    true,
	}

	for _, from := range core.AllMissionStates {
		for _, to := range core.AllMissionStates {
			name := from.String() + "->" + to.String()
			t.Run(name, func(t *testing.T) {
				got, err := Transition(from, to)
				if legal[[2]core.MissionState{from, to}] {
					require.NoError(t, err)
					assert.Equal(t, to, got)
					assert.True(t, CanTransition(from, to))
					return
				}
				require.Error(t, err)
				assert.ErrorIs(t, err, core.ErrInvalidTransition)
				assert.Equal(t, from, got)
				assert.Contains(t, err.Error(), from.String())
				assert.Contains(t, err.Error(), to.String())
				assert.Equal(t, core.CodeInvalidTransition, core.FailureCode(err, ""))
			})
		}
	}
}

func TestCanActivateAndAbandon(t *testing.T) {
	for _, s := range core.AllMissionStates {
		assert.Equal(t, s == core.StateAvailable, CanActivate(s), s.String())
		assert.Equal(t, s == core.StateActive, CanAbandon(s), s.String())
	}
}
