package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventui/server/internal/storage"
	"github.com/eventui/server/pkg/core"
)

// Verify Backend implements storage.Backend interface
var _ storage.Backend = (*Backend)(nil)

// Verify Backend implements storage.EventRecorder interface
var _ storage.EventRecorder = (*Backend)(nil)

func sampleState(player uuid.UUID) *core.PlayerMissionState {
	s := core.NewPlayerMissionState(player)
	s.Active = []string{"m1"}
	s.Progress["m1"] = map[string]int{"kill": 2}
	s.StartedAt["m1"] = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return s
}

func TestInitAndClose(t *testing.T) {
	b := New(false)
	require.NoError(t, b.Init())
	require.NoError(t, b.Close())
}

func TestLoadPlayer_NotFound(t *testing.T) {
	b := New(false)
	_, err := b.LoadPlayer(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	b := New(false)
	player := uuid.New()
	s := sampleState(player)

	require.NoError(t, b.SavePlayer(ctx, s))
	has, err := b.HasPlayer(ctx, player)
	require.NoError(t, err)
	assert.True(t, has)

	got, err := b.LoadPlayer(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestSavePlayer_StoresCopy(t *testing.T) {
	ctx := context.Background()
	b := New(false)
	player := uuid.New()
	s := sampleState(player)
	require.NoError(t, b.SavePlayer(ctx, s))

	s.Progress["m1"]["kill"] = 99
	s.Active = append(s.Active, "m2")

	got, err := b.LoadPlayer(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Progress["m1"]["kill"])
	assert.Equal(t, []string{"m1"}, got.Active)

	got.Progress["m1"]["kill"] = 50
	again, _ := b.LoadPlayer(ctx, player)
	assert.Equal(t, 2, again.Progress["m1"]["kill"])
}

func TestDeletePlayer(t *testing.T) {
	ctx := context.Background()
	b := New(false)
	player := uuid.New()
	require.NoError(t, b.SavePlayer(ctx, sampleState(player)))

	require.NoError(t, b.DeletePlayer(ctx, player))
	has, err := b.HasPlayer(ctx, player)
	require.NoError(t, err)
	assert.False(t, has)
	assert.Equal(t, 0, b.Len())
}

func TestRecordEvent(t *testing.T) {
	ev := core.Unlocked{EventBase: core.EventBase{PlayerID: uuid.New(), MissionID: "m2"}}

	off := New(false)
	require.NoError(t, off.RecordEvent(ev))
	assert.Empty(t, off.Events())

	on := New(true)
	require.NoError(t, on.RecordEvent(ev))
	assert.Equal(t, []core.Event{ev}, on.Events())
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	b := New(true)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			player := uuid.New()
			_ = b.SavePlayer(ctx, sampleState(player))
			_, _ = b.LoadPlayer(ctx, player)
			_ = b.RecordEvent(core.Unlocked{EventBase: core.EventBase{PlayerID: player}})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, b.Len())
	assert.Len(t, b.Events(), 50)
}
