package storage_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventui/server/internal/bus"
	"github.com/eventui/server/internal/progression"
	"github.com/eventui/server/internal/storage"
	"github.com/eventui/server/internal/storage/memory"
	"github.com/eventui/server/pkg/core"
)

// mockLogger implements storage.Logger for testing
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *mockLogger) Debug(msg string, keysAndValues ...any) { l.add("DEBUG", msg, keysAndValues) }
func (l *mockLogger) Info(msg string, keysAndValues ...any)  { l.add("INFO", msg, keysAndValues) }
func (l *mockLogger) Error(msg string, keysAndValues ...any) { l.add("ERROR", msg, keysAndValues) }

func (l *mockLogger) add(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("%s: %s %v", level, msg, kv))
}

// failingBackend wraps a memory backend and fails every save while failSaves is set.
type failingBackend struct {
	*memory.Backend
	mu        sync.Mutex
	failSaves bool
	saves     int
}

func (b *failingBackend) SavePlayer(ctx context.Context, s *core.PlayerMissionState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saves++
	if b.failSaves {
		return errors.New("disk full")
	}
	return b.Backend.SavePlayer(ctx, s)
}

type fixture struct {
	engine    *progression.Engine
	backend   *failingBackend
	persister *storage.Persister
	signals   *bus.SignalBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := &mockLogger{}
	events := bus.NewEventBus(logger)
	signals := bus.NewSignalBus(logger)

	engine, err := progression.New(progression.Dependencies{
		Signals: signals,
		Events:  events,
		Logger:  logger,
	})
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	report := engine.Load([]*core.MissionDefinition{
		{
			ID:         "m1",
			Title:      "Hunter",
			Objectives: []core.ObjectiveDefinition{{ID: "kill", Kind: core.ObjectiveKillEntity, Target: "zombie", Count: 3}},
		},
		{
			ID:            "m2",
			Title:         "Builder",
			Objectives:    []core.ObjectiveDefinition{{ID: "place", Kind: core.ObjectivePlaceBlock, Count: 10}},
			Prerequisites: []string{"m1"},
		},
	})
	require.Empty(t, report.Rejected)

	backend := &failingBackend{Backend: memory.New(true)}
	p, err := storage.NewPersister(storage.PersisterDeps{
		Backend:       backend,
		Engine:        engine,
		Logger:        logger,
		FlushInterval: time.Hour,
	})
	require.NoError(t, err)
	p.Attach(events)
	t.Cleanup(p.Detach)

	return &fixture{engine: engine, backend: backend, persister: p, signals: signals}
}

func (f *fixture) kill(t *testing.T, player uuid.UUID) {
	t.Helper()
	require.NoError(t, f.engine.Enqueue(core.EntityKilled{
		SignalBase: core.SignalBase{PlayerID: player, Time: time.Now()},
		EntityType: "zombie",
	}))
	f.engine.Tick()
}

// Verify the engine satisfies the persister's view of it
var _ storage.Engine = (*progression.Engine)(nil)

func TestNewPersister_RequiresDependencies(t *testing.T) {
	_, err := storage.NewPersister(storage.PersisterDeps{})
	require.Error(t, err)
}

func TestJoin_NewPlayer(t *testing.T) {
	f := newFixture(t)
	player := uuid.New()

	require.NoError(t, f.persister.Join(context.Background(), player))
	assert.True(t, f.engine.Loaded(player))
}

func TestJoin_RestoresSavedState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	player := uuid.New()

	saved := core.NewPlayerMissionState(player)
	saved.Completed = []string{"m1"}
	require.NoError(t, f.backend.Backend.SavePlayer(ctx, saved))

	require.NoError(t, f.persister.Join(ctx, player))
	inst, err := f.engine.Mission(player, "m2").Get()
	require.NoError(t, err)
	assert.Equal(t, core.StateAvailable, inst.State)
}

func TestJoin_NewerSchemaBlocksSaves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	player := uuid.New()

	saved := core.NewPlayerMissionState(player)
	saved.Version = core.StateSchemaVersion + 1
	saved.Completed = []string{"m1"}
	require.NoError(t, f.backend.Backend.SavePlayer(ctx, saved))

	err := f.persister.Join(ctx, player)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUnsupportedSchema)

	// the player is still used this session, but its saved state is kept
	require.NoError(t, f.engine.Activate(player, "m1"))
	f.persister.Flush(ctx)
	require.NoError(t, f.persister.Leave(ctx, player))

	got, err := f.backend.LoadPlayer(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, core.StateSchemaVersion+1, got.Version)
}

func TestCompletionSavesImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	player := uuid.New()
	require.NoError(t, f.persister.Join(ctx, player))
	require.NoError(t, f.engine.Activate(player, "m1"))

	for i := 0; i < 3; i++ {
		f.kill(t, player)
	}

	got, err := f.backend.LoadPlayer(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, got.Completed)
	assert.Empty(t, got.Active)
}

func TestProgressIsSavedOnFlush(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	player := uuid.New()
	require.NoError(t, f.persister.Join(ctx, player))
	require.NoError(t, f.engine.Activate(player, "m1"))
	f.kill(t, player)

	has, err := f.backend.HasPlayer(ctx, player)
	require.NoError(t, err)
	assert.False(t, has, "nothing critical happened yet")
	assert.Equal(t, 2, f.persister.Dirty())

	assert.Equal(t, 1, f.persister.Flush(ctx))
	assert.Equal(t, 0, f.persister.Dirty())

	got, err := f.backend.LoadPlayer(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, got.Active)
	assert.Equal(t, 1, got.Progress["m1"]["kill"])
}

func TestLeave_SavesAndUnloads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	player := uuid.New()
	require.NoError(t, f.persister.Join(ctx, player))
	require.NoError(t, f.engine.Activate(player, "m1"))
	f.kill(t, player)

	require.NoError(t, f.persister.Leave(ctx, player))
	assert.False(t, f.engine.Loaded(player))

	// flushing after leave skips the unloaded player
	assert.Equal(t, 0, f.persister.Flush(ctx))

	require.NoError(t, f.persister.Join(ctx, player))
	progress, err := f.engine.Progress(player, "m1").Get()
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Current)
}

func TestLeave_NotLoaded(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.persister.Leave(context.Background(), uuid.New()))
}

func TestFlush_SaveErrorIsReported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	player := uuid.New()
	require.NoError(t, f.persister.Join(ctx, player))
	require.NoError(t, f.engine.Activate(player, "m1"))

	f.backend.failSaves = true
	assert.Equal(t, 0, f.persister.Flush(ctx))
	assert.Equal(t, 1, f.backend.saves)
}

func TestEventsAreRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	player := uuid.New()
	require.NoError(t, f.persister.Join(ctx, player))
	require.NoError(t, f.engine.Activate(player, "m1"))

	recorded := f.backend.Events()
	require.Len(t, recorded, 1)
	assert.Equal(t, core.EventStateChanged, recorded[0].Kind())
}

func TestRun_FlushesOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t)
	player := uuid.New()
	require.NoError(t, f.persister.Join(ctx, player))
	require.NoError(t, f.engine.Activate(player, "m1"))

	done := make(chan struct{})
	go func() {
		f.persister.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	has, err := f.backend.HasPlayer(context.Background(), player)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestJoin_ReconnectKeepsLoadedState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	player := uuid.New()
	require.NoError(t, f.persister.Join(ctx, player))
	require.NoError(t, f.engine.Activate(player, "m1"))
	f.kill(t, player)

	// a stale save must not replace what is already in memory
	stale := core.NewPlayerMissionState(player)
	require.NoError(t, f.backend.Backend.SavePlayer(ctx, stale))

	require.NoError(t, f.persister.Join(ctx, player))
	progress, err := f.engine.Progress(player, "m1").Get()
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Current)
}

func TestSaveAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	require.NoError(t, f.persister.Join(ctx, a))
	require.NoError(t, f.persister.Join(ctx, b))
	require.NoError(t, f.engine.Activate(a, "m1"))

	assert.Equal(t, 2, f.persister.SaveAll(ctx))
	assert.Equal(t, 0, f.persister.Dirty())
	assert.Equal(t, 2, f.backend.Len())
}

func TestJoin_OfflineChecksKeepSavedProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	player := uuid.New()

	saved := core.NewPlayerMissionState(player)
	saved.Completed = []string{"m1"}
	require.NoError(t, f.backend.Backend.SavePlayer(ctx, saved))

	_, err := f.engine.CheckObjective(player, "m1", "kill", 3)
	assert.ErrorIs(t, err, core.ErrPlayerNotFound)
	assert.False(t, f.engine.Loaded(player))

	require.NoError(t, f.persister.Join(ctx, player))
	inst, err := f.engine.Mission(player, "m1").Get()
	require.NoError(t, err)
	assert.Equal(t, core.StateCompleted, inst.State)

	require.NoError(t, f.persister.Leave(ctx, player))
	got, err := f.backend.LoadPlayer(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, got.Completed)
}

func TestJoin_ReplacesStateLoadedBeforeJoin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	player := uuid.New()

	saved := core.NewPlayerMissionState(player)
	saved.Completed = []string{"m1"}
	require.NoError(t, f.backend.Backend.SavePlayer(ctx, saved))

	// a query creates the player's missions before the session joins
	f.engine.JoinPlayer(player)
	require.True(t, f.engine.Loaded(player))
	assert.Equal(t, 0, f.persister.SaveAll(ctx), "never-joined players are not saved")

	require.NoError(t, f.persister.Join(ctx, player))
	inst, err := f.engine.Mission(player, "m1").Get()
	require.NoError(t, err)
	assert.Equal(t, core.StateCompleted, inst.State)
}

func TestFlush_CountsOnlyWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	player := uuid.New()
	require.NoError(t, f.persister.Join(ctx, player))
	require.NoError(t, f.engine.Activate(player, "m1"))
	require.NoError(t, f.persister.Leave(ctx, player))
	saves := f.backend.saves

	assert.Equal(t, 0, f.persister.Flush(ctx))
	assert.Equal(t, saves, f.backend.saves)
}
