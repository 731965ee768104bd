package progression

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventui/server/internal/bus"
	"github.com/eventui/server/pkg/core"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) { l.add("DEBUG", msg, keysAndValues) }
func (l *testLogger) Info(msg string, keysAndValues ...any)  { l.add("INFO", msg, keysAndValues) }
func (l *testLogger) Error(msg string, keysAndValues ...any) { l.add("ERROR", msg, keysAndValues) }

func (l *testLogger) add(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("%s: %s %v", level, msg, kv))
}

// eventRecorder collects everything published on an event bus.
type eventRecorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *eventRecorder) record(ev core.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) all() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Event(nil), r.events...)
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, defs ...*core.MissionDefinition) (*Engine, *eventRecorder) {
	t.Helper()
	logger := &testLogger{}
	events := bus.NewEventBus(logger)
	rec := &eventRecorder{}
	events.SubscribeAll(rec.record)

	e, err := New(Dependencies{
		Signals: bus.NewSignalBus(logger),
		Events:  events,
		Logger:  logger,
		Now:     func() time.Time { return testNow },
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)

	report := e.Load(defs)
	require.Empty(t, report.Rejected)
	return e, rec
}

func killMission(id string, count int, prereqs ...string) *core.MissionDefinition {
	return &core.MissionDefinition{
		ID:          id,
		Title:       "Mission " + id,
		Description: "kill zombies",
		Objectives: []core.ObjectiveDefinition{
			{ID: "kill", Kind: core.ObjectiveKillEntity, Target: "zombie", Count: count},
		},
		Prerequisites: prereqs,
		Category:      "combat",
	}
}

func zombieKill(player uuid.UUID) core.Signal {
	return core.EntityKilled{
		SignalBase: core.SignalBase{PlayerID: player, Time: testNow},
		EntityType: "zombie",
		Dimension:  "overworld",
	}
}

func stateOf(t *testing.T, e *Engine, player uuid.UUID, id string) core.MissionState {
	t.Helper()
	inst, err := e.Mission(player, id).Get()
	require.NoError(t, err)
	return inst.State
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Dependencies{})
	assert.Error(t, err)

	_, err = New(Dependencies{Signals: bus.NewSignalBus(nil), Events: bus.NewEventBus(nil)})
	assert.Error(t, err)
}

func TestScenarioA_ActivateTwice(t *testing.T) {
	e, rec := newTestEngine(t, killMission("m1", 10))
	player := uuid.New()

	e.JoinPlayer(player)
	assert.Equal(t, core.StateAvailable, stateOf(t, e, player, "m1"))

	require.NoError(t, e.Activate(player, "m1"))
	events := rec.all()
	require.Len(t, events, 1)
	sc, ok := events[0].(core.StateChanged)
	require.True(t, ok)
	assert.Equal(t, core.StateAvailable, sc.Old)
	assert.Equal(t, core.StateActive, sc.New)
	assert.Equal(t, player, sc.Player())
	assert.Equal(t, "m1", sc.Mission())

	err := e.Activate(player, "m1")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidState)
	assert.Equal(t, "cannot activate mission in state ACTIVE", err.Error())
	assert.Equal(t, core.CodeInvalidState, core.FailureCode(err, ""))
	assert.Len(t, rec.all(), 1)
}

func TestScenarioB_ProgressClamps(t *testing.T) {
	e, rec := newTestEngine(t, killMission("m1", 10), killMission("m2", 5, "m1"))
	player := uuid.New()
	require.NoError(t, e.Activate(player, "m1"))
	rec.reset()

	for i := 0; i < 9; i++ {
		require.NoError(t, e.Enqueue(zombieKill(player)))
	}
	assert.Equal(t, 9, e.Tick())

	p, err := e.Progress(player, "m1").Get()
	require.NoError(t, err)
	assert.Equal(t, 9, p.Current)
	assert.Equal(t, 10, p.Target)
	assert.InDelta(t, 0.9, p.Percentage, 1e-9)
	assert.Equal(t, core.StateActive, stateOf(t, e, player, "m1"))

	require.NoError(t, e.Enqueue(zombieKill(player)))
	e.Tick()
	assert.Equal(t, core.StateCompleted, stateOf(t, e, player, "m1"))

	// 11th signal: the mission is no longer active, nothing moves.
	require.NoError(t, e.Enqueue(zombieKill(player)))
	e.Tick()
	counter, ok := e.tracker.Progress(player, "m1", "kill")
	require.True(t, ok)
	assert.Equal(t, 10, counter)

	var progress []core.ProgressChanged
	for _, ev := range rec.all() {
		if pc, ok := ev.(core.ProgressChanged); ok {
			progress = append(progress, pc)
		}
	}
	require.Len(t, progress, 10)
	assert.Equal(t, 0, progress[0].Old)
	assert.Equal(t, 10, progress[9].New)
	assert.InDelta(t, 1.0, progress[9].Percentage(), 1e-9)
}

func TestScenarioB_TrackerClampsWhileActive(t *testing.T) {
	def := killMission("m1", 10)
	tr := NewTracker()
	player := uuid.New()
	tr.InitMission(player, def)

	for i := 0; i < 10; i++ {
		_, ok := tr.ProcessSignal(player, def, zombieKill(player))
		require.True(t, ok)
	}
	assert.True(t, tr.IsCompleted(player, def))

	d, ok := tr.ProcessSignal(player, def, zombieKill(player))
	require.True(t, ok)
	assert.False(t, d.Changed())
	assert.Equal(t, 10, d.New)
}

func TestScenarioC_UnlockDependents(t *testing.T) {
	e, rec := newTestEngine(t, killMission("m1", 1), killMission("m2", 1, "m1"))
	player := uuid.New()
	e.JoinPlayer(player)

	assert.Equal(t, core.StateLocked, stateOf(t, e, player, "m2"))
	assert.False(t, e.CanActivate(player, "m2"))

	err := e.Activate(player, "m2")
	assert.ErrorIs(t, err, core.ErrInvalidState)

	require.NoError(t, e.Activate(player, "m1"))
	rec.reset()
	require.NoError(t, e.Complete(player, "m1"))

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, core.EventStateChanged, events[0].Kind())
	unlocked, ok := events[1].(core.Unlocked)
	require.True(t, ok)
	assert.Equal(t, "m2", unlocked.Mission())

	assert.Equal(t, core.StateAvailable, stateOf(t, e, player, "m2"))
	assert.True(t, e.CanActivate(player, "m2"))
}

func TestCommands_UnknownMission(t *testing.T) {
	e, _ := newTestEngine(t, killMission("m1", 1))
	player := uuid.New()

	for name, fn := range map[string]func() error{
		"activate": func() error { return e.Activate(player, "nope") },
		"abandon":  func() error { return e.Abandon(player, "nope") },
		"complete": func() error { return e.Complete(player, "nope") },
		"fail":     func() error { return e.Fail(player, "nope", "x") },
		"reset":    func() error { return e.Reset(player, "nope") },
		"retry":    func() error { return e.Retry(player, "nope") },
	} {
		t.Run(name, func(t *testing.T) {
			err := fn()
			assert.ErrorIs(t, err, core.ErrMissionNotFound)
			assert.Equal(t, core.CodeMissionNotFound, core.FailureCode(err, ""))
			assert.Equal(t, "mission not found: nope", err.Error())
		})
	}
}

func TestAbandon(t *testing.T) {
	e, rec := newTestEngine(t, killMission("m1", 5))
	player := uuid.New()

	err := e.Abandon(player, "m1")
	assert.Equal(t, "cannot abandon mission in state AVAILABLE", err.Error())

	require.NoError(t, e.Activate(player, "m1"))
	require.NoError(t, e.Enqueue(zombieKill(player)))
	e.Tick()
	rec.reset()

	require.NoError(t, e.Abandon(player, "m1"))
	assert.Equal(t, core.StateAvailable, stateOf(t, e, player, "m1"))
	assert.False(t, e.tracker.IsTracked(player, "m1"))
	assert.Empty(t, e.index.ActiveMissions(player))
	assert.False(t, e.Progress(player, "m1").IsSome())

	inst, _ := e.Mission(player, "m1").Get()
	assert.False(t, inst.StartedAt.IsSome())

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, core.StateAvailable, events[0].(core.StateChanged).New)

	// activating again starts from zero
	require.NoError(t, e.Activate(player, "m1"))
	p, err := e.Progress(player, "m1").Get()
	require.NoError(t, err)
	assert.Equal(t, 0, p.Current)
}

func TestFailAndRetry(t *testing.T) {
	e, rec := newTestEngine(t, killMission("m1", 5))
	player := uuid.New()

	err := e.Fail(player, "m1", "timeout")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	assert.Equal(t, "invalid state transition: AVAILABLE -> FAILED", err.Error())

	require.NoError(t, e.Activate(player, "m1"))
	rec.reset()
	require.NoError(t, e.Fail(player, "m1", "timeout"))

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, core.StateFailed, events[0].(core.StateChanged).New)
	failed, ok := events[1].(core.Failed)
	require.True(t, ok)
	assert.Equal(t, "timeout", failed.Reason)
	assert.Empty(t, e.index.ActiveMissions(player))

	err = e.Reset(player, "m1")
	assert.ErrorIs(t, err, core.ErrNotRepeatable)

	require.NoError(t, e.Retry(player, "m1"))
	assert.Equal(t, core.StateAvailable, stateOf(t, e, player, "m1"))

	err = e.Retry(player, "m1")
	assert.Equal(t, "can only retry failed missions", err.Error())
}

func TestReset(t *testing.T) {
	def := killMission("m1", 1)
	def.Repeatable = true
	e, _ := newTestEngine(t, def, killMission("once", 1))
	player := uuid.New()

	err := e.Reset(player, "m1")
	assert.Equal(t, "can only reset completed missions", err.Error())

	err = e.Reset(player, "once")
	assert.Equal(t, "mission is not repeatable: once", err.Error())
	assert.Equal(t, core.CodeNotRepeatable, core.FailureCode(err, ""))

	require.NoError(t, e.Activate(player, "m1"))
	require.NoError(t, e.Enqueue(zombieKill(player)))
	e.Tick()
	require.Equal(t, core.StateCompleted, stateOf(t, e, player, "m1"))

	inst, _ := e.Mission(player, "m1").Get()
	assert.True(t, inst.CompletedAt.IsSome())

	require.NoError(t, e.Reset(player, "m1"))
	inst, _ = e.Mission(player, "m1").Get()
	assert.Equal(t, core.StateAvailable, inst.State)
	assert.False(t, inst.CompletedAt.IsSome())
	assert.False(t, e.tracker.IsTracked(player, "m1"))
}

func TestActivate_PrerequisiteCheckedWhenAvailable(t *testing.T) {
	e, _ := newTestEngine(t, killMission("m1", 1), killMission("m2", 1, "m1"))
	player := uuid.New()

	// Force the dependent into AVAILABLE without completing its prerequisite.
	p := e.lockPlayer(player)
	p.missions["m2"].State = core.StateAvailable
	p.mu.Unlock()

	err := e.Activate(player, "m2")
	assert.ErrorIs(t, err, core.ErrPrerequisite)
	assert.Equal(t, "prerequisite not completed: m1", err.Error())
}

func TestQueries(t *testing.T) {
	general := killMission("g", 1)
	general.Category = ""
	e, _ := newTestEngine(t, killMission("m1", 4), killMission("m2", 1, "m1"), general)
	player := uuid.New()

	assert.Len(t, e.Missions(player), 3)
	assert.Len(t, e.MissionsByState(player, core.StateAvailable), 2)
	assert.Len(t, e.MissionsByState(player, core.StateLocked), 1)
	assert.Len(t, e.MissionsByCategory(player, "combat"), 2)
	assert.Len(t, e.MissionsByCategory(player, core.DefaultCategory), 1)
	assert.False(t, e.Mission(player, "missing").IsSome())

	// returned instances are detached copies
	inst, err := e.Mission(player, "m1").Get()
	require.NoError(t, err)
	inst.Definition.Title = "changed"
	again, _ := e.Mission(player, "m1").Get()
	assert.Equal(t, "Mission m1", again.Definition.Title)

	require.NoError(t, e.Activate(player, "m1"))
	require.NoError(t, e.Enqueue(zombieKill(player)))
	e.Tick()
	assert.InDelta(t, 0.25, e.OverallProgress(player, "m1"), 1e-9)

	stats := e.Stats()
	assert.Equal(t, 1, stats.Players)
	assert.Equal(t, 3, stats.Missions)
	assert.Equal(t, 1, stats.ActiveMissions)
	assert.Equal(t, 0, stats.QueuedSignals)
}

func TestOverallProgress_IsMeanOfObjectives(t *testing.T) {
	def := killMission("m1", 4)
	def.Objectives = append(def.Objectives, core.ObjectiveDefinition{
		ID: "visit", Kind: core.ObjectiveReachLocation, Target: "camp", Count: 1,
	})
	e, _ := newTestEngine(t, def)
	player := uuid.New()
	require.NoError(t, e.Activate(player, "m1"))

	for i := 0; i < 4; i++ {
		require.NoError(t, e.Enqueue(zombieKill(player)))
	}
	e.Tick()

	// primary objective done, secondary untouched: not completed
	assert.Equal(t, core.StateActive, stateOf(t, e, player, "m1"))
	p, _ := e.Progress(player, "m1").Get()
	assert.InDelta(t, 1.0, p.Percentage, 1e-9)
	assert.InDelta(t, 0.5, e.OverallProgress(player, "m1"), 1e-9)

	changed, err := e.CheckObjective(player, "m1", "visit", 1)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, core.StateCompleted, stateOf(t, e, player, "m1"))
}

func TestCheckObjective(t *testing.T) {
	def := killMission("m1", 10)
	def.Objectives = append(def.Objectives, core.ObjectiveDefinition{
		ID: "gold", Kind: core.ObjectiveCollectItem, Target: "gold", Count: 3,
	})
	e, _ := newTestEngine(t, def)
	player := uuid.New()

	_, err := e.CheckObjective(player, "m1", "gold", 1)
	assert.ErrorIs(t, err, core.ErrPlayerNotFound)
	assert.False(t, e.Loaded(player), "checks never load a player")

	e.JoinPlayer(player)
	_, err = e.CheckObjective(player, "m1", "gold", 1)
	assert.ErrorIs(t, err, core.ErrInvalidState)

	require.NoError(t, e.Activate(player, "m1"))

	changed, err := e.CheckObjective(player, "m1", "gold", 2)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = e.CheckObjective(player, "m1", "gold", 2)
	require.NoError(t, err)
	assert.False(t, changed)

	// never lowers
	changed, err = e.CheckObjective(player, "m1", "gold", 1)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = e.CheckObjective(player, "m1", "gold", 99)
	require.NoError(t, err)
	assert.True(t, changed)
	v, _ := e.tracker.Progress(player, "m1", "gold")
	assert.Equal(t, 3, v)

	_, err = e.CheckObjective(player, "m1", "nope", 1)
	assert.ErrorIs(t, err, core.ErrObjectiveNotFound)
}

func TestCheckLocation(t *testing.T) {
	def := &core.MissionDefinition{
		ID:    "camp",
		Title: "Find the camp",
		Objectives: []core.ObjectiveDefinition{{
			ID:        "arrive",
			Kind:      core.ObjectiveReachLocation,
			Target:    "camp",
			Count:     1,
			Dimension: "overworld",
			Area:      "POLYGON((0 0,10 0,10 10,0 10,0 0))",
		}},
	}
	e, rec := newTestEngine(t, def)
	player := uuid.New()

	_, err := e.CheckLocation(player, "overworld", 5, 5)
	assert.ErrorIs(t, err, core.ErrPlayerNotFound)
	assert.False(t, e.Loaded(player))

	e.JoinPlayer(player)
	n, err := e.CheckLocation(player, "overworld", 5, 5)
	require.NoError(t, err)
	assert.Zero(t, n, "inactive missions are ignored")

	require.NoError(t, e.Activate(player, "camp"))
	rec.reset()

	n, err = e.CheckLocation(player, "overworld", 50, 50)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = e.CheckLocation(player, "nether", 5, 5)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = e.CheckLocation(player, "overworld", 5, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, core.StateCompleted, stateOf(t, e, player, "camp"))

	kinds := make([]string, 0)
	for _, ev := range rec.all() {
		kinds = append(kinds, ev.Kind())
	}
	assert.Equal(t, []string{core.EventProgressChanged, core.EventStateChanged}, kinds)
}

func TestLoad_RejectsInvalidAndDuplicates(t *testing.T) {
	logger := &testLogger{}
	e, err := New(Dependencies{
		Signals: bus.NewSignalBus(logger),
		Events:  bus.NewEventBus(logger),
		Logger:  logger,
	})
	require.NoError(t, err)
	defer e.Close()

	bad := &core.MissionDefinition{ID: "bad"}
	report := e.Load([]*core.MissionDefinition{killMission("m1", 1), killMission("m1", 2), bad})

	assert.Equal(t, 1, report.Loaded)
	assert.Contains(t, report.Rejected, "bad")
	assert.Contains(t, report.Rejected["m1"], "duplicate mission id")
	assert.Len(t, e.Definitions(), 1)
}

func TestLoad_ReloadDropsRemovedActiveMission(t *testing.T) {
	e, _ := newTestEngine(t, killMission("m1", 5), killMission("m2", 5))
	player := uuid.New()
	require.NoError(t, e.Activate(player, "m1"))
	require.NoError(t, e.Activate(player, "m2"))

	e.Load([]*core.MissionDefinition{killMission("m2", 8)})

	assert.Equal(t, []string{"m2"}, e.index.ActiveMissions(player))
	assert.False(t, e.tracker.IsTracked(player, "m1"))
	assert.Len(t, e.Missions(player), 1)

	inst, err := e.Mission(player, "m2").Get()
	require.NoError(t, err)
	assert.Equal(t, core.StateActive, inst.State)
	assert.Equal(t, 8, inst.Definition.Objectives[0].Count)
}

func TestEnqueue_FullQueueDrops(t *testing.T) {
	logger := &testLogger{}
	e, err := New(Dependencies{
		Signals:   bus.NewSignalBus(logger),
		Events:    bus.NewEventBus(logger),
		Logger:    logger,
		QueueSize: 2,
	})
	require.NoError(t, err)
	defer e.Close()

	player := uuid.New()
	require.NoError(t, e.Enqueue(zombieKill(player)))
	require.NoError(t, e.Enqueue(zombieKill(player)))
	assert.Error(t, e.Enqueue(zombieKill(player)))
	assert.Equal(t, 2, e.Tick())
	assert.Equal(t, 0, e.Tick())
}

func TestEventSubscriberMayCallEngine(t *testing.T) {
	e, _ := newTestEngine(t, killMission("m1", 1), killMission("m2", 1, "m1"))
	player := uuid.New()

	// auto-activate anything that unlocks
	e.deps.Events.Subscribe(core.EventUnlocked, func(ev core.Event) error {
		return e.Activate(ev.Player(), ev.Mission())
	})

	require.NoError(t, e.Activate(player, "m1"))
	require.NoError(t, e.Enqueue(zombieKill(player)))
	e.Tick()

	assert.Equal(t, core.StateCompleted, stateOf(t, e, player, "m1"))
	assert.Equal(t, core.StateActive, stateOf(t, e, player, "m2"))
}

func TestConcurrentPlayers(t *testing.T) {
	e, _ := newTestEngine(t, killMission("m1", 100))
	players := make([]uuid.UUID, 8)
	for i := range players {
		players[i] = uuid.New()
		require.NoError(t, e.Activate(players[i], "m1"))
	}

	var wg sync.WaitGroup
	for _, p := range players {
		wg.Add(1)
		go func(p uuid.UUID) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = e.Enqueue(zombieKill(p))
			}
		}(p)
	}
	wg.Wait()
	e.Tick()

	for _, p := range players {
		prog, err := e.Progress(p, "m1").Get()
		require.NoError(t, err)
		assert.Equal(t, 50, prog.Current)
	}
}

func TestLeavePlayer(t *testing.T) {
	e, _ := newTestEngine(t, killMission("m1", 5))
	player := uuid.New()

	_, err := e.LeavePlayer(player)
	assert.True(t, errors.Is(err, core.ErrPlayerNotFound))

	require.NoError(t, e.Activate(player, "m1"))
	state, err := e.LeavePlayer(player)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, state.Active)
	assert.False(t, e.Loaded(player))
	assert.Empty(t, e.index.ActiveMissions(player))
	assert.False(t, e.tracker.IsTracked(player, "m1"))
}
