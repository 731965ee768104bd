package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/eventui/server/internal/bridge"
	"github.com/eventui/server/internal/progression"
	wire "github.com/eventui/server/pkg/bridge"
	"github.com/eventui/server/pkg/core"
)

// Button ids understood by UI_BUTTON_CLICKED.
const (
	ButtonActivate = "activate"
	ButtonAbandon  = "abandon"
	ButtonComplete = "complete"
	ButtonReset    = "reset"
	ButtonRetry    = "retry"
)

// RegisterHandlers registers every inbound message handler with the dispatcher.
func (m *Manager) RegisterHandlers(d *bridge.Dispatcher) {
	// Queries answer directly
	d.Register(wire.KindRequestEventData, m.handleRequestEventData, bridge.Logged())
	d.Register(wire.KindRequestEventProgress, m.handleRequestEventProgress, bridge.Logged())
	d.Register(wire.KindRequestUIConfig, m.handleRequestUIConfig, bridge.Logged())

	// Commands - buffered so the read loop never waits on the engine
	d.Register(wire.KindUIButtonClicked, m.handleButtonClicked, bridge.Buffered(1000), bridge.Logged())

	// Screen notifications - informational only
	d.Register(wire.KindUIScreenOpened, m.handleScreenOpened, bridge.Buffered(100))
	d.Register(wire.KindUIScreenClosed, m.handleScreenClosed, bridge.Buffered(100))
}

// MissionSummary is one entry of the EVENT_DATA_RESPONSE events list.
type MissionSummary struct {
	ID               string  `json:"id"`
	DisplayName      string  `json:"displayName"`
	Description      string  `json:"description"`
	Category         string  `json:"category"`
	Difficulty       string  `json:"difficulty,omitempty"`
	Repeatable       bool    `json:"repeatable"`
	State            string  `json:"state"`
	OverallProgress  float64 `json:"overallProgress"`
	StartedAt        int64   `json:"startedAt"`
	CompletedAt      int64   `json:"completedAt,omitempty"`
	CurrentObjective string  `json:"currentObjective,omitempty"`
	CurrentProgress  int     `json:"currentProgress"`
	TargetProgress   int     `json:"targetProgress"`
}

func (m *Manager) summarize(msg wire.Message, inst progression.MissionInstance) MissionSummary {
	def := inst.Definition
	s := MissionSummary{
		ID:          def.ID,
		DisplayName: def.Title,
		Description: def.Description,
		Category:    def.Category,
		Difficulty:  def.Difficulty,
		Repeatable:  def.Repeatable,
		State:       inst.State.String(),
		StartedAt:   unixMillis(inst.StartedAt),
		CompletedAt: unixMillis(inst.CompletedAt),
	}
	if s.Category == "" {
		s.Category = core.DefaultCategory
	}

	if inst.State == core.StateActive || inst.State == core.StateCompleted {
		s.OverallProgress = m.deps.Engine.OverallProgress(msg.PlayerID, def.ID)
	}

	// Show the first unfinished objective of an active mission, otherwise
	// the first objective.
	if inst.State == core.StateActive {
		objs := m.deps.Engine.Objectives(msg.PlayerID, def.ID)
		for i, o := range objs {
			if !o.Completed {
				s.CurrentObjective = def.Objectives[i].Description
				s.CurrentProgress = o.Current
				s.TargetProgress = o.Target
				return s
			}
		}
	}
	if first, ok := def.PrimaryObjective(); ok {
		s.CurrentObjective = first.Description
		s.TargetProgress = first.Count
		if inst.State == core.StateCompleted {
			s.CurrentProgress = first.Count
		}
	}
	return s
}

func (m *Manager) handleRequestEventData(_ context.Context, msg wire.Message) (*wire.Message, error) {
	missions := m.deps.Engine.Missions(msg.PlayerID)

	category := msg.Get(wire.KeyCategory, "")
	list := make([]MissionSummary, 0, len(missions))
	for _, inst := range missions {
		s := m.summarize(msg, inst)
		if category != "" && s.Category != category {
			continue
		}
		list = append(list, s)
	}

	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize events: %w", err)
	}

	reply := msg.Reply(wire.KindEventDataResponse, map[string]string{
		wire.KeyEvents: string(data),
		wire.KeyCount:  strconv.Itoa(len(list)),
	})
	return &reply, nil
}

func (m *Manager) handleRequestEventProgress(_ context.Context, msg wire.Message) (*wire.Message, error) {
	missionID := msg.Get(wire.KeyEventID, "")
	inst, err := m.deps.Engine.Mission(msg.PlayerID, missionID).Get()
	if err != nil {
		return nil, core.Failf(core.CodeMissionNotFound, core.ErrMissionNotFound, "mission not found: %s", missionID)
	}

	payload := map[string]string{
		wire.KeyEventID:         missionID,
		wire.KeyState:           inst.State.String(),
		wire.KeyOverallProgress: formatFloat(m.deps.Engine.OverallProgress(msg.PlayerID, missionID)),
		wire.KeyStartedAt:       strconv.FormatInt(unixMillis(inst.StartedAt), 10),
	}
	if inst.CompletedAt.IsSome() {
		payload[wire.KeyCompletedAt] = strconv.FormatInt(unixMillis(inst.CompletedAt), 10)
	}
	if p, err := m.deps.Engine.Progress(msg.PlayerID, missionID).Get(); err == nil {
		payload[wire.KeyCurrent] = strconv.Itoa(p.Current)
		payload[wire.KeyTarget] = strconv.Itoa(p.Target)
		payload[wire.KeyPercentage] = formatFloat(p.Percentage)
	}

	reply := msg.Reply(wire.KindEventProgressResponse, payload)
	return &reply, nil
}

func (m *Manager) handleRequestUIConfig(_ context.Context, msg wire.Message) (*wire.Message, error) {
	id := msg.Get(wire.KeyUIID, "")
	if id == "" {
		id = DefaultUIID
	}
	data, ok := m.deps.UIConfigs.Get(id)
	if !ok {
		return nil, &core.Failure{Code: CodeUINotFound, Reason: "UI not found: " + id}
	}

	reply := msg.Reply(wire.KindUIConfigResponse, map[string]string{
		wire.KeyUIID:   id,
		wire.KeyUIData: string(data),
	})
	return &reply, nil
}

// handleButtonClicked maps a button to a command. State changes reach the
// client through the notifier; failures come back as ERROR replies.
func (m *Manager) handleButtonClicked(_ context.Context, msg wire.Message) (*wire.Message, error) {
	button := msg.Get(wire.KeyButtonID, "")
	missionID := msg.Get(wire.KeyEventID, "")

	var cmd func(player uuid.UUID, missionID string) error
	e := m.deps.Engine
	switch button {
	case ButtonActivate:
		cmd = e.Activate
	case ButtonAbandon:
		cmd = e.Abandon
	case ButtonComplete:
		cmd = e.Complete
	case ButtonReset:
		cmd = e.Reset
	case ButtonRetry:
		cmd = e.Retry
	default:
		m.deps.Logger.Info("button clicked", "button", button, "mission", missionID, "player", msg.PlayerID)
		return nil, nil
	}

	if err := cmd(msg.PlayerID, missionID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (m *Manager) handleScreenOpened(_ context.Context, msg wire.Message) (*wire.Message, error) {
	m.deps.Logger.Debug("screen opened", "screen", msg.Get(wire.KeyScreenID, ""), "player", msg.PlayerID)
	return nil, nil
}

func (m *Manager) handleScreenClosed(_ context.Context, msg wire.Message) (*wire.Message, error) {
	m.deps.Logger.Debug("screen closed", "screen", msg.Get(wire.KeyScreenID, ""), "player", msg.PlayerID)
	return nil, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
