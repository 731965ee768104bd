package worker

import (
	"time"

	"github.com/google/uuid"

	"github.com/eventui/server/internal/bridge"
	"github.com/eventui/server/internal/progression"
	"github.com/eventui/server/internal/result"
	wire "github.com/eventui/server/pkg/bridge"
	"github.com/eventui/server/pkg/core"
)

// Progression is the part of the engine the handlers drive.
type Progression interface {
	Missions(player uuid.UUID) []progression.MissionInstance
	Mission(player uuid.UUID, missionID string) result.Option[progression.MissionInstance]
	Progress(player uuid.UUID, missionID string) result.Option[core.MissionProgress]
	Objectives(player uuid.UUID, missionID string) []core.ObjectiveProgress
	OverallProgress(player uuid.UUID, missionID string) float64

	Activate(player uuid.UUID, missionID string) error
	Abandon(player uuid.UUID, missionID string) error
	Complete(player uuid.UUID, missionID string) error
	Reset(player uuid.UUID, missionID string) error
	Retry(player uuid.UUID, missionID string) error
}

var _ Progression = (*progression.Engine)(nil)

// Sender delivers outbound bridge messages.
type Sender interface {
	Send(msg wire.Message) <-chan error
}

var _ Sender = (*bridge.Endpoint)(nil)

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Engine    Progression
	UIConfigs *UIConfigs
	Logger    bridge.Logger
}

// Manager binds companion-client requests to the progression engine.
type Manager struct {
	deps Dependencies
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies) *Manager {
	if deps.UIConfigs == nil {
		deps.UIConfigs = NewUIConfigs()
	}
	return &Manager{deps: deps}
}

func unixMillis(o result.Option[time.Time]) int64 {
	t, err := o.Get()
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
