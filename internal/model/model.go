// Package model holds the gorm row types of the persisted player state.
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DatabaseModels is every table migrated at setup.
var DatabaseModels = []any{
	&ServerInfo{},
	&PlayerState{},
	&MissionEventLog{},
}

// ServerInfo records which schema the database was last migrated to.
type ServerInfo struct {
	ID            uint      `gorm:"primarykey"`
	SchemaVersion int       `json:"schemaVersion"`
	MigratedAt    time.Time `json:"migratedAt" gorm:"autoUpdateTime"`
}

func (*ServerInfo) TableName() string {
	return "server_infos"
}

// PlayerState is one player's saved progression. The mission lists and maps
// are stored as JSON columns so the layout can evolve with SchemaVersion.
type PlayerState struct {
	PlayerID      uuid.UUID      `json:"playerId" gorm:"type:uuid;primaryKey"`
	SchemaVersion int            `json:"schemaVersion"`
	Progress      datatypes.JSON `json:"progress"`
	Completed     datatypes.JSON `json:"completed"`
	Active        datatypes.JSON `json:"active"`
	Failed        datatypes.JSON `json:"failed"`
	StartedAt     datatypes.JSON `json:"startedAt"`
	CompletedAt   datatypes.JSON `json:"completedAt"`
	UpdatedAt     time.Time      `json:"updatedAt" gorm:"autoUpdateTime;index:idx_player_state_updated"`
}

func (*PlayerState) TableName() string {
	return "player_states"
}

// MissionEventLog is an append-only audit row for a mission event.
type MissionEventLog struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	Time      time.Time `json:"time" gorm:"index:idx_mission_event_time"`
	PlayerID  uuid.UUID `json:"playerId" gorm:"type:uuid;index:idx_mission_event_player"`
	MissionID string    `json:"missionId" gorm:"size:128;index:idx_mission_event_mission"`
	Kind      string    `json:"kind" gorm:"size:32"`
	OldState  string    `json:"oldState" gorm:"size:16"`
	NewState  string    `json:"newState" gorm:"size:16"`
	Objective string    `json:"objective" gorm:"size:128"`
	Current   int       `json:"current"`
	Target    int       `json:"target"`
	Reason    string    `json:"reason"`
}

func (*MissionEventLog) TableName() string {
	return "mission_event_logs"
}
