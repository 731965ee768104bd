// Package convert maps between core progression state and gorm rows.
package convert

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/eventui/server/internal/model"
	"github.com/eventui/server/pkg/core"
	"gorm.io/datatypes"
)

// StateToRow encodes a player's state as a PlayerState row.
func StateToRow(s *core.PlayerMissionState) (model.PlayerState, error) {
	row := model.PlayerState{
		PlayerID:      s.PlayerID,
		SchemaVersion: s.Version,
	}
	fields := []struct {
		dst *datatypes.JSON
		src any
	}{
		{&row.Progress, nonNilProgress(s.Progress)},
		{&row.Completed, nonNilList(s.Completed)},
		{&row.Active, nonNilList(s.Active)},
		{&row.Failed, nonNilList(s.Failed)},
		{&row.StartedAt, nonNilTimes(s.StartedAt)},
		{&row.CompletedAt, nonNilTimes(s.CompletedAt)},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.src)
		if err != nil {
			return model.PlayerState{}, fmt.Errorf("encode player %s: %w", s.PlayerID, err)
		}
		*f.dst = datatypes.JSON(b)
	}
	return row, nil
}

// RowToState decodes a PlayerState row. Empty columns decode as empty
// collections; the schema version is carried through unchanged so the
// caller can migrate it.
func RowToState(row model.PlayerState) (*core.PlayerMissionState, error) {
	s := &core.PlayerMissionState{
		PlayerID:    row.PlayerID,
		Progress:    make(map[string]map[string]int),
		StartedAt:   make(map[string]time.Time),
		CompletedAt: make(map[string]time.Time),
		Version:     row.SchemaVersion,
	}
	fields := []struct {
		name string
		src  datatypes.JSON
		dst  any
	}{
		{"progress", row.Progress, &s.Progress},
		{"completed", row.Completed, &s.Completed},
		{"active", row.Active, &s.Active},
		{"failed", row.Failed, &s.Failed},
		{"startedAt", row.StartedAt, &s.StartedAt},
		{"completedAt", row.CompletedAt, &s.CompletedAt},
	}
	for _, f := range fields {
		if len(f.src) == 0 {
			continue
		}
		if err := json.Unmarshal(f.src, f.dst); err != nil {
			return nil, fmt.Errorf("decode player %s %s: %w", row.PlayerID, f.name, err)
		}
	}
	return s, nil
}

// EventToLog flattens a domain event into an audit row.
func EventToLog(ev core.Event) model.MissionEventLog {
	row := model.MissionEventLog{
		Time:      ev.At(),
		PlayerID:  ev.Player(),
		MissionID: ev.Mission(),
		Kind:      ev.Kind(),
	}
	switch v := ev.(type) {
	case core.ProgressChanged:
		row.Objective = v.ObjectiveID
		row.Current = v.New
		row.Target = v.Target
	case core.StateChanged:
		row.OldState = v.Old.String()
		row.NewState = v.New.String()
	case core.Unlocked:
		row.OldState = core.StateLocked.String()
		row.NewState = core.StateAvailable.String()
	case core.Failed:
		row.NewState = core.StateFailed.String()
		row.Reason = v.Reason
	}
	return row
}

func nonNilList(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilProgress(v map[string]map[string]int) map[string]map[string]int {
	if v == nil {
		return map[string]map[string]int{}
	}
	return v
}

func nonNilTimes(v map[string]time.Time) map[string]time.Time {
	if v == nil {
		return map[string]time.Time{}
	}
	return v
}
