// Package parser converts positional records pushed by a game server into
// signals and poll observations.
package parser

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eventui/server/pkg/core"
)

// parseIntFromFloat parses a string that may be an integer ("32") or float ("32.00") into int64.
// Scripting hosts without an integer type serialize counts as floats.
func parseIntFromFloat(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("parseIntFromFloat: %q is not a valid int64", s)
	}
	return int64(f), nil
}

// clean strips surrounding quotes and collapses doubled quotes.
func clean(data []string) []string {
	out := make([]string, len(data))
	for i, v := range data {
		out[i] = strings.ReplaceAll(strings.Trim(v, `"`), `""`, `"`)
	}
	return out
}

// Position is a polled player location.
type Position struct {
	Player    uuid.UUID
	Time      time.Time
	Dimension string
	X, Y      float64
}

// Observation is a polled objective amount, e.g. items held in an inventory.
type Observation struct {
	Player      uuid.UUID
	MissionID   string
	ObjectiveID string
	Observed    int
}

// Parser provides pure []string -> signal conversion.
// It has zero external dependencies beyond a logger.
type Parser struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewParser creates a new parser. A nil now uses time.Now for records
// without a timestamp.
func NewParser(logger *slog.Logger, now func() time.Time) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Parser{logger: logger, now: now}
}

func (p *Parser) parseBase(player, millis string) (core.SignalBase, error) {
	var base core.SignalBase
	id, err := uuid.Parse(player)
	if err != nil {
		return base, fmt.Errorf("error parsing player: %w", err)
	}
	base.PlayerID = id
	base.Time, err = p.parseTime(millis)
	return base, err
}

// parseTime reads unix milliseconds; empty or zero means now.
func (p *Parser) parseTime(millis string) (time.Time, error) {
	if millis == "" || millis == "0" {
		return p.now(), nil
	}
	ms, err := parseIntFromFloat(millis)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing time: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// optional returns data[i] or "" when the record is shorter.
func optional(data []string, i int) string {
	if i < len(data) {
		return data[i]
	}
	return ""
}

func count(data []string, i int, fallback int) (int, error) {
	s := optional(data, i)
	if s == "" {
		return fallback, nil
	}
	n, err := parseIntFromFloat(s)
	if err != nil {
		return 0, fmt.Errorf("error parsing count: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %d", n)
	}
	return int(n), nil
}

// ParseSignal parses [kind, player, unixMillis, fields...] into a Signal.
//
// Fields per kind:
//
//	entity_killed     entityType [dimension]
//	item_crafted      itemId [count=1]
//	block_placed      blockType [dimension]
//	block_broken      blockType [dimension]
//	item_picked_up    itemId [count=1]
//	time_passed       seconds
//	location_reached  locationId [dimension]
//	interacted        target [dimension]
//	custom            name [amount=1]
func (p *Parser) ParseSignal(data []string) (core.Signal, error) {
	data = clean(data)
	if len(data) < 4 {
		return nil, fmt.Errorf("insufficient data fields: got %d, need 4", len(data))
	}

	kind := strings.ToLower(data[0])
	base, err := p.parseBase(data[1], data[2])
	if err != nil {
		return nil, err
	}
	field := data[3]

	var s core.Signal
	switch kind {
	case core.SignalEntityKilled:
		s = core.EntityKilled{SignalBase: base, EntityType: field, Dimension: optional(data, 4)}
	case core.SignalItemCrafted:
		n, err := count(data, 4, 1)
		if err != nil {
			return nil, err
		}
		s = core.ItemCrafted{SignalBase: base, ItemID: field, Count: n}
	case core.SignalBlockPlaced:
		s = core.BlockPlaced{SignalBase: base, BlockType: field, Dimension: optional(data, 4)}
	case core.SignalBlockBroken:
		s = core.BlockBroken{SignalBase: base, BlockType: field, Dimension: optional(data, 4)}
	case core.SignalItemPickedUp:
		n, err := count(data, 4, 1)
		if err != nil {
			return nil, err
		}
		s = core.ItemPickedUp{SignalBase: base, ItemID: field, Count: n}
	case core.SignalTimePassed:
		n, err := count(data, 3, 0)
		if err != nil {
			return nil, err
		}
		s = core.TimePassed{SignalBase: base, Seconds: n}
	case core.SignalLocationReached:
		s = core.LocationReached{SignalBase: base, LocationID: field, Dimension: optional(data, 4)}
	case core.SignalInteracted:
		s = core.Interacted{SignalBase: base, Target: field, Dimension: optional(data, 4)}
	case core.SignalCustom:
		n, err := count(data, 4, 1)
		if err != nil {
			return nil, err
		}
		s = core.Custom{SignalBase: base, Name: field, Amount: n}
	default:
		return nil, fmt.Errorf("unknown signal kind %q", data[0])
	}

	p.logger.Debug("Parsed signal", "kind", s.Kind(), "player", base.PlayerID)
	return s, nil
}

// ParsePosition parses [player, unixMillis, dimension, x, y].
func (p *Parser) ParsePosition(data []string) (Position, error) {
	var result Position
	data = clean(data)
	if len(data) < 5 {
		return result, fmt.Errorf("insufficient data fields: got %d, need 5", len(data))
	}

	base, err := p.parseBase(data[0], data[1])
	if err != nil {
		return result, err
	}
	result.Player = base.PlayerID
	result.Time = base.Time
	result.Dimension = data[2]

	if result.X, err = strconv.ParseFloat(data[3], 64); err != nil {
		return result, fmt.Errorf("error parsing x: %w", err)
	}
	if result.Y, err = strconv.ParseFloat(data[4], 64); err != nil {
		return result, fmt.Errorf("error parsing y: %w", err)
	}
	return result, nil
}

// ParseObservation parses [player, missionId, objectiveId, observed].
func (p *Parser) ParseObservation(data []string) (Observation, error) {
	var result Observation
	data = clean(data)
	if len(data) < 4 {
		return result, fmt.Errorf("insufficient data fields: got %d, need 4", len(data))
	}

	id, err := uuid.Parse(data[0])
	if err != nil {
		return result, fmt.Errorf("error parsing player: %w", err)
	}
	result.Player = id
	result.MissionID = data[1]
	result.ObjectiveID = data[2]
	if result.MissionID == "" || result.ObjectiveID == "" {
		return result, fmt.Errorf("mission and objective ids are required")
	}
	if result.Observed, err = count(data, 3, 0); err != nil {
		return result, err
	}
	return result, nil
}
