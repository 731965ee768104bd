package core

import (
	"time"

	"github.com/google/uuid"
)

// Signal kinds, used as bus subscription keys.
const (
	SignalEntityKilled    = "entity_killed"
	SignalItemCrafted     = "item_crafted"
	SignalBlockPlaced     = "block_placed"
	SignalBlockBroken     = "block_broken"
	SignalItemPickedUp    = "item_picked_up"
	SignalTimePassed      = "time_passed"
	SignalLocationReached = "location_reached"
	SignalInteracted      = "interacted"
	SignalCustom          = "custom"
)

// Signal is a pre-classified player action. The set of variants is closed.
type Signal interface {
	Kind() string
	// Objective is the objective kind this signal can advance.
	Objective() ObjectiveKind
	Player() uuid.UUID
	At() time.Time
	isSignal()
}

// SignalBase carries the fields shared by every signal.
type SignalBase struct {
	PlayerID uuid.UUID
	Time     time.Time
}

func (b SignalBase) Player() uuid.UUID { return b.PlayerID }
func (b SignalBase) At() time.Time     { return b.Time }
func (SignalBase) isSignal()           {}

type EntityKilled struct {
	SignalBase
	EntityType string
	Dimension  string
}

func (EntityKilled) Kind() string             { return SignalEntityKilled }
func (EntityKilled) Objective() ObjectiveKind { return ObjectiveKillEntity }

type ItemCrafted struct {
	SignalBase
	ItemID string
	Count  int
}

func (ItemCrafted) Kind() string             { return SignalItemCrafted }
func (ItemCrafted) Objective() ObjectiveKind { return ObjectiveCraftItem }

type BlockPlaced struct {
	SignalBase
	BlockType string
	Dimension string
}

func (BlockPlaced) Kind() string             { return SignalBlockPlaced }
func (BlockPlaced) Objective() ObjectiveKind { return ObjectivePlaceBlock }

type BlockBroken struct {
	SignalBase
	BlockType string
	Dimension string
}

func (BlockBroken) Kind() string             { return SignalBlockBroken }
func (BlockBroken) Objective() ObjectiveKind { return ObjectiveBreakBlock }

type ItemPickedUp struct {
	SignalBase
	ItemID string
	Count  int
}

func (ItemPickedUp) Kind() string             { return SignalItemPickedUp }
func (ItemPickedUp) Objective() ObjectiveKind { return ObjectiveCollectItem }

// TimePassed reports play time accrued since the previous report.
type TimePassed struct {
	SignalBase
	Seconds int
}

func (TimePassed) Kind() string             { return SignalTimePassed }
func (TimePassed) Objective() ObjectiveKind { return ObjectiveTimePlayed }

type LocationReached struct {
	SignalBase
	LocationID string
	Dimension  string
}

func (LocationReached) Kind() string             { return SignalLocationReached }
func (LocationReached) Objective() ObjectiveKind { return ObjectiveReachLocation }

type Interacted struct {
	SignalBase
	Target    string
	Dimension string
}

func (Interacted) Kind() string             { return SignalInteracted }
func (Interacted) Objective() ObjectiveKind { return ObjectiveInteract }

// Custom is an integration-defined signal matched by name against CUSTOM objectives.
type Custom struct {
	SignalBase
	Name   string
	Amount int
}

func (Custom) Kind() string             { return SignalCustom }
func (Custom) Objective() ObjectiveKind { return ObjectiveCustom }
