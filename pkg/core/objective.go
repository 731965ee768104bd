package core

import "strings"

// ObjectiveKind discriminates what an objective counts.
type ObjectiveKind string

const (
	ObjectiveKillEntity    ObjectiveKind = "KILL_ENTITY"
	ObjectiveCraftItem     ObjectiveKind = "CRAFT_ITEM"
	ObjectivePlaceBlock    ObjectiveKind = "PLACE_BLOCK"
	ObjectiveBreakBlock    ObjectiveKind = "BREAK_BLOCK"
	ObjectiveCollectItem   ObjectiveKind = "COLLECT_ITEM"
	ObjectiveReachLocation ObjectiveKind = "REACH_LOCATION"
	ObjectiveInteract      ObjectiveKind = "INTERACT"
	ObjectiveTimePlayed    ObjectiveKind = "TIME_PLAYED"
	ObjectiveCustom        ObjectiveKind = "CUSTOM"
)

// ObjectiveDefinition is one measurable step of a mission.
//
// Target names what must be matched (entity type, item id, block type,
// location id, custom signal name); an empty Target matches any value.
// Dimension, when set, restricts matching to signals from that dimension.
// Area optionally bounds a REACH_LOCATION objective as WKT so it can be
// checked against polled player positions.
type ObjectiveDefinition struct {
	ID          string        `json:"id"`
	Kind        ObjectiveKind `json:"kind"`
	Target      string        `json:"target"`
	Count       int           `json:"count"`
	Dimension   string        `json:"dimension,omitempty"`
	Area        string        `json:"area,omitempty"`
	Description string        `json:"description,omitempty"`
}

// Match reports whether s advances the objective and by how much.
func (o ObjectiveDefinition) Match(s Signal) (int, bool) {
	switch v := s.(type) {
	case EntityKilled:
		if o.Kind == ObjectiveKillEntity && o.targets(v.EntityType) && o.inDimension(v.Dimension) {
			return 1, true
		}
	case ItemCrafted:
		if o.Kind == ObjectiveCraftItem && o.targets(v.ItemID) {
			return v.Count, true
		}
	case BlockPlaced:
		if o.Kind == ObjectivePlaceBlock && o.targets(v.BlockType) && o.inDimension(v.Dimension) {
			return 1, true
		}
	case BlockBroken:
		if o.Kind == ObjectiveBreakBlock && o.targets(v.BlockType) && o.inDimension(v.Dimension) {
			return 1, true
		}
	case ItemPickedUp:
		if o.Kind == ObjectiveCollectItem && o.targets(v.ItemID) {
			return v.Count, true
		}
	case LocationReached:
		if o.Kind == ObjectiveReachLocation && o.targets(v.LocationID) && o.inDimension(v.Dimension) {
			return 1, true
		}
	case Interacted:
		if o.Kind == ObjectiveInteract && o.targets(v.Target) && o.inDimension(v.Dimension) {
			return 1, true
		}
	case TimePassed:
		if o.Kind == ObjectiveTimePlayed {
			return v.Seconds, true
		}
	case Custom:
		if o.Kind == ObjectiveCustom && o.targets(v.Name) {
			return v.Amount, true
		}
	}
	return 0, false
}

func (o ObjectiveDefinition) targets(value string) bool {
	return o.Target == "" || strings.EqualFold(o.Target, value)
}

func (o ObjectiveDefinition) inDimension(dim string) bool {
	return o.Dimension == "" || strings.EqualFold(o.Dimension, dim)
}
