// Package bridge defines the message protocol spoken between the server and
// the companion client: message kinds, the envelope and its binary encoding.
package bridge

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a message. Values are wire ordinals: append new kinds at
// the end, never reorder.
type Kind uint8

const (
	KindRequestEventData Kind = iota
	KindRequestEventProgress
	KindRequestUIConfig
	KindUIButtonClicked
	KindUIScreenOpened
	KindUIScreenClosed
	KindEventDataResponse
	KindEventProgressResponse
	KindUIConfigResponse
	KindProgressUpdate
	KindEventStateChanged
	KindError

	kindCount
)

var kindNames = [...]string{
	KindRequestEventData:      "REQUEST_EVENT_DATA",
	KindRequestEventProgress:  "REQUEST_EVENT_PROGRESS",
	KindRequestUIConfig:       "REQUEST_UI_CONFIG",
	KindUIButtonClicked:       "UI_BUTTON_CLICKED",
	KindUIScreenOpened:        "UI_SCREEN_OPENED",
	KindUIScreenClosed:        "UI_SCREEN_CLOSED",
	KindEventDataResponse:     "EVENT_DATA_RESPONSE",
	KindEventProgressResponse: "EVENT_PROGRESS_RESPONSE",
	KindUIConfigResponse:      "UI_CONFIG_RESPONSE",
	KindProgressUpdate:        "PROGRESS_UPDATE",
	KindEventStateChanged:     "EVENT_STATE_CHANGED",
	KindError:                 "ERROR",
}

func (k Kind) String() string {
	if k.Valid() {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k is a known ordinal.
func (k Kind) Valid() bool {
	return k < kindCount
}

// Payload keys.
const (
	KeyEventID         = "event_id"
	KeyObjectiveID     = "objective_id"
	KeyCurrent         = "current"
	KeyTarget          = "target"
	KeyPercentage      = "percentage"
	KeyDescription     = "description"
	KeyState           = "state"
	KeyOldState        = "old_state"
	KeyNewState        = "new_state"
	KeyReason          = "reason"
	KeyUnlocked        = "unlocked"
	KeyOverallProgress = "overall_progress"
	KeyStartedAt       = "started_at"
	KeyCompletedAt     = "completed_at"
	KeyEvents          = "events"
	KeyCount           = "count"
	KeyCategory        = "category"
	KeyUIID            = "ui_id"
	KeyUIData          = "ui_data"
	KeyButtonID        = "button_id"
	KeyScreenID        = "screen_id"
	KeyErrorCode       = "error_code"
	KeyMessage         = "message"
)

// Error codes carried by KindError messages.
const (
	ErrorCodeUnknownKind = "UNKNOWN_MESSAGE_TYPE"
	ErrorCodeProcessing  = "PROCESSING_ERROR"
	ErrorCodePanic       = "HANDLER_PANIC"
)

// Message is the envelope exchanged with the companion client.
type Message struct {
	Kind     Kind
	Payload  map[string]string
	PlayerID uuid.UUID
	Time     time.Time
	ID       uuid.UUID
	// ReplyTo is set on responses to the ID of the originating request.
	ReplyTo uuid.NullUUID
}

// NewMessage builds an outbound message with a fresh ID.
func NewMessage(kind Kind, player uuid.UUID, payload map[string]string) Message {
	if payload == nil {
		payload = map[string]string{}
	}
	return Message{
		Kind:     kind,
		Payload:  payload,
		PlayerID: player,
		Time:     time.Now().UTC().Truncate(time.Millisecond),
		ID:       uuid.New(),
	}
}

// Reply builds a response correlated to m.
func (m Message) Reply(kind Kind, payload map[string]string) Message {
	r := NewMessage(kind, m.PlayerID, payload)
	r.ReplyTo = uuid.NullUUID{UUID: m.ID, Valid: true}
	return r
}

// ErrorReply builds a KindError response to m.
func (m Message) ErrorReply(code, text string) Message {
	return m.Reply(KindError, map[string]string{
		KeyErrorCode: code,
		KeyMessage:   text,
	})
}

// Get returns a payload value, or def when the key is absent.
func (m Message) Get(key, def string) string {
	if v, ok := m.Payload[key]; ok {
		return v
	}
	return def
}

// IsReply reports whether m answers an earlier request.
func (m Message) IsReply() bool {
	return m.ReplyTo.Valid
}
