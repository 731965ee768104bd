package worker

import (
	"errors"
	"strconv"

	"github.com/eventui/server/internal/bridge"
	"github.com/eventui/server/internal/bus"
	wire "github.com/eventui/server/pkg/bridge"
	"github.com/eventui/server/pkg/core"
)

// Notifier mirrors domain events to the companion client as
// PROGRESS_UPDATE and EVENT_STATE_CHANGED messages.
type Notifier struct {
	engine Progression
	sender Sender
	logger bridge.Logger
	subs   []bus.Subscription
	events *bus.EventBus
}

func NewNotifier(engine Progression, sender Sender, logger bridge.Logger) *Notifier {
	return &Notifier{engine: engine, sender: sender, logger: logger}
}

// Attach subscribes the notifier to events.
func (n *Notifier) Attach(events *bus.EventBus) {
	n.events = events
	n.subs = append(n.subs,
		events.Subscribe(core.EventProgressChanged, n.onProgress),
		events.Subscribe(core.EventStateChanged, n.onStateChanged),
		events.Subscribe(core.EventUnlocked, n.onUnlocked),
		events.Subscribe(core.EventFailed, n.onFailed),
	)
}

// Detach removes every subscription made by Attach.
func (n *Notifier) Detach() {
	for _, s := range n.subs {
		n.events.Unsubscribe(s)
	}
	n.subs = nil
}

func (n *Notifier) onProgress(ev core.Event) error {
	pc := ev.(core.ProgressChanged)

	description := pc.ObjectiveID
	if inst, err := n.engine.Mission(pc.Player(), pc.Mission()).Get(); err == nil {
		if o, ok := inst.Definition.Objective(pc.ObjectiveID); ok && o.Description != "" {
			description = o.Description
		}
	}

	return n.send(wire.NewMessage(wire.KindProgressUpdate, pc.Player(), map[string]string{
		wire.KeyEventID:     pc.Mission(),
		wire.KeyObjectiveID: pc.ObjectiveID,
		wire.KeyCurrent:     strconv.Itoa(pc.New),
		wire.KeyTarget:      strconv.Itoa(pc.Target),
		wire.KeyDescription: description,
	}))
}

func (n *Notifier) onStateChanged(ev core.Event) error {
	sc := ev.(core.StateChanged)
	if sc.New == core.StateFailed {
		// reported by onFailed together with the reason
		return nil
	}
	return n.sendState(ev, sc.Old, sc.New, nil)
}

func (n *Notifier) onUnlocked(ev core.Event) error {
	return n.sendState(ev, core.StateLocked, core.StateAvailable, map[string]string{
		wire.KeyUnlocked: "true",
	})
}

func (n *Notifier) onFailed(ev core.Event) error {
	f := ev.(core.Failed)
	return n.sendState(ev, core.StateActive, core.StateFailed, map[string]string{
		wire.KeyReason: f.Reason,
	})
}

func (n *Notifier) sendState(ev core.Event, from, to core.MissionState, extra map[string]string) error {
	payload := map[string]string{
		wire.KeyEventID:  ev.Mission(),
		wire.KeyOldState: from.String(),
		wire.KeyNewState: to.String(),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return n.send(wire.NewMessage(wire.KindEventStateChanged, ev.Player(), payload))
}

// send is best-effort: an offline player is not an error.
func (n *Notifier) send(msg wire.Message) error {
	err := <-n.sender.Send(msg)
	if errors.Is(err, bridge.ErrPeerUnreachable) {
		n.logger.Debug("player offline, notification dropped", "kind", msg.Kind, "player", msg.PlayerID)
		return nil
	}
	return err
}
