package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wire "github.com/eventui/server/pkg/bridge"
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

func (l *testLogger) has(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

// outbox collects dispatcher output.
type outbox struct {
	mu   sync.Mutex
	msgs []wire.Message
}

func (o *outbox) put(m wire.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, m)
}

func (o *outbox) all() []wire.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]wire.Message(nil), o.msgs...)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *outbox, *testLogger) {
	t.Helper()
	logger := &testLogger{}
	out := &outbox{}
	d, err := NewDispatcher(logger, out.put)
	require.NoError(t, err)
	return d, out, logger
}

func request(kind wire.Kind, payload map[string]string) wire.Message {
	return wire.NewMessage(kind, uuid.New(), payload)
}

func TestDispatcher_SyncHandlerReplies(t *testing.T) {
	d, out, _ := newTestDispatcher(t)

	d.Register(wire.KindRequestEventData, func(ctx context.Context, msg wire.Message) (*wire.Message, error) {
		r := msg.Reply(wire.KindEventDataResponse, map[string]string{wire.KeyCount: "0"})
		return &r, nil
	})
	assert.True(t, d.HasHandler(wire.KindRequestEventData))
	assert.False(t, d.HasHandler(wire.KindUIScreenOpened))

	req := request(wire.KindRequestEventData, nil)
	d.Dispatch(context.Background(), req)

	msgs := out.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, wire.KindEventDataResponse, msgs[0].Kind)
	assert.Equal(t, req.ID, msgs[0].ReplyTo.UUID)
	assert.Equal(t, req.PlayerID, msgs[0].PlayerID)
}

func TestDispatcher_NilReplySendsNothing(t *testing.T) {
	d, out, _ := newTestDispatcher(t)
	d.Register(wire.KindUIScreenClosed, func(context.Context, wire.Message) (*wire.Message, error) {
		return nil, nil
	})

	d.Dispatch(context.Background(), request(wire.KindUIScreenClosed, nil))
	assert.Empty(t, out.all())
}

func TestDispatcher_UnknownKind(t *testing.T) {
	d, out, logger := newTestDispatcher(t)

	req := request(wire.KindUIScreenOpened, nil)
	d.Dispatch(context.Background(), req)

	msgs := out.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, wire.KindError, msgs[0].Kind)
	assert.Equal(t, wire.ErrorCodeUnknownKind, msgs[0].Get(wire.KeyErrorCode, ""))
	assert.Equal(t, "unknown message type: UI_SCREEN_OPENED", msgs[0].Get(wire.KeyMessage, ""))
	assert.Equal(t, req.ID, msgs[0].ReplyTo.UUID)
	assert.True(t, logger.has("no handler for message"))
}

func TestDispatcher_UnhandledErrorIsNotAnswered(t *testing.T) {
	d, out, _ := newTestDispatcher(t)
	d.Dispatch(context.Background(), request(wire.KindError, nil))
	assert.Empty(t, out.all())
}

func TestDispatcher_HandlerError(t *testing.T) {
	d, out, _ := newTestDispatcher(t)

	d.Register(wire.KindRequestUIConfig, func(context.Context, wire.Message) (*wire.Message, error) {
		return nil, errors.New("boom")
	})
	d.Register(wire.KindUIButtonClicked, func(context.Context, wire.Message) (*wire.Message, error) {
		return nil, core.Failf(core.CodeMissionNotFound, core.ErrMissionNotFound, "mission not found: x")
	})

	d.Dispatch(context.Background(), request(wire.KindRequestUIConfig, nil))
	d.Dispatch(context.Background(), request(wire.KindUIButtonClicked, nil))

	msgs := out.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, wire.ErrorCodeProcessing, msgs[0].Get(wire.KeyErrorCode, ""))
	assert.Equal(t, "boom", msgs[0].Get(wire.KeyMessage, ""))
	assert.Equal(t, core.CodeMissionNotFound, msgs[1].Get(wire.KeyErrorCode, ""))
	assert.Equal(t, "mission not found: x", msgs[1].Get(wire.KeyMessage, ""))
}

func TestDispatcher_PanicRecovered(t *testing.T) {
	d, out, logger := newTestDispatcher(t)

	d.Register(wire.KindRequestEventProgress, func(context.Context, wire.Message) (*wire.Message, error) {
		panic("nil map")
	})

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), request(wire.KindRequestEventProgress, nil))
	})

	msgs := out.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, wire.ErrorCodePanic, msgs[0].Get(wire.KeyErrorCode, ""))
	assert.True(t, logger.has("handler panic"))
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, out, _ := newTestDispatcher(t)

	var mu sync.Mutex
	var seen []string
	d.Register(wire.KindUIScreenOpened, func(_ context.Context, msg wire.Message) (*wire.Message, error) {
		mu.Lock()
		seen = append(seen, msg.Get(wire.KeyScreenID, ""))
		mu.Unlock()
		r := msg.Reply(wire.KindUIConfigResponse, nil)
		return &r, nil
	}, Buffered(10))

	for i := 0; i < 3; i++ {
		d.Dispatch(context.Background(), request(wire.KindUIScreenOpened, map[string]string{
			wire.KeyScreenID: fmt.Sprint(i),
		}))
	}

	require.Eventually(t, func() bool { return len(out.all()) == 3 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"0", "1", "2"}, seen)
}

func TestDispatcher_BufferedQueueFull(t *testing.T) {
	d, out, _ := newTestDispatcher(t)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	d.Register(wire.KindUIScreenOpened, func(context.Context, wire.Message) (*wire.Message, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	}, Buffered(1))

	d.Dispatch(context.Background(), request(wire.KindUIScreenOpened, nil))
	<-started
	d.Dispatch(context.Background(), request(wire.KindUIScreenOpened, nil)) // fills the queue
	d.Dispatch(context.Background(), request(wire.KindUIScreenOpened, nil)) // dropped

	msgs := out.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, wire.ErrorCodeProcessing, msgs[0].Get(wire.KeyErrorCode, ""))
	assert.Equal(t, "queue full: UI_SCREEN_OPENED", msgs[0].Get(wire.KeyMessage, ""))

	close(release)
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, _, logger := newTestDispatcher(t)
	d.Register(wire.KindUIScreenClosed, func(context.Context, wire.Message) (*wire.Message, error) {
		return nil, nil
	}, Logged())

	d.Dispatch(context.Background(), request(wire.KindUIScreenClosed, nil))
	assert.True(t, logger.has("handling message"))
	assert.True(t, logger.has("message complete"))
}
