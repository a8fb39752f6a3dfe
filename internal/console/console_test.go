package console_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/datachat/internal/chat"
	"github.com/gosuda/datachat/internal/console"
	"github.com/gosuda/datachat/internal/conversation"
	"github.com/gosuda/datachat/internal/protocol"
	"github.com/gosuda/datachat/internal/store/memory"
)

// --- mocks ---

type fakeBackend struct {
	mu        sync.Mutex
	connected bool
	sendOK    bool
	sent      []string
	handler   chat.Handler
	onConn    chat.ConnectivityHandler
}

func (b *fakeBackend) Send(_ context.Context, query string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.sendOK {
		return false
	}
	b.sent = append(b.sent, query)
	return true
}

func (b *fakeBackend) Subscribe(h chat.Handler)                  { b.handler = h }
func (b *fakeBackend) OnConnectivity(h chat.ConnectivityHandler) { b.onConn = h }
func (b *fakeBackend) Connected() bool                           { return b.connected }

func (b *fakeBackend) emit(ev protocol.Event) { b.handler(ev) }

func (b *fakeBackend) setConnected(v bool) {
	b.connected = v
	b.onConn(v)
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (n *fakeNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return n.err
}

type failingPublisher struct{ calls atomic.Int32 }

func (p *failingPublisher) Publish(context.Context, string, []byte) error {
	p.calls.Add(1)
	return errors.New("broker down")
}

// blockingPublisher holds every publish until release is closed.
type blockingPublisher struct {
	release chan struct{}

	mu       sync.Mutex
	payloads [][]byte
}

func (p *blockingPublisher) Publish(ctx context.Context, _ string, payload []byte) error {
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.mu.Lock()
	p.payloads = append(p.payloads, payload)
	p.mu.Unlock()
	return nil
}

func (p *blockingPublisher) published() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.payloads...)
}

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) //nolint:gochecknoglobals // test fixture

func newConsole(b *fakeBackend, opts ...console.Option) *console.Console {
	base := []console.Option{
		console.WithLogger(zerolog.Nop()),
		console.WithClock(func() time.Time { return fixedNow }),
	}
	return console.New(b, append(base, opts...)...)
}

// --- Ask tests ---

func TestConsole_Ask(t *testing.T) {
	t.Parallel()

	t.Run("appends exchange and sends", func(t *testing.T) {
		t.Parallel()

		b := &fakeBackend{connected: true, sendOK: true}
		c := newConsole(b)

		require.NoError(t, c.Ask(t.Context(), "  top customers  "))

		msgs := c.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, conversation.RoleUser, msgs[0].Role)
		assert.Equal(t, "top customers", msgs[0].Content)
		assert.Equal(t, fixedNow, msgs[0].CreatedAt)
		assert.Equal(t, conversation.RoleAssistant, msgs[1].Role)
		assert.Equal(t, conversation.PlaceholderContent, msgs[1].Content)
		assert.Equal(t, conversation.StatusPending, msgs[1].Status)
		assert.True(t, c.Processing())
		assert.Equal(t, []string{"top customers"}, b.sent)
	})

	t.Run("empty question", func(t *testing.T) {
		t.Parallel()

		b := &fakeBackend{connected: true, sendOK: true}
		c := newConsole(b)

		err := c.Ask(t.Context(), " \n\t")
		require.ErrorIs(t, err, console.ErrEmptyQuestion)
		assert.Empty(t, c.Messages())
		assert.Empty(t, b.sent)
	})

	t.Run("second query while one is in flight", func(t *testing.T) {
		t.Parallel()

		b := &fakeBackend{connected: true, sendOK: true}
		c := newConsole(b)

		require.NoError(t, c.Ask(t.Context(), "first"))
		err := c.Ask(t.Context(), "second")
		require.ErrorIs(t, err, console.ErrQueryInFlight)
		assert.Len(t, c.Messages(), 2)
		assert.Equal(t, []string{"first"}, b.sent)
	})

	t.Run("send failure fails the placeholder", func(t *testing.T) {
		t.Parallel()

		b := &fakeBackend{connected: false, sendOK: false}
		c := newConsole(b)

		err := c.Ask(t.Context(), "hello")
		require.ErrorIs(t, err, console.ErrNotConnected)

		msgs := c.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, "Error: not connected to backend", msgs[1].Content)
		assert.Equal(t, conversation.StatusError, msgs[1].Status)
		assert.False(t, c.Processing())

		b.sendOK = true
		require.NoError(t, c.Ask(t.Context(), "again"))
		assert.Len(t, c.Messages(), 4)
	})
}

// --- event handling tests ---

func TestConsole_Events(t *testing.T) {
	t.Parallel()

	t.Run("streams updates then completes", func(t *testing.T) {
		t.Parallel()

		b := &fakeBackend{connected: true, sendOK: true}
		c := newConsole(b)
		require.NoError(t, c.Ask(t.Context(), "q"))

		b.emit(protocol.AgentUpdate{Agent: "router", Text: "Router finished processing."})
		msgs := c.Messages()
		assert.Equal(t, conversation.StatusStreaming, msgs[1].Status)
		assert.Equal(t, "router", msgs[1].Agent)
		assert.True(t, c.Processing())

		b.emit(protocol.FinalResponse{Answer: "42", Visualization: json.RawMessage(`{"type":"bar"}`)})
		msgs = c.Messages()
		assert.Equal(t, "42", msgs[1].Content)
		assert.Equal(t, conversation.StatusCompleted, msgs[1].Status)
		assert.JSONEq(t, `{"type":"bar"}`, string(msgs[1].Visualization))
		assert.False(t, c.Processing())
	})

	t.Run("error event notifies", func(t *testing.T) {
		t.Parallel()

		b := &fakeBackend{connected: true, sendOK: true}
		n := &fakeNotifier{err: errors.New("slack down")}
		c := newConsole(b, console.WithNotifier(n))
		require.NoError(t, c.Ask(t.Context(), "q"))

		b.emit(protocol.ErrorEvent{Message: "boom"})

		msgs := c.Messages()
		assert.Equal(t, "Error: boom", msgs[1].Content)
		assert.Equal(t, conversation.StatusError, msgs[1].Status)
		assert.False(t, c.Processing())
		assert.Equal(t, []string{"Error: boom"}, n.texts)
	})

	t.Run("events without a pending exchange are ignored", func(t *testing.T) {
		t.Parallel()

		b := &fakeBackend{connected: true, sendOK: true}
		c := newConsole(b)

		b.emit(protocol.AgentUpdate{Agent: "router", Text: "x"})
		b.emit(protocol.FinalResponse{Answer: "late"})
		assert.Empty(t, c.Messages())
		assert.False(t, c.Processing())
	})

	t.Run("messages copy is detached", func(t *testing.T) {
		t.Parallel()

		b := &fakeBackend{connected: true, sendOK: true}
		c := newConsole(b)
		require.NoError(t, c.Ask(t.Context(), "q"))

		msgs := c.Messages()
		msgs[0].Content = "changed"
		assert.Equal(t, "q", c.Messages()[0].Content)
	})
}

// --- connectivity tests ---

func TestConsole_Connectivity(t *testing.T) {
	t.Parallel()

	t.Run("initial state follows backend", func(t *testing.T) {
		t.Parallel()

		assert.True(t, newConsole(&fakeBackend{connected: true}).Connected())
		assert.False(t, newConsole(&fakeBackend{}).Connected())
	})

	t.Run("reconnect mid-query re-enables input", func(t *testing.T) {
		t.Parallel()

		b := &fakeBackend{connected: true, sendOK: true}
		c := newConsole(b)
		require.NoError(t, c.Ask(t.Context(), "q"))

		b.setConnected(false)
		assert.False(t, c.Connected())
		assert.True(t, c.Processing())

		b.setConnected(true)
		assert.True(t, c.Connected())
		assert.False(t, c.Processing())

		msgs := c.Messages()
		assert.Equal(t, conversation.StatusPending, msgs[1].Status, "abandoned placeholder stays pending")
		require.NoError(t, c.Ask(t.Context(), "q2"))
	})
}

// --- snapshot publishing tests ---

func TestConsole_PublishesSnapshots(t *testing.T) {
	t.Parallel()

	t.Run("every change is published in order", func(t *testing.T) {
		t.Parallel()

		broker := memory.NewBroker()
		t.Cleanup(func() { _ = broker.Close() })

		sessionID := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
		b := &fakeBackend{connected: true, sendOK: true}
		c := newConsole(b, console.WithPublisher(broker), console.WithSessionID(sessionID))
		t.Cleanup(func() { _ = c.Close() })
		assert.Equal(t, sessionID, c.SessionID())
		assert.Equal(t, "conversation:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", c.Channel())

		ch, cleanup, err := broker.Subscribe(t.Context(), c.Channel())
		require.NoError(t, err)
		defer cleanup()

		require.NoError(t, c.Ask(t.Context(), "q"))
		b.emit(protocol.AgentUpdate{Agent: "router", Text: "r"})
		b.emit(protocol.FinalResponse{Answer: "done"})

		var snaps []console.Snapshot
		for range 3 {
			var s console.Snapshot
			require.NoError(t, json.Unmarshal(<-ch, &s))
			snaps = append(snaps, s)
		}

		assert.True(t, snaps[0].Processing)
		assert.Equal(t, conversation.StatusPending, snaps[0].Messages[1].Status)
		assert.Equal(t, conversation.StatusStreaming, snaps[1].Messages[1].Status)
		assert.False(t, snaps[2].Processing)
		assert.Equal(t, "done", snaps[2].Messages[1].Content)
		assert.Equal(t, sessionID, snaps[2].SessionID)
		assert.True(t, snaps[2].Connected)
		assert.Equal(t, c.Snapshot(), snaps[2])
	})

	t.Run("unchanged connectivity is not republished", func(t *testing.T) {
		t.Parallel()

		p := &failingPublisher{}
		b := &fakeBackend{}
		c := newConsole(b, console.WithPublisher(p))

		b.setConnected(false)
		b.setConnected(false)
		b.setConnected(true)

		require.NoError(t, c.Close())
		assert.Equal(t, int32(1), p.calls.Load())
	})

	t.Run("publish failure does not affect state", func(t *testing.T) {
		t.Parallel()

		b := &fakeBackend{connected: true, sendOK: true}
		c := newConsole(b, console.WithPublisher(&failingPublisher{}))
		t.Cleanup(func() { _ = c.Close() })

		require.NoError(t, c.Ask(t.Context(), "q"))
		assert.Len(t, c.Messages(), 2)
	})

	t.Run("slow publisher does not block event handling", func(t *testing.T) {
		t.Parallel()

		p := &blockingPublisher{release: make(chan struct{})}
		b := &fakeBackend{connected: true, sendOK: true}
		c := newConsole(b, console.WithPublisher(p))

		require.NoError(t, c.Ask(t.Context(), "q"))

		handled := make(chan struct{})
		go func() {
			b.emit(protocol.AgentUpdate{Agent: "router", Text: "r"})
			b.emit(protocol.FinalResponse{Answer: "done"})
			close(handled)
		}()

		select {
		case <-handled:
		case <-time.After(time.Second):
			t.Fatal("event handling waited on the publisher")
		}
		assert.False(t, c.Processing())
		assert.Empty(t, p.published())

		close(p.release)
		require.NoError(t, c.Close())

		got := p.published()
		require.Len(t, got, 3)
		var last console.Snapshot
		require.NoError(t, json.Unmarshal(got[2], &last))
		assert.Equal(t, "done", last.Messages[1].Content)
		assert.False(t, last.Processing)
	})

	t.Run("close flushes queued snapshots and stops publishing", func(t *testing.T) {
		t.Parallel()

		p := &blockingPublisher{release: make(chan struct{})}
		close(p.release)
		b := &fakeBackend{connected: true, sendOK: true}
		c := newConsole(b, console.WithPublisher(p))

		require.NoError(t, c.Ask(t.Context(), "q"))
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
		assert.Len(t, p.published(), 1)

		b.emit(protocol.FinalResponse{Answer: "late"})
		assert.Equal(t, "late", c.Messages()[1].Content)
		assert.Len(t, p.published(), 1)
	})
}
