package chat_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/datachat/internal/agentsim"
	"github.com/gosuda/datachat/internal/chat"
	"github.com/gosuda/datachat/internal/protocol"
	"github.com/gosuda/datachat/internal/transport"
)

type eventLog struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (l *eventLog) handle(ev protocol.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []protocol.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.Event(nil), l.events...)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
}

func newClient(url string) *chat.Client {
	return chat.New(url,
		chat.WithLogger(zerolog.Nop()),
		chat.WithTransportOptions(transport.WithReconnectDelay(50*time.Millisecond)),
	)
}

func TestClient_QueryRoundTrip(t *testing.T) {
	t.Parallel()

	sim := agentsim.New(agentsim.WithLogger(zerolog.Nop()))
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)

	c := newClient(wsURL(srv))
	t.Cleanup(func() { _ = c.Close() })

	log := &eventLog{}
	c.Subscribe(log.handle)
	c.Start()

	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)
	require.True(t, c.Send(t.Context(), "top customers"))

	want := agentsim.DefaultScript("top customers")
	require.Eventually(t, func() bool { return len(log.snapshot()) == len(want) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, log.snapshot())
	assert.Equal(t, []string{"top customers"}, sim.Questions())
}

func TestClient_SendWhileDisconnected(t *testing.T) {
	t.Parallel()

	c := newClient("ws://127.0.0.1:1/ws/chat")
	t.Cleanup(func() { _ = c.Close() })

	assert.False(t, c.Connected())
	assert.False(t, c.Send(t.Context(), "hello"))
}

func TestClient_LatestSubscriberReceivesEvents(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(agentsim.New(agentsim.WithLogger(zerolog.Nop())).Handler())
	t.Cleanup(srv.Close)

	c := newClient(wsURL(srv))
	t.Cleanup(func() { _ = c.Close() })

	stale := &eventLog{}
	c.Subscribe(stale.handle)
	c.Start()
	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)

	// Replace the handler after the connection is already open.
	fresh := &eventLog{}
	c.Subscribe(fresh.handle)

	require.True(t, c.Send(t.Context(), "hello"))
	require.Eventually(t, func() bool {
		events := fresh.snapshot()
		return len(events) > 0 && protocol.Terminal(events[len(events)-1])
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, stale.snapshot())

	c.Subscribe(nil)
	require.True(t, c.Send(t.Context(), "again"))
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, fresh.snapshot(), len(agentsim.DefaultScript("hello")))
}

func TestClient_DropsUndecodableFrames(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		frames := []string{
			`not json`,
			`{"type":"heartbeat","payload":{}}`,
			`{"type":"agent_update","payload":{"agent":"router","message":"ok"}}`,
			`{"type":"final_response"}`,
			`{"type":"final_response","payload":{"answer":"done"}}`,
		}
		for _, f := range frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
				return
			}
		}
		_, _, _ = conn.Read(ctx)
	}))
	t.Cleanup(srv.Close)

	c := newClient(wsURL(srv))
	t.Cleanup(func() { _ = c.Close() })

	log := &eventLog{}
	c.Subscribe(log.handle)
	c.Start()

	require.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []protocol.Event{
		protocol.AgentUpdate{Agent: "router", Text: "ok"},
		protocol.FinalResponse{Answer: "done"},
	}, log.snapshot())
	assert.True(t, c.Connected(), "decode faults must not affect the connection")
}

func TestClient_Connectivity(t *testing.T) {
	t.Parallel()

	drop := make(chan struct{})
	var accepted atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accepted.Swap(true) {
			http.Error(w, "backend down", http.StatusServiceUnavailable)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		<-drop
		_ = conn.CloseNow()
	}))
	t.Cleanup(srv.Close)

	c := newClient(wsURL(srv))
	t.Cleanup(func() { _ = c.Close() })

	var (
		mu      sync.Mutex
		changes []bool
	)
	c.OnConnectivity(func(connected bool) {
		mu.Lock()
		changes = append(changes, connected)
		mu.Unlock()
	})
	c.Start()
	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)

	close(drop)

	require.Eventually(t, func() bool { return !c.Connected() }, 2*time.Second, 5*time.Millisecond)
	assert.Error(t, c.LastError())

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(changes), 2)
	assert.True(t, changes[0])
	assert.False(t, changes[1])
}
