// Package console holds the UI state of one chat session: the conversation,
// whether a query is in flight and whether the backend is reachable. Every
// change is published as a Snapshot so renderers can follow along.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/datachat/internal/chat"
	"github.com/gosuda/datachat/internal/conversation"
	"github.com/gosuda/datachat/internal/protocol"
	redisstore "github.com/gosuda/datachat/internal/store/redis"
)

var (
	ErrEmptyQuestion = errors.New("console: empty question")           //nolint:gochecknoglobals // sentinel error
	ErrQueryInFlight = errors.New("console: a query is in progress")   //nolint:gochecknoglobals // sentinel error
	ErrNotConnected  = errors.New("console: not connected to backend") //nolint:gochecknoglobals // sentinel error
)

// notConnectedMessage is reduced into the placeholder when a query could not
// be sent.
const notConnectedMessage = "not connected to backend"

const (
	publishTimeout = 5 * time.Second
	publishQueue   = 64
)

// Backend is the chat facade the console drives.
type Backend interface {
	Send(ctx context.Context, query string) bool
	Subscribe(h chat.Handler)
	OnConnectivity(h chat.ConnectivityHandler)
	Connected() bool
}

// Publisher fans snapshots out to renderers.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Notifier raises user-facing notifications.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Snapshot is the published view of the console state.
type Snapshot struct {
	SessionID  uuid.UUID                 `json:"session_id"`
	Messages   conversation.Conversation `json:"messages"`
	Processing bool                      `json:"processing"`
	Connected  bool                      `json:"connected"`
}

// Option configures a Console.
type Option func(*Console)

func WithPublisher(p Publisher) Option { return func(c *Console) { c.publisher = p } }

func WithNotifier(n Notifier) Option { return func(c *Console) { c.notifier = n } }

func WithLogger(l zerolog.Logger) Option { return func(c *Console) { c.log = l } }

// WithClock overrides the time source used to stamp messages.
func WithClock(now func() time.Time) Option { return func(c *Console) { c.now = now } }

// WithSessionID fixes the session ID instead of generating one.
func WithSessionID(id uuid.UUID) Option { return func(c *Console) { c.sessionID = id } }

// Console owns the conversation of one session.
type Console struct {
	backend   Backend
	publisher Publisher
	notifier  Notifier
	log       zerolog.Logger
	now       func() time.Time
	sessionID uuid.UUID

	mu         sync.Mutex
	conv       conversation.Conversation
	processing bool
	connected  bool

	// Snapshots are marshaled under mu and published in order by run, so a
	// slow broker never stalls the transport read loop.
	queue     chan []byte
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Console and registers it as the backend's event and
// connectivity subscriber.
func New(backend Backend, opts ...Option) *Console {
	c := &Console{
		backend:   backend,
		log:       log.Logger,
		now:       time.Now,
		sessionID: uuid.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "console").Str("session_id", c.sessionID.String()).Logger()
	c.connected = backend.Connected()

	if c.publisher != nil {
		c.queue = make(chan []byte, publishQueue)
		c.done = make(chan struct{})
		c.wg.Add(1)
		go c.run()
	}

	backend.Subscribe(c.handleEvent)
	backend.OnConnectivity(c.handleConnectivity)
	return c
}

// SessionID identifies this console's snapshot channel.
func (c *Console) SessionID() uuid.UUID { return c.sessionID }

// Channel is the broker channel snapshots are published on.
func (c *Console) Channel() string { return redisstore.ConversationChannel(c.sessionID) }

// Ask appends an exchange for question and sends it to the backend.
func (c *Console) Ask(ctx context.Context, question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return fmt.Errorf("console.Console.Ask: %w", ErrEmptyQuestion)
	}

	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		return fmt.Errorf("console.Console.Ask: %w", ErrQueryInFlight)
	}
	c.conv = c.conv.Append(question, c.now())
	c.processing = true
	c.publishLocked()
	c.mu.Unlock()

	if c.backend.Send(ctx, question) {
		return nil
	}

	c.log.Warn().Str("question", question).Msg("query not sent")
	c.mu.Lock()
	c.conv = conversation.Reduce(c.conv, protocol.ErrorEvent{Message: notConnectedMessage})
	c.processing = false
	c.publishLocked()
	c.mu.Unlock()
	return fmt.Errorf("console.Console.Ask: %w", ErrNotConnected)
}

// Close stops the publisher after flushing queued snapshots. The console keeps
// working without publishing afterwards.
func (c *Console) Close() error {
	if c.done == nil {
		return nil
	}
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
	return nil
}

// Messages returns a copy of the conversation.
func (c *Console) Messages() conversation.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.Clone()
}

// Processing reports whether a query is awaiting its terminal event.
func (c *Console) Processing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// Connected reports the last known connectivity.
func (c *Console) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Snapshot returns the current state.
func (c *Console) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Console) handleEvent(ev protocol.Event) {
	c.mu.Lock()
	c.conv = conversation.Reduce(c.conv, ev)
	if protocol.Terminal(ev) {
		c.processing = false
	}
	c.publishLocked()
	c.mu.Unlock()

	if e, ok := ev.(protocol.ErrorEvent); ok {
		c.notify("Error: " + e.Message)
	}
}

func (c *Console) handleConnectivity(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected == connected {
		return
	}
	c.connected = connected
	if connected && c.processing {
		// The answer to the dropped query is never coming.
		c.processing = false
		c.log.Info().Msg("reconnected mid-query; input re-enabled")
	}
	c.publishLocked()
}

func (c *Console) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID:  c.sessionID,
		Messages:   c.conv.Clone(),
		Processing: c.processing,
		Connected:  c.connected,
	}
}

// publishLocked queues the current snapshot. Snapshots are cumulative, so
// when the queue is full the oldest one is dropped.
func (c *Console) publishLocked() {
	if c.queue == nil {
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	payload, err := json.Marshal(c.snapshotLocked())
	if err != nil {
		c.log.Error().Err(err).Msg("marshal snapshot")
		return
	}
	select {
	case c.queue <- payload:
		return
	default:
	}
	select {
	case <-c.queue:
		c.log.Warn().Msg("snapshot queue full, dropping oldest")
	default:
	}
	select {
	case c.queue <- payload:
	default:
	}
}

func (c *Console) run() {
	defer c.wg.Done()
	for {
		select {
		case payload := <-c.queue:
			c.publish(payload)
		case <-c.done:
			for {
				select {
				case payload := <-c.queue:
					c.publish(payload)
				default:
					return
				}
			}
		}
	}
}

func (c *Console) publish(payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := c.publisher.Publish(ctx, c.Channel(), payload); err != nil {
		c.log.Warn().Err(err).Msg("publish snapshot")
	}
}

func (c *Console) notify(text string) {
	if c.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := c.notifier.Notify(ctx, text); err != nil {
		c.log.Warn().Err(err).Msg("notify")
	}
}
