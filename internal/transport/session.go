// Package transport owns the persistent WebSocket connection to the agent
// backend and keeps it alive across failures.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultDialTimeout    = 10 * time.Second
	DefaultReadLimit      = 32 << 20
)

// State is the lifecycle of a Session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handlers receive session notifications. They run on session goroutines,
// never while the session lock is held. OnFrame is called sequentially in
// wire order.
type Handlers struct {
	OnOpen  func()
	OnFrame func(frame []byte)
	OnClose func(code websocket.StatusCode, reason string)
}

// Option configures a Session.
type Option func(*Session)

// WithReconnectDelay sets the fixed delay before a reconnect attempt.
func WithReconnectDelay(d time.Duration) Option {
	return func(s *Session) { s.reconnectDelay = d }
}

// WithDialTimeout bounds a single connection attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Session) { s.dialTimeout = d }
}

// WithPingInterval enables keepalive pings. Zero disables them.
func WithPingInterval(d time.Duration) Option {
	return func(s *Session) { s.pingInterval = d }
}

// WithReadLimit caps the size of an inbound frame. A larger frame closes the
// socket with StatusMessageTooBig and goes through the reconnect path.
func WithReadLimit(n int64) Option {
	return func(s *Session) { s.readLimit = n }
}

// WithHTTPClient sets the client used for the upgrade request.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.dialOpts.HTTPClient = c }
}

// WithHeader adds headers to the upgrade request.
func WithHeader(h http.Header) Option {
	return func(s *Session) { s.dialOpts.HTTPHeader = h }
}

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Session is a self-healing connection to one endpoint. At most one socket
// and one pending reconnect timer exist at any time. Any unexpected close
// schedules a single reconnect after a fixed delay; Close stops that for good.
type Session struct {
	url            string
	handlers       Handlers
	reconnectDelay time.Duration
	dialTimeout    time.Duration
	pingInterval   time.Duration
	readLimit      int64
	dialOpts       *websocket.DialOptions
	log            zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	gen      uint64 // bumped per connection attempt; stale goroutines compare against it
	timer    *time.Timer
	lastErr  error
	shutdown bool
}

// New creates an idle session for url. Nothing is dialed until Connect.
func New(url string, h Handlers, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		url:            url,
		handlers:       h,
		reconnectDelay: DefaultReconnectDelay,
		dialTimeout:    DefaultDialTimeout,
		readLimit:      DefaultReadLimit,
		dialOpts:       &websocket.DialOptions{},
		log:            log.Logger,
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "transport").Str("url", url).Logger()
	return s
}

// URL returns the endpoint this session dials.
func (s *Session) URL() string { return s.url }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error behind the most recent unexpected close, or nil
// once a connection is open again.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Connect starts a connection attempt in the background. It is a no-op while
// a connection is open or being established, and after Close.
func (s *Session) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectLocked()
}

func (s *Session) connectLocked() {
	if s.shutdown || s.state == StateOpen || s.state == StateConnecting {
		return
	}
	s.stopTimerLocked()
	s.state = StateConnecting
	s.gen++
	go s.dial(s.gen)
}

// Send writes one text frame. It reports false when the session is not open
// or the write fails; the caller decides how to surface that.
func (s *Session) Send(ctx context.Context, frame []byte) bool {
	s.mu.Lock()
	conn, state := s.conn, s.state
	s.mu.Unlock()

	if state != StateOpen || conn == nil {
		s.log.Warn().Stringer("state", state).Msg("websocket not connected, frame not sent")
		return false
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		s.log.Warn().Err(err).Msg("websocket write failed")
		return false
	}
	return true
}

// Close shuts the session down for good: the pending reconnect is cancelled
// and the socket, if any, is closed normally.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.stopTimerLocked()
	conn := s.conn
	if conn == nil {
		s.state = StateClosed
	}
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	s.cancel()

	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		return fmt.Errorf("transport.Session.Close: %w", err)
	}
	return nil
}

func (s *Session) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(s.ctx, s.dialTimeout)
	defer cancel()

	s.log.Debug().Msg("dialing websocket")
	conn, _, err := websocket.Dial(ctx, s.url, s.dialOpts)

	s.mu.Lock()
	if gen != s.gen || s.shutdown {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.CloseNow()
		}
		return
	}
	if err != nil {
		s.state = StateClosed
		s.lastErr = fmt.Errorf("transport.Session.dial: %w", err)
		s.scheduleReconnectLocked()
		s.mu.Unlock()

		s.log.Warn().Err(err).Dur("retry_in", s.reconnectDelay).Msg("websocket dial failed")
		s.emitClose(websocket.StatusAbnormalClosure, err.Error())
		return
	}
	conn.SetReadLimit(s.readLimit)
	s.conn = conn
	s.state = StateOpen
	s.lastErr = nil
	s.stopTimerLocked()
	s.mu.Unlock()

	s.log.Info().Msg("websocket connected")
	if s.handlers.OnOpen != nil {
		s.handlers.OnOpen()
	}

	go s.readLoop(gen, conn)
	if s.pingInterval > 0 {
		go s.keepalive(conn)
	}
}

func (s *Session) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, frame, err := conn.Read(s.ctx)
		if err != nil {
			s.handleDisconnect(gen, conn, err)
			return
		}
		if s.handlers.OnFrame != nil {
			s.handlers.OnFrame(frame)
		}
	}
}

// handleDisconnect releases conn before anything else so that a reconnect
// never overlaps with the previous socket.
func (s *Session) handleDisconnect(gen uint64, conn *websocket.Conn, cause error) {
	code, reason := closeInfo(cause)
	_ = conn.CloseNow()

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	intentional := s.shutdown
	if !intentional {
		s.lastErr = fmt.Errorf("transport.Session: connection lost: %w", cause)
		s.scheduleReconnectLocked()
	}
	s.mu.Unlock()

	if intentional {
		s.log.Info().Int("code", int(code)).Msg("websocket closed")
	} else {
		s.log.Warn().Int("code", int(code)).Str("reason", reason).Dur("retry_in", s.reconnectDelay).Msg("websocket disconnected")
	}
	s.emitClose(code, reason)
}

func (s *Session) keepalive(conn *websocket.Conn) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if !s.isCurrent(conn) {
				return
			}
			ctx, cancel := context.WithTimeout(s.ctx, s.pingInterval)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				s.log.Warn().Err(err).Msg("websocket ping failed")
				// The read loop sees the closed socket and schedules the reconnect.
				_ = conn.CloseNow()
				return
			}
		}
	}
}

func (s *Session) isCurrent(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == conn
}

func (s *Session) scheduleReconnectLocked() {
	if s.shutdown {
		return
	}
	s.stopTimerLocked()

	var t *time.Timer
	t = time.AfterFunc(s.reconnectDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.timer != t {
			return
		}
		s.timer = nil
		s.connectLocked()
	})
	s.timer = t
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) emitClose(code websocket.StatusCode, reason string) {
	if s.handlers.OnClose != nil {
		s.handlers.OnClose(code, reason)
	}
}

func closeInfo(err error) (websocket.StatusCode, string) {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	return websocket.StatusAbnormalClosure, err.Error()
}
