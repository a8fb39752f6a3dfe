// Package chat is the facade the UI layer talks to: it wires the transport
// session to the protocol codec and hands decoded events to one subscriber.
package chat

import (
	"context"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/datachat/internal/protocol"
	"github.com/gosuda/datachat/internal/transport"
)

// Handler receives decoded inbound events in wire order.
type Handler func(protocol.Event)

// ConnectivityHandler is told whenever the connection opens or closes.
type ConnectivityHandler func(connected bool)

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	log       zerolog.Logger
	transport []transport.Option
}

// WithLogger sets the logger used by the client and its session.
func WithLogger(l zerolog.Logger) Option {
	return func(o *clientOptions) { o.log = l }
}

// WithTransportOptions passes options through to the transport session.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(o *clientOptions) { o.transport = append(o.transport, opts...) }
}

// Client exposes connected / send / subscribe over a self-healing session.
// Subscribers live in single slots that are read at dispatch time, so a
// replaced handler takes effect on the very next frame even though the
// connection was opened earlier.
type Client struct {
	session   *transport.Session
	connected atomic.Bool
	handler   atomic.Pointer[Handler]
	onConn    atomic.Pointer[ConnectivityHandler]
	log       zerolog.Logger
}

// New creates a client for the chat endpoint at url. Call Start to connect.
func New(url string, opts ...Option) *Client {
	o := clientOptions{log: log.Logger}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{log: o.log.With().Str("component", "chat").Logger()}
	topts := append([]transport.Option{transport.WithLogger(o.log)}, o.transport...)
	c.session = transport.New(url, transport.Handlers{
		OnOpen:  c.handleOpen,
		OnFrame: c.handleFrame,
		OnClose: c.handleClose,
	}, topts...)
	return c
}

// Start begins connecting in the background.
func (c *Client) Start() {
	c.session.Connect()
}

// Connected reports whether the underlying session is open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Send encodes query and forwards it. It reports false when nothing was sent.
// Conversation state is not touched; the caller appends its exchange first.
func (c *Client) Send(ctx context.Context, query string) bool {
	frame, err := protocol.Encode(query)
	if err != nil {
		c.log.Error().Err(err).Msg("encode query")
		return false
	}
	if !c.session.Send(ctx, frame) {
		c.log.Warn().Msg("query not sent: websocket not connected")
		return false
	}
	c.log.Debug().Int("bytes", len(frame)).Msg("query sent")
	return true
}

// Subscribe installs h as the event handler, replacing the previous one.
// A nil h removes it.
func (c *Client) Subscribe(h Handler) {
	if h == nil {
		c.handler.Store(nil)
		return
	}
	c.handler.Store(&h)
}

// OnConnectivity installs the connectivity handler, replacing the previous one.
func (c *Client) OnConnectivity(h ConnectivityHandler) {
	if h == nil {
		c.onConn.Store(nil)
		return
	}
	c.onConn.Store(&h)
}

// LastError returns the transport error behind the current disconnect.
func (c *Client) LastError() error {
	return c.session.LastError()
}

// Close shuts the session down without reconnecting.
func (c *Client) Close() error {
	return c.session.Close()
}

func (c *Client) handleOpen() {
	c.connected.Store(true)
	c.notifyConnectivity(true)
}

func (c *Client) handleClose(code websocket.StatusCode, reason string) {
	if c.connected.Swap(false) {
		c.log.Debug().Int("code", int(code)).Str("reason", reason).Msg("connection closed")
	}
	c.notifyConnectivity(false)
}

func (c *Client) handleFrame(frame []byte) {
	ev, err := protocol.Decode(frame)
	if err != nil {
		c.log.Warn().Err(err).Int("bytes", len(frame)).Msg("dropping undecodable frame")
		return
	}
	if h := c.handler.Load(); h != nil {
		(*h)(ev)
	}
}

func (c *Client) notifyConnectivity(connected bool) {
	if h := c.onConn.Load(); h != nil {
		(*h)(connected)
	}
}
