// Package cli is the interactive terminal front end: plain lines are
// questions, lines starting with a slash are commands.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/datachat/internal/catalog"
	"github.com/gosuda/datachat/internal/console"
)

// Conversation is the console the REPL drives.
type Conversation interface {
	Ask(ctx context.Context, question string) error
	Snapshot() console.Snapshot
	Channel() string
}

// Catalog lists the backend's data sources.
type Catalog interface {
	Schema(ctx context.Context) (*catalog.Schema, error)
	Connections(ctx context.Context) ([]catalog.Connection, error)
}

// Subscriber is the subscribe side of the snapshot broker.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

const helpText = `commands:
  /schema       show the schema of the configured data sources
  /connections  list data source connections
  /status       show connection and query state
  /help         show this help
  /quit         leave`

// Option configures a REPL.
type Option func(*REPL)

// WithColor turns ANSI colors on or off.
func WithColor(enabled bool) Option { return func(r *REPL) { r.colored = enabled } }

// WithLogger sets the REPL logger.
func WithLogger(l zerolog.Logger) Option { return func(r *REPL) { r.log = l } }

// REPL reads questions and commands from in and renders the conversation to out.
type REPL struct {
	in      io.Reader
	conv    Conversation
	catalog Catalog
	broker  Subscriber
	colored bool
	log     zerolog.Logger
	render  *Renderer
}

// New creates a REPL.
func New(in io.Reader, out io.Writer, conv Conversation, cat Catalog, broker Subscriber, opts ...Option) *REPL {
	r := &REPL{
		in:      in,
		conv:    conv,
		catalog: cat,
		broker:  broker,
		colored: true,
		log:     log.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.render = NewRenderer(out, r.colored)
	return r
}

// Run serves input until /quit, end of input or ctx ends.
func (r *REPL) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	snapshots, cleanup, err := r.broker.Subscribe(ctx, r.conv.Channel())
	if err != nil {
		return fmt.Errorf("cli.REPL.Run: subscribe: %w", err)
	}

	r.render.Println("datachat: ask a question, or /help for commands")
	r.render.Render(r.conv.Snapshot())

	rendered := make(chan struct{})
	defer func() {
		cleanup()
		<-rendered
	}()
	go func() {
		defer close(rendered)
		for payload := range snapshots {
			var s console.Snapshot
			if err := json.Unmarshal(payload, &s); err != nil {
				r.log.Warn().Err(err).Msg("undecodable snapshot")
				continue
			}
			r.render.Render(s)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			r.log.Warn().Err(err).Msg("read input")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := r.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether the REPL should stop.
func (r *REPL) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.ask(ctx, line)
		return false
	}

	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		r.render.Println(helpText)
	case "/status":
		r.status()
	case "/schema":
		r.schema(ctx)
	case "/connections":
		r.connections(ctx)
	default:
		r.render.Failuref("unknown command %s (try /help)", line)
	}
	return false
}

func (r *REPL) ask(ctx context.Context, question string) {
	err := r.conv.Ask(ctx, question)
	switch {
	case err == nil:
	case errors.Is(err, console.ErrQueryInFlight):
		r.render.Noticef("a query is still running; wait for its answer")
	case errors.Is(err, console.ErrNotConnected):
		// The failed placeholder is rendered from the snapshot.
	default:
		r.render.Failuref("ask: %v", err)
	}
}

func (r *REPL) status() {
	s := r.conv.Snapshot()
	state := "disconnected"
	if s.Connected {
		state = "connected"
	}
	query := "idle"
	if s.Processing {
		query = "running"
	}
	r.render.Println(fmt.Sprintf("session %s: %s, query %s, %d messages", s.SessionID, state, query, len(s.Messages)))
}

func (r *REPL) schema(ctx context.Context) {
	schema, err := r.catalog.Schema(ctx)
	if err != nil {
		r.render.Failuref("schema: %v", err)
		return
	}
	r.render.Println("tables: " + strings.Join(schema.Tables, ", "))
	if schema.SchemaText != "" {
		r.render.Println(schema.SchemaText)
	}
}

func (r *REPL) connections(ctx context.Context) {
	conns, err := r.catalog.Connections(ctx)
	if err != nil {
		r.render.Failuref("connections: %v", err)
		return
	}
	if len(conns) == 0 {
		r.render.Println("no connections")
		return
	}
	for _, c := range conns {
		r.render.Println(fmt.Sprintf("%-16s %-10s %s", c.ID, c.Type, c.Name))
	}
}
