// Package agentsim is a scripted stand-in for the analytical-agent backend.
// It speaks the chat wire protocol on /ws/chat and serves the schema and
// connection endpoints under /api, so the client can be exercised without
// the real agent graph.
package agentsim

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/datachat/internal/catalog"
	"github.com/gosuda/datachat/internal/protocol"
)

var sampleTables = map[string][]string{
	"customers": {"id INTEGER", "name TEXT", "country TEXT"},
	"orders":    {"id INTEGER", "customer_id INTEGER", "total NUMERIC", "created_at TIMESTAMP"},
	"products":  {"id INTEGER", "name TEXT", "price NUMERIC"},
}

func tableNames() []string {
	names := make([]string, 0, len(sampleTables))
	for name := range sampleTables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Option configures a Server.
type Option func(*Server)

// WithScript replaces DefaultScript.
func WithScript(s Script) Option {
	return func(srv *Server) { srv.script = s }
}

// WithStepDelay pauses between emitted events, like a real graph would.
func WithStepDelay(d time.Duration) Option {
	return func(srv *Server) { srv.delay = d }
}

// WithLogger sets the server logger.
func WithLogger(l zerolog.Logger) Option {
	return func(srv *Server) { srv.log = l }
}

// Server is the simulated backend.
type Server struct {
	script Script
	delay  time.Duration
	log    zerolog.Logger

	mu          sync.Mutex
	connections map[string]catalog.Connection
	questions   []string
}

// New creates a simulator with a single default SQLite connection.
func New(opts ...Option) *Server {
	s := &Server{
		script: DefaultScript,
		log:    log.Logger,
		connections: map[string]catalog.Connection{
			"default": {
				ID:     "default",
				Type:   catalog.ConnectionSQLite,
				Name:   "Default Database",
				Params: catalog.ConnectionParams{Path: "data/sample.db"},
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "agentsim").Logger()
	return s
}

// Questions returns every question received so far, in order.
func (s *Server) Questions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.questions)
}

// Handler returns the HTTP handler serving the simulator.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(chimw.Recoverer)

	router.Get("/ws/chat", s.ServeChat)

	router.Route("/api", func(r chi.Router) {
		config := huma.DefaultConfig("Agent Simulator API", "0.1.0")
		config.Servers = []*huma.Server{{URL: "/api"}}
		api := humachi.New(r, config)
		s.registerRoutes(api)
	})

	return router
}

// ServeChat answers each question on the socket with the events of the script.
func (s *Server) ServeChat(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.log.Debug().Err(err).Msg("chat socket closed")
			return
		}

		question, err := protocol.DecodeQuestion(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("unreadable question")
			continue
		}
		if question == "" {
			s.log.Warn().Msg("empty question received")
			continue
		}

		s.mu.Lock()
		s.questions = append(s.questions, question)
		s.mu.Unlock()
		s.log.Info().Str("question", question).Msg("question received")

		for _, ev := range s.script(question) {
			if !s.pause(ctx) {
				return
			}
			frame, err := protocol.EncodeEvent(ev)
			if err != nil {
				s.log.Error().Err(err).Msg("encode event")
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				s.log.Debug().Err(err).Msg("websocket write")
				return
			}
		}
	}
}

func (s *Server) pause(ctx context.Context) bool {
	if s.delay <= 0 {
		return true
	}
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type schemaOutput struct {
	Body *catalog.Schema
}

type listConnectionsOutput struct {
	Body []catalog.Connection
}

type addConnectionInput struct {
	Body catalog.Connection
}

type connectionOutput struct {
	Body *catalog.Connection
}

type removeConnectionInput struct {
	ID string `path:"id" doc:"Connection ID"`
}

type removeConnectionOutput struct {
	Body *catalog.RemoveResult
}

func (s *Server) registerRoutes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-schema",
		Method:      http.MethodGet,
		Path:        "/schema",
		Summary:     "Schema of every configured connection",
		Tags:        []string{"Schema"},
	}, func(_ context.Context, _ *struct{}) (*schemaOutput, error) {
		return &schemaOutput{Body: s.schema()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-connections",
		Method:      http.MethodGet,
		Path:        "/connections",
		Summary:     "List connections",
		Tags:        []string{"Connections"},
	}, func(_ context.Context, _ *struct{}) (*listConnectionsOutput, error) {
		return &listConnectionsOutput{Body: s.listConnections()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-connection",
		Method:      http.MethodPost,
		Path:        "/connections",
		Summary:     "Add a connection",
		Tags:        []string{"Connections"},
	}, func(_ context.Context, input *addConnectionInput) (*connectionOutput, error) {
		conn := input.Body
		if conn.ID == "" || !conn.Type.Valid() {
			return nil, huma.Error422UnprocessableEntity("connection needs an id and a known type")
		}
		s.mu.Lock()
		s.connections[conn.ID] = conn
		s.mu.Unlock()
		return &connectionOutput{Body: &conn}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-connection",
		Method:      http.MethodDelete,
		Path:        "/connections/{id}",
		Summary:     "Remove a connection",
		Tags:        []string{"Connections"},
	}, func(_ context.Context, input *removeConnectionInput) (*removeConnectionOutput, error) {
		s.mu.Lock()
		_, ok := s.connections[input.ID]
		delete(s.connections, input.ID)
		s.mu.Unlock()
		if !ok {
			return nil, huma.Error404NotFound("connection not found")
		}
		return &removeConnectionOutput{Body: &catalog.RemoveResult{Status: "success", ID: input.ID}}, nil
	})
}

func (s *Server) listConnections() []catalog.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]catalog.Connection, 0, len(s.connections))
	for _, c := range s.connections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Server) schema() *catalog.Schema {
	var b strings.Builder
	for _, conn := range s.listConnections() {
		fmt.Fprintf(&b, "Connection: %s\n", conn.ID)
		for _, table := range tableNames() {
			fmt.Fprintf(&b, "Table: %s\n", table)
			for _, col := range sampleTables[table] {
				fmt.Fprintf(&b, "  - %s\n", col)
			}
		}
	}
	return &catalog.Schema{SchemaText: b.String(), Tables: tableNames()}
}
