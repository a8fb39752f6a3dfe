package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/gosuda/datachat/internal/console"
	"github.com/gosuda/datachat/internal/conversation"
)

type palette struct {
	user     *color.Color
	progress *color.Color
	answer   *color.Color
	failure  *color.Color
	notice   *color.Color
	dim      *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		user:     color.New(color.Bold),
		progress: color.New(color.FgCyan),
		answer:   color.New(color.FgGreen),
		failure:  color.New(color.FgRed),
		notice:   color.New(color.FgYellow),
		dim:      color.New(color.Faint),
	}
	if !enabled {
		for _, c := range []*color.Color{p.user, p.progress, p.answer, p.failure, p.notice, p.dim} {
			c.DisableColor()
		}
	}
	return p
}

type messageState struct {
	printed int // bytes of assistant content already shown
	done    bool
}

// Renderer prints the parts of each snapshot that have not been printed yet,
// so a stream of snapshots reads as a transcript.
type Renderer struct {
	mu        sync.Mutex
	out       io.Writer
	colors    palette
	seen      map[uuid.UUID]*messageState
	connected *bool
}

// NewRenderer creates a Renderer writing to out.
func NewRenderer(out io.Writer, colored bool) *Renderer {
	return &Renderer{
		out:    out,
		colors: newPalette(colored),
		seen:   make(map[uuid.UUID]*messageState),
	}
}

// Render prints what changed since the previous snapshot.
func (r *Renderer) Render(s console.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connected == nil || *r.connected != s.Connected {
		connected := s.Connected
		r.connected = &connected
		if connected {
			r.colors.notice.Fprintln(r.out, "* connected to backend")
		} else {
			r.colors.notice.Fprintln(r.out, "* disconnected from backend, reconnecting...")
		}
	}

	for _, m := range s.Messages {
		st, ok := r.seen[m.ID]
		if !ok {
			st = &messageState{}
			r.seen[m.ID] = st
		}
		if st.done {
			continue
		}
		r.renderMessage(m, st, !ok)
	}
}

func (r *Renderer) renderMessage(m conversation.Message, st *messageState, first bool) {
	if m.Role == conversation.RoleUser {
		r.colors.user.Fprintf(r.out, "you: %s\n", m.Content)
		st.done = true
		return
	}

	switch m.Status {
	case conversation.StatusPending, conversation.StatusStreaming:
		if first {
			r.colors.dim.Fprintln(r.out, conversation.PlaceholderContent)
			if strings.HasPrefix(m.Content, conversation.PlaceholderContent) {
				st.printed = len(conversation.PlaceholderContent)
			}
		}
		if st.printed > len(m.Content) {
			st.printed = 0
		}
		for _, line := range strings.Split(m.Content[st.printed:], "\n") {
			if line != "" {
				r.colors.progress.Fprintf(r.out, "  %s\n", line)
			}
		}
		st.printed = len(m.Content)
	case conversation.StatusCompleted:
		r.colors.answer.Fprintln(r.out, m.Content)
		if len(m.Visualization) > 0 {
			r.colors.dim.Fprintln(r.out, "[chart attached]")
		}
		st.done = true
	case conversation.StatusError:
		r.colors.failure.Fprintln(r.out, m.Content)
		st.done = true
	}
}

// Println writes a plain line, serialized with snapshot output.
func (r *Renderer) Println(a ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintln(r.out, a...)
}

// Noticef writes a highlighted line.
func (r *Renderer) Noticef(format string, a ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.colors.notice.Fprintf(r.out, format+"\n", a...)
}

// Failuref writes an error line.
func (r *Renderer) Failuref(format string, a ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.colors.failure.Fprintf(r.out, format+"\n", a...)
}
