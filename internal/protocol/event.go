package protocol

import "encoding/json"

// Kind is the top-level "type" discriminator of an inbound frame.
type Kind string

const (
	KindAgentUpdate   Kind = "agent_update"
	KindFinalResponse Kind = "final_response"
	KindError         Kind = "error"
)

// Event is a decoded inbound frame. The set of implementations is closed:
// AgentUpdate, FinalResponse and ErrorEvent.
type Event interface {
	Kind() Kind
	isEvent()
}

// AgentUpdate is an incremental progress note from one agent node. It may
// arrive any number of times per query.
type AgentUpdate struct {
	Agent  string
	Text   string
	Status string // node status reported by the backend, e.g. "completed"
}

// FinalResponse terminates a query successfully. Visualization is an opaque
// JSON document (a chart spec) and is nil when the backend sent none.
type FinalResponse struct {
	Answer        string
	Visualization json.RawMessage
}

// ErrorEvent terminates a query with a failure.
type ErrorEvent struct {
	Message string
}

func (AgentUpdate) Kind() Kind   { return KindAgentUpdate }
func (FinalResponse) Kind() Kind { return KindFinalResponse }
func (ErrorEvent) Kind() Kind    { return KindError }

func (AgentUpdate) isEvent()   {}
func (FinalResponse) isEvent() {}
func (ErrorEvent) isEvent()    {}

// Terminal reports whether ev ends the query it belongs to.
func Terminal(ev Event) bool {
	switch ev.(type) {
	case FinalResponse, ErrorEvent:
		return true
	default:
		return false
	}
}
