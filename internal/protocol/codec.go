// Package protocol implements the JSON text-frame protocol spoken over the
// chat socket: outbound questions and the three inbound event kinds.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors wrapped by DecodeError.
var (
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	ErrUnknownType    = errors.New("protocol: unknown event type")
)

// DecodeError describes an inbound frame that could not be turned into an
// Event. The frame should be dropped; it says nothing about the connection.
type DecodeError struct {
	Type Kind // raw discriminator, empty when the envelope itself was unreadable
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("protocol.Decode: %v", e.Err)
	}
	return fmt.Sprintf("protocol.Decode: %q frame: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type agentUpdatePayload struct {
	Agent   string `json:"agent"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
}

type finalResponsePayload struct {
	Answer        string          `json:"answer"`
	Visualization json.RawMessage `json:"visualization,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type question struct {
	Question string `json:"question"`
}

// Encode wraps a user question in the outbound envelope {"question": ...}.
func Encode(q string) ([]byte, error) {
	b, err := json.Marshal(question{Question: q})
	if err != nil {
		return nil, fmt.Errorf("protocol.Encode: %w", err)
	}
	return b, nil
}

// Decode parses an inbound frame and classifies it by its "type" field.
func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %w", ErrMalformedFrame, err)}
	}
	if env.Type == "" {
		return nil, &DecodeError{Err: fmt.Errorf("%w: missing type", ErrMalformedFrame)}
	}

	switch env.Type {
	case KindAgentUpdate, KindFinalResponse, KindError:
	default:
		return nil, &DecodeError{Type: env.Type, Err: ErrUnknownType}
	}

	if isNull(env.Payload) {
		return nil, &DecodeError{Type: env.Type, Err: fmt.Errorf("%w: missing payload", ErrMalformedFrame)}
	}

	switch env.Type {
	case KindAgentUpdate:
		var p agentUpdatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, &DecodeError{Type: env.Type, Err: fmt.Errorf("%w: %w", ErrMalformedFrame, err)}
		}
		return AgentUpdate{Agent: p.Agent, Text: p.Message, Status: p.Status}, nil

	case KindFinalResponse:
		var p finalResponsePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, &DecodeError{Type: env.Type, Err: fmt.Errorf("%w: %w", ErrMalformedFrame, err)}
		}
		ev := FinalResponse{Answer: p.Answer}
		if !isNull(p.Visualization) {
			ev.Visualization = p.Visualization
		}
		return ev, nil

	default: // KindError
		var p errorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, &DecodeError{Type: env.Type, Err: fmt.Errorf("%w: %w", ErrMalformedFrame, err)}
		}
		return ErrorEvent{Message: p.Message}, nil
	}
}

// EncodeEvent produces the frame a backend sends for ev.
func EncodeEvent(ev Event) ([]byte, error) {
	var payload any
	switch e := ev.(type) {
	case AgentUpdate:
		payload = agentUpdatePayload{Agent: e.Agent, Status: e.Status, Message: e.Text}
	case FinalResponse:
		payload = finalResponsePayload{Answer: e.Answer, Visualization: e.Visualization}
	case ErrorEvent:
		payload = errorPayload{Message: e.Message}
	default:
		return nil, fmt.Errorf("protocol.EncodeEvent: %T: %w", ev, ErrUnknownType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol.EncodeEvent: payload: %w", err)
	}
	b, err := json.Marshal(envelope{Type: ev.Kind(), Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("protocol.EncodeEvent: %w", err)
	}
	return b, nil
}

// DecodeQuestion extracts the question from an outbound frame. A frame that
// is not a JSON object is taken verbatim as the question. An empty question
// is returned as "" with no error; callers skip it.
func DecodeQuestion(frame []byte) (string, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return strings.TrimSpace(string(frame)), nil
	}
	var q question
	if err := json.Unmarshal(trimmed, &q); err != nil {
		return "", fmt.Errorf("protocol.DecodeQuestion: %w: %w", ErrMalformedFrame, err)
	}
	return strings.TrimSpace(q.Question), nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
