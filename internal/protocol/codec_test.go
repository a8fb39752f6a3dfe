package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/datachat/internal/protocol"
)

func TestEncode(t *testing.T) {
	t.Parallel()

	t.Run("wraps question", func(t *testing.T) {
		t.Parallel()

		b, err := protocol.Encode("how many orders last week?")
		require.NoError(t, err)
		assert.JSONEq(t, `{"question":"how many orders last week?"}`, string(b))
	})

	t.Run("escapes quotes", func(t *testing.T) {
		t.Parallel()

		b, err := protocol.Encode(`say "hi"`)
		require.NoError(t, err)

		q, err := protocol.DecodeQuestion(b)
		require.NoError(t, err)
		assert.Equal(t, `say "hi"`, q)
	})
}

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame string
		want  protocol.Event
	}{
		{
			name:  "agent_update",
			frame: `{"type":"agent_update","payload":{"agent":"Planner","status":"completed","message":"scanning schema"}}`,
			want:  protocol.AgentUpdate{Agent: "Planner", Text: "scanning schema", Status: "completed"},
		},
		{
			name:  "agent_update without status",
			frame: `{"type":"agent_update","payload":{"agent":"coder","message":"writing sql"}}`,
			want:  protocol.AgentUpdate{Agent: "coder", Text: "writing sql"},
		},
		{
			name:  "final_response with visualization",
			frame: `{"type":"final_response","payload":{"answer":"42 rows","visualization":{"data":[]}}}`,
			want:  protocol.FinalResponse{Answer: "42 rows", Visualization: json.RawMessage(`{"data":[]}`)},
		},
		{
			name:  "final_response with null visualization",
			frame: `{"type":"final_response","payload":{"answer":"42 rows","visualization":null}}`,
			want:  protocol.FinalResponse{Answer: "42 rows"},
		},
		{
			name:  "final_response without visualization",
			frame: `{"type":"final_response","payload":{"answer":"42 rows"}}`,
			want:  protocol.FinalResponse{Answer: "42 rows"},
		},
		{
			name:  "error",
			frame: `{"type":"error","payload":{"message":"timeout"}}`,
			want:  protocol.ErrorEvent{Message: "timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := protocol.Decode([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_Faults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		frame    string
		sentinel error
		kind     protocol.Kind
	}{
		{name: "not json", frame: `hello`, sentinel: protocol.ErrMalformedFrame},
		{name: "json array", frame: `[1,2]`, sentinel: protocol.ErrMalformedFrame},
		{name: "missing type", frame: `{"payload":{}}`, sentinel: protocol.ErrMalformedFrame},
		{name: "unknown type", frame: `{"type":"heartbeat","payload":{}}`, sentinel: protocol.ErrUnknownType, kind: "heartbeat"},
		{name: "missing payload", frame: `{"type":"error"}`, sentinel: protocol.ErrMalformedFrame, kind: protocol.KindError},
		{name: "null payload", frame: `{"type":"agent_update","payload":null}`, sentinel: protocol.ErrMalformedFrame, kind: protocol.KindAgentUpdate},
		{name: "payload wrong shape", frame: `{"type":"final_response","payload":"done"}`, sentinel: protocol.ErrMalformedFrame, kind: protocol.KindFinalResponse},
		{name: "field wrong type", frame: `{"type":"error","payload":{"message":7}}`, sentinel: protocol.ErrMalformedFrame, kind: protocol.KindError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ev, err := protocol.Decode([]byte(tt.frame))
			require.Error(t, err)
			assert.Nil(t, ev)
			assert.ErrorIs(t, err, tt.sentinel)

			var decErr *protocol.DecodeError
			require.True(t, errors.As(err, &decErr))
			assert.Equal(t, tt.kind, decErr.Type)
		})
	}
}

func TestDecodeQuestion(t *testing.T) {
	t.Parallel()

	t.Run("json envelope", func(t *testing.T) {
		t.Parallel()

		q, err := protocol.DecodeQuestion([]byte(`{"question":"  top customers "}`))
		require.NoError(t, err)
		assert.Equal(t, "top customers", q)
	})

	t.Run("raw text fallback", func(t *testing.T) {
		t.Parallel()

		q, err := protocol.DecodeQuestion([]byte("list tables"))
		require.NoError(t, err)
		assert.Equal(t, "list tables", q)
	})

	t.Run("empty question", func(t *testing.T) {
		t.Parallel()

		q, err := protocol.DecodeQuestion([]byte(`{"other":1}`))
		require.NoError(t, err)
		assert.Empty(t, q)
	})

	t.Run("broken json", func(t *testing.T) {
		t.Parallel()

		_, err := protocol.DecodeQuestion([]byte(`{"question":`))
		assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
	})
}

func TestEncodeEvent_Wire(t *testing.T) {
	t.Parallel()

	b, err := protocol.EncodeEvent(protocol.AgentUpdate{Agent: "router", Text: "Router finished processing.", Status: "completed"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"agent_update","payload":{"agent":"router","status":"completed","message":"Router finished processing."}}`, string(b))

	b, err = protocol.EncodeEvent(protocol.FinalResponse{Answer: "done"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"final_response","payload":{"answer":"done"}}`, string(b))

	b, err = protocol.EncodeEvent(protocol.ErrorEvent{Message: "boom"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","payload":{"message":"boom"}}`, string(b))
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, protocol.Terminal(protocol.AgentUpdate{}))
	assert.True(t, protocol.Terminal(protocol.FinalResponse{}))
	assert.True(t, protocol.Terminal(protocol.ErrorEvent{}))
}

func TestRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	roundTrips := func(ev protocol.Event) bool {
		b, err := protocol.EncodeEvent(ev)
		if err != nil {
			return false
		}
		got, err := protocol.Decode(b)
		if err != nil {
			return false
		}
		return assert.ObjectsAreEqual(ev, got)
	}

	properties.Property("agent_update round trips", prop.ForAll(
		func(agent, text, status string) bool {
			return roundTrips(protocol.AgentUpdate{Agent: agent, Text: text, Status: status})
		},
		gen.AlphaString(), gen.AnyString().SuchThat(validUTF8), gen.AlphaString(),
	))

	properties.Property("final_response round trips with and without visualization", prop.ForAll(
		func(answer string, withViz bool, n int) bool {
			ev := protocol.FinalResponse{Answer: answer}
			if withViz {
				viz, _ := json.Marshal(map[string]any{"data": []int{n}})
				ev.Visualization = viz
			}
			return roundTrips(ev)
		},
		gen.AnyString().SuchThat(validUTF8), gen.Bool(), gen.Int(),
	))

	properties.Property("error round trips", prop.ForAll(
		func(msg string) bool {
			return roundTrips(protocol.ErrorEvent{Message: msg})
		},
		gen.AnyString().SuchThat(validUTF8),
	))

	properties.Property("question round trips", prop.ForAll(
		func(q string) bool {
			b, err := protocol.Encode(q)
			if err != nil {
				return false
			}
			got, err := protocol.DecodeQuestion(b)
			return err == nil && got == q
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

func validUTF8(s string) bool {
	b, err := json.Marshal(s)
	if err != nil {
		return false
	}
	var back string
	return json.Unmarshal(b, &back) == nil && back == s
}
