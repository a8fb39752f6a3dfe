package conversation

import (
	"bytes"

	"github.com/gosuda/datachat/internal/protocol"
)

// Reduce applies one event to conv and returns the next conversation. It is
// pure: conv is never modified, and when the event does not apply conv itself
// is returned.
//
// Events always target the last message. An AgentUpdate only applies to an
// assistant message that is still pending or streaming. FinalResponse and
// ErrorEvent only check the role, so they also overwrite an assistant message
// that is already terminal.
func Reduce(conv Conversation, ev protocol.Event) Conversation {
	last, ok := conv.Last()
	if !ok || last.Role != RoleAssistant {
		return conv
	}

	switch e := ev.(type) {
	case protocol.AgentUpdate:
		if last.Status != StatusPending && last.Status != StatusStreaming {
			return conv
		}
		last.Content += "\n> " + e.Text
		last.Status = StatusStreaming
		last.Agent = e.Agent

	case protocol.FinalResponse:
		last.Content = e.Answer
		last.Status = StatusCompleted
		last.Visualization = bytes.Clone(e.Visualization)

	case protocol.ErrorEvent:
		last.Content = "Error: " + e.Message
		last.Status = StatusError

	default:
		return conv
	}

	return replaceLast(conv, last)
}

func replaceLast(conv Conversation, m Message) Conversation {
	next := make(Conversation, len(conv))
	copy(next, conv)
	next[len(next)-1] = m
	return next
}
