package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/datachat/internal/console"
)

type GetConversationOutput struct {
	Body console.Snapshot
}

type AskInput struct {
	Body struct {
		Question string `json:"question" minLength:"1" maxLength:"8192" doc:"Natural-language question"`
	}
}

type AskOutput struct {
	Body console.Snapshot
}

// RegisterConversationRoutes registers the conversation snapshot and query operations.
func RegisterConversationRoutes(api huma.API, svc ConversationService) {
	huma.Register(api, huma.Operation{
		OperationID: "get-conversation",
		Method:      http.MethodGet,
		Path:        "/conversation",
		Summary:     "Current conversation, processing and connectivity state",
		Tags:        []string{"Conversation"},
	}, func(_ context.Context, _ *struct{}) (*GetConversationOutput, error) {
		return &GetConversationOutput{Body: svc.Snapshot()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "ask-question",
		Method:        http.MethodPost,
		Path:          "/queries",
		Summary:       "Ask a question",
		Description:   "Appends the question and a pending answer to the conversation and sends it to the backend. Progress arrives on the conversation websocket.",
		Tags:          []string{"Conversation"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *AskInput) (*AskOutput, error) {
		if err := svc.Ask(ctx, input.Body.Question); err != nil {
			switch {
			case errors.Is(err, console.ErrEmptyQuestion):
				return nil, huma.Error400BadRequest("question is empty")
			case errors.Is(err, console.ErrQueryInFlight):
				return nil, huma.Error409Conflict("a query is already in progress")
			case errors.Is(err, console.ErrNotConnected):
				return nil, huma.Error503ServiceUnavailable("not connected to backend")
			default:
				return nil, huma.Error500InternalServerError("failed to ask question")
			}
		}
		return &AskOutput{Body: svc.Snapshot()}, nil
	})
}
