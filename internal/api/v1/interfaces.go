package v1

import (
	"context"

	"github.com/gosuda/datachat/internal/catalog"
	"github.com/gosuda/datachat/internal/console"
)

// ConversationService abstracts the console for handler testing.
// *console.Console satisfies this interface.
type ConversationService interface {
	Ask(ctx context.Context, question string) error
	Snapshot() console.Snapshot
}

// CatalogService abstracts the collaborator REST client for handler testing.
// *catalog.Client satisfies this interface.
type CatalogService interface {
	Schema(ctx context.Context) (*catalog.Schema, error)
	Connections(ctx context.Context) ([]catalog.Connection, error)
	AddConnection(ctx context.Context, conn catalog.Connection) (*catalog.Connection, error)
	RemoveConnection(ctx context.Context, id string) error
}
