package v1_test

import (
	"context"

	"github.com/gosuda/datachat/internal/catalog"
	"github.com/gosuda/datachat/internal/console"
)

// ---------------------------------------------------------------------------
// Mock ConversationService
// ---------------------------------------------------------------------------

type mockConversation struct {
	askFunc  func(ctx context.Context, question string) error
	snapshot console.Snapshot
	asked    []string
}

func (m *mockConversation) Ask(ctx context.Context, question string) error {
	m.asked = append(m.asked, question)
	if m.askFunc == nil {
		return nil
	}
	return m.askFunc(ctx, question)
}

func (m *mockConversation) Snapshot() console.Snapshot { return m.snapshot }

// ---------------------------------------------------------------------------
// Mock CatalogService
// ---------------------------------------------------------------------------

type mockCatalog struct {
	schemaFunc           func(ctx context.Context) (*catalog.Schema, error)
	connectionsFunc      func(ctx context.Context) ([]catalog.Connection, error)
	addConnectionFunc    func(ctx context.Context, conn catalog.Connection) (*catalog.Connection, error)
	removeConnectionFunc func(ctx context.Context, id string) error
}

func (m *mockCatalog) Schema(ctx context.Context) (*catalog.Schema, error) {
	return m.schemaFunc(ctx)
}

func (m *mockCatalog) Connections(ctx context.Context) ([]catalog.Connection, error) {
	return m.connectionsFunc(ctx)
}

func (m *mockCatalog) AddConnection(ctx context.Context, conn catalog.Connection) (*catalog.Connection, error) {
	return m.addConnectionFunc(ctx, conn)
}

func (m *mockCatalog) RemoveConnection(ctx context.Context, id string) error {
	return m.removeConnectionFunc(ctx, id)
}
