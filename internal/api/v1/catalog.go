package v1

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/datachat/internal/catalog"
)

type GetSchemaOutput struct {
	Body *catalog.Schema
}

type ListConnectionsOutput struct {
	Body []catalog.Connection
}

type AddConnectionInput struct {
	Body struct {
		ID     string                   `json:"id,omitempty" doc:"Connection ID; derived from the name when empty"`
		Type   catalog.ConnectionType   `json:"type" enum:"postgres,sqlite,filesystem" doc:"Data source type"`
		Name   string                   `json:"name" minLength:"1" maxLength:"255" doc:"Display name"`
		Params catalog.ConnectionParams `json:"params,omitempty" doc:"Type-specific settings"`
	}
}

type AddConnectionOutput struct {
	Body *catalog.Connection
}

type RemoveConnectionInput struct {
	ID string `path:"id" doc:"Connection ID"`
}

type RemoveConnectionOutput struct {
	Body catalog.RemoveResult
}

// RegisterCatalogRoutes registers the schema and connection registry operations.
func RegisterCatalogRoutes(api huma.API, svc CatalogService) {
	huma.Register(api, huma.Operation{
		OperationID: "get-schema",
		Method:      http.MethodGet,
		Path:        "/schema",
		Summary:     "Schema of the configured data sources",
		Tags:        []string{"Catalog"},
	}, func(ctx context.Context, _ *struct{}) (*GetSchemaOutput, error) {
		schema, err := svc.Schema(ctx)
		if err != nil {
			return nil, catalogError(err, "failed to fetch schema")
		}
		return &GetSchemaOutput{Body: schema}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-connections",
		Method:      http.MethodGet,
		Path:        "/connections",
		Summary:     "List data source connections",
		Tags:        []string{"Catalog"},
	}, func(ctx context.Context, _ *struct{}) (*ListConnectionsOutput, error) {
		conns, err := svc.Connections(ctx)
		if err != nil {
			return nil, catalogError(err, "failed to list connections")
		}
		if conns == nil {
			conns = []catalog.Connection{}
		}
		return &ListConnectionsOutput{Body: conns}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-connection",
		Method:        http.MethodPost,
		Path:          "/connections",
		Summary:       "Add a data source connection",
		Tags:          []string{"Catalog"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *AddConnectionInput) (*AddConnectionOutput, error) {
		conn, err := svc.AddConnection(ctx, catalog.Connection{
			ID:     input.Body.ID,
			Type:   input.Body.Type,
			Name:   input.Body.Name,
			Params: input.Body.Params,
		})
		if err != nil {
			return nil, catalogError(err, "failed to add connection")
		}
		return &AddConnectionOutput{Body: conn}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-connection",
		Method:      http.MethodDelete,
		Path:        "/connections/{id}",
		Summary:     "Remove a data source connection",
		Tags:        []string{"Catalog"},
	}, func(ctx context.Context, input *RemoveConnectionInput) (*RemoveConnectionOutput, error) {
		if err := svc.RemoveConnection(ctx, input.ID); err != nil {
			return nil, catalogError(err, "failed to remove connection")
		}
		return &RemoveConnectionOutput{Body: catalog.RemoveResult{Status: "success", ID: input.ID}}, nil
	})
}

func catalogError(err error, msg string) error {
	var statusErr *catalog.StatusError
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return huma.Error404NotFound("connection not found")
	case errors.Is(err, catalog.ErrInvalidConnection):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.As(err, &statusErr):
		return huma.Error502BadGateway(fmt.Sprintf("%s: backend answered %d", msg, statusErr.StatusCode))
	default:
		return huma.Error502BadGateway(msg)
	}
}
