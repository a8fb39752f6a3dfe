package server

import (
	"net/url"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/datachat/internal/api/v1"
	"github.com/gosuda/datachat/internal/api/ws"
)

func registerAPIRoutes(api huma.API, conv v1.ConversationService, catalog v1.CatalogService) {
	v1.RegisterConversationRoutes(api, conv)
	v1.RegisterCatalogRoutes(api, catalog)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/conversation", hub.ServeConversation)
}

// originPatterns turns CORS origins into the host patterns websocket.Accept
// matches against.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			out = append(out, "*")
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		out = append(out, u.Host)
	}
	return out
}
