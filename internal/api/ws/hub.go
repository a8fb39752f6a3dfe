// Package ws streams conversation snapshots to browser clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/datachat/internal/console"
)

// Subscriber is the subscribe side of the snapshot broker.
// *redis.PubSub and *memory.Broker satisfy this interface.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// SnapshotSource is the console whose snapshots are streamed.
type SnapshotSource interface {
	Snapshot() console.Snapshot
	Channel() string
}

// Hub manages WebSocket connections backed by the snapshot broker.
type Hub struct {
	broker  Subscriber
	source  SnapshotSource
	origins []string
}

// NewHub creates a new WebSocket hub. origins lists the host patterns allowed
// to open cross-origin connections; empty allows same-origin only.
func NewHub(broker Subscriber, source SnapshotSource, origins []string) *Hub {
	return &Hub{broker: broker, source: source, origins: origins}
}

// ServeConversation handles WebSocket connections following the conversation.
// The current snapshot is sent first, then every published snapshot.
func (h *Hub) ServeConversation(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	// Clients never send; CloseRead handles their close frames.
	ctx := conn.CloseRead(r.Context())

	messages, cleanup, err := h.broker.Subscribe(ctx, h.source.Channel())
	if err != nil {
		log.Error().Err(err).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	if err := h.writeCurrent(ctx, conn); err != nil {
		log.Debug().Err(err).Msg("websocket write")
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, msgOK := <-messages:
			if !msgOK {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, msg); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
		}
	}
}

func (h *Hub) writeCurrent(ctx context.Context, conn *websocket.Conn) error {
	payload, err := json.Marshal(h.source.Snapshot())
	if err != nil {
		return fmt.Errorf("ws.Hub.writeCurrent: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("ws.Hub.writeCurrent: %w", err)
	}
	return nil
}
