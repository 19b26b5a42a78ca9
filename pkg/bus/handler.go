package bus

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inboundMessage discriminates the two message shapes a client may send
// over the socket (§4.6): a room subscribe and a requestFullUpdate.
type inboundMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

const msgTypeRequestFullUpdate = "requestFullUpdate"

// ServeWS upgrades an incoming HTTP request to a websocket connection,
// registers it as a bus session, and reads inbound messages from it until
// it disconnects. *websocket.Conn satisfies Transport directly, so the bus
// never sees anything but the Transport seam.
func (b *Bus) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	if _, err := b.Connect(id, conn); err != nil {
		b.log.Warn().Err(err).Msg("rejected websocket connection")
		_ = conn.Close()
		return err
	}
	defer b.Disconnect(id)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		b.Touch(id)

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case msgTypeRequestFullUpdate:
			b.handleRequestFullUpdate(r.Context(), id)
		default:
			if msg.Room == "" {
				continue
			}
			if err := b.Subscribe(id, msg.Room); err != nil {
				b.log.Debug().Err(err).Str("session_id", id).Str("room", msg.Room).Msg("subscribe rejected")
			}
		}
	}
}

// handleRequestFullUpdate answers a requestFullUpdate message with a
// bulkUpdate of the current fleet-wide statistics snapshot (§4.6). It logs
// and swallows the request if no provider has been wired, consistent with
// the bus's delivery-failure policy of never crashing the publisher.
func (b *Bus) handleRequestFullUpdate(ctx context.Context, sessionID string) {
	provider := b.statisticsProvider()
	if provider == nil {
		b.log.Debug().Str("session_id", sessionID).Msg("requestFullUpdate with no statistics provider wired")
		return
	}
	b.PublishBulkUpdate(ctx, sessionID, provider.AllStatistics())
}
