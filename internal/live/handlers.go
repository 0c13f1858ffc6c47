package live

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// controlMessage is the inbound dashboard protocol. Unrecognized types are
// ignored, never fatal.
type controlMessage struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

func RegisterRoutes(r fiber.Router, reg *Registry, pipe *Pipeline) {
	r.Get("/dashboard", websocket.New(func(c *websocket.Conn) {
		obs := reg.ConnectObserver(newConnSink(c))
		defer reg.DisconnectObserver(obs)

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			var msg controlMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case "subscribe":
				reg.Subscribe(obs, msg.Channels)
			case "unsubscribe":
				reg.Unsubscribe(obs, msg.Channels)
			}
		}
	}))

	r.Get("/tracking/:userID", websocket.New(func(c *websocket.Conn) {
		userID := c.Params("userID")
		tr := reg.ConnectTracked(userID, newConnSink(c))
		defer reg.DisconnectTracked(userID, tr)

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			pipe.Process(context.Background(), userID, raw)
		}
	}))
}

// connSink adapts a websocket connection to the Sink interface. Writes are
// serialized: broadcasts, acks and the periodic aggregator all share the
// connection.
type connSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newConnSink(c *websocket.Conn) *connSink {
	return &connSink{conn: c}
}

func (s *connSink) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *connSink) Close() error {
	return s.conn.Close()
}
