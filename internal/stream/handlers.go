package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes exposes the live event stream: one websocket per session,
// write-only from the client's point of view. The read loop exists solely
// to notice the peer going away.
func RegisterRoutes(r fiber.Router, hub *Hub) {
	r.Get("/ws/:sessionID", websocket.New(streamSession(hub)))
}

func streamSession(hub *Hub) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		client := hub.Register(conn.Params("sessionID"))

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for payload := range client.Send {
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			}
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		// Unregister closes Send, which releases the writer.
		hub.Unregister(client)
		<-writerDone
	}
}
