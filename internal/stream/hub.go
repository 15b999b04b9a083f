package stream

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"backend-fieldtrack/internal/event"
)

// Hub fans live session events out to websocket clients, bridging across
// instances over redis pub/sub when a client is available.
type Hub struct {
	redis   *redis.Client
	log     zerolog.Logger
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	SessionID string
	Send      chan []byte
}

func NewHub(redisClient *redis.Client, log zerolog.Logger) *Hub {
	h := &Hub{
		redis:   redisClient,
		log:     log.With().Str("component", "stream").Logger(),
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessionClients, ok := h.clients[client.SessionID]; ok {
		delete(sessionClients, client)
		if len(sessionClients) == 0 {
			delete(h.clients, client.SessionID)
		}
	}
	close(client.Send)
}

// BroadcastEvent delivers a session event to local subscribers and
// publishes it for other instances. Slow clients are skipped, never
// blocked on.
func (h *Hub) BroadcastEvent(ev event.SessionEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal event")
		return
	}
	h.deliver(ev.SessionID, payload)

	if h.redis != nil {
		if err := h.redis.Publish(context.Background(), eventChannel(ev.SessionID), payload).Err(); err != nil {
			h.log.Warn().Err(err).Msg("redis publish")
		}
	}
}

// deliver fans a payload out to the session's local clients. The lock is
// held across the sends so a concurrent Unregister cannot close a channel
// mid-send; the sends never block.
func (h *Hub) deliver(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[sessionID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "sessions:*:events")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		h.deliver(sessionIDFromChannel(msg.Channel), []byte(msg.Payload))
	}
}

func eventChannel(sessionID string) string {
	return "sessions:" + sessionID + ":events"
}

func sessionIDFromChannel(ch string) string {
	// sessions:{session}:events
	const prefix = "sessions:"
	const suffix = ":events"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
