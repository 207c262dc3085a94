package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"epichat-be/internal/pkg/logger"
	"epichat-be/pkg/events"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	hubModule = "HUB"
	// clusterChannel carries frames between instances that share a Redis
	clusterChannel = "epichat:session_frames"
)

// Frame is what clients of a session receive
type Frame struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type clusterPayload struct {
	Origin    string          `json:"origin"`
	SessionID string          `json:"session_id"`
	Message   json.RawMessage `json:"message"`
}

type Hub struct {
	// Registered clients: SessionID -> every open tab on that session
	clients map[string][]*Client

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex

	// Redis connection for cross-instance delivery. Nil keeps the hub local.
	rdb    *redis.Client
	origin string

	logger logger.ILogger
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[string][]*Client),
		rdb:        rdb,
		origin:     uuid.NewString(),
		logger:     log,
	}
}

// Run serves registrations until ctx is done, then closes every client
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	if h.rdb != nil {
		subscribed := make(chan struct{})
		go h.subscribeToRedis(ctx, subscribed)
		defer func() { <-subscribed }()
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, clients := range h.clients {
				for _, c := range clients {
					close(c.Send)
				}
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.SessionID] = append(h.clients[client.SessionID], client)
			h.mu.Unlock()
			h.logger.Info(hubModule, "Client registered", map[string]interface{}{"session_id": client.SessionID})

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.SessionID]; ok {
				for i, c := range clients {
					if c == client {
						h.clients[client.SessionID] = append(clients[:i], clients[i+1:]...)
						close(client.Send)
						break
					}
				}
				if len(h.clients[client.SessionID]) == 0 {
					delete(h.clients, client.SessionID)
					h.logger.Info(hubModule, "Session has no open clients", map[string]interface{}{"session_id": client.SessionID})
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register and Unregister return immediately once the hub has stopped
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Clients reports how many clients are open on a session
func (h *Hub) Clients(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// Deliver sends a frame to every client of a session on this and, through Redis, every
// other instance.
func (h *Hub) Deliver(ctx context.Context, sessionID string, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error(hubModule, "Failed to encode frame", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
		return
	}

	h.deliverLocal(sessionID, data)

	if h.rdb != nil {
		payload, _ := json.Marshal(clusterPayload{Origin: h.origin, SessionID: sessionID, Message: data})
		if err := h.rdb.Publish(ctx, clusterChannel, payload).Err(); err != nil {
			h.logger.Warn(hubModule, "Failed to publish frame to cluster", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
		}
	}
}

// Publish forwards engine events to the clients of the session they name
func (h *Hub) Publish(ctx context.Context, event events.Event) error {
	sessionID, _ := event.Payload()["session_id"].(string)
	if sessionID == "" {
		return nil
	}
	h.Deliver(ctx, sessionID, Frame{Type: event.EventType(), Data: event.Payload()})
	return nil
}

func (h *Hub) deliverLocal(sessionID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients[sessionID] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn(hubModule, "Client Send buffer full, dropping frame", map[string]interface{}{"session_id": sessionID})
		}
	}
}

// sendTo writes to one client if it is still registered
func (h *Hub) sendTo(c *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, registered := range h.clients[c.SessionID] {
		if registered != c {
			continue
		}
		select {
		case c.Send <- data:
		default:
		}
		return
	}
}

// subscribeToRedis delivers frames published by other instances. Every instance
// subscribes to one channel and keeps the frames for sessions it holds clients for.
func (h *Hub) subscribeToRedis(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	pubsub := h.rdb.Subscribe(ctx, clusterChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var payload clusterPayload
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				h.logger.Warn(hubModule, "Cluster frame parse error", map[string]interface{}{"error": err.Error()})
				continue
			}
			if payload.Origin == h.origin {
				continue
			}
			h.deliverLocal(payload.SessionID, payload.Message)
		}
	}
}
