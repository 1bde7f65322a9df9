package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Topic helpers. Clients join the topic for their watch session; signed-in
// clients additionally join their user topic for wallet/reward events.
func SessionTopic(sessionID uuid.UUID) string { return "session:" + sessionID.String() }
func UserTopic(userID uuid.UUID) string       { return "user:" + userID.String() }

// Hub maintains topic -> set of connections and broadcasts messages.
// Uses Redis pub/sub for horizontal scaling: local broadcast + publish to Redis.
type Hub struct {
	// topic -> map[clientID]*Client
	topics   map[string]map[string]*Client
	subs     map[string]func() // cancel Redis subscription per topic
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishTopicEvent(topic, event string, payload []byte) error
}

// RedisSubscriber subscribes to topic channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeTopic(topic string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	return &Hub{
		topics:   make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// register adds a client to a topic. Starts a Redis subscription for the
// topic when the first client joins.
func (h *Hub) register(topic string, c *Client) {
	h.mu.Lock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeTopic(topic, func(event string, payload []byte) {
				h.Broadcast(topic, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[topic] = cancel
			}
		}
	}
	h.topics[topic][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined topic", zap.String("client_id", c.ID), zap.String("topic", topic))
}

// unregister removes a client from a topic. Cancels the Redis subscription
// when the last client leaves.
func (h *Hub) unregister(topic string, c *Client) {
	h.mu.Lock()
	if m, ok := h.topics[topic]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.topics, topic)
			if cancel, ok := h.subs[topic]; ok {
				cancel()
				delete(h.subs, topic)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left topic", zap.String("client_id", c.ID), zap.String("topic", topic))
}

// Broadcast sends a message to all clients subscribed to a topic (local only).
func (h *Hub) Broadcast(topic, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := h.topics[topic]
	h.mu.RUnlock()

	if clients == nil {
		return
	}
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// BroadcastAndPublish sends to local clients and publishes to Redis for other instances.
func (h *Hub) BroadcastAndPublish(topic, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.Broadcast(topic, event, json.RawMessage(data))
	if h.redis != nil {
		_ = h.redis.PublishTopicEvent(topic, event, data)
	}
}

// SendToSession broadcasts an event to all connections of a watch session.
func (h *Hub) SendToSession(sessionID uuid.UUID, event string, payload interface{}) {
	h.BroadcastAndPublish(SessionTopic(sessionID), event, payload)
}

// SendToUser broadcasts an event to all connections of a user (e.g. wallet display).
func (h *Hub) SendToUser(userID uuid.UUID, event string, payload interface{}) {
	h.BroadcastAndPublish(UserTopic(userID), event, payload)
}

// ClientCount returns the number of connected clients on a topic.
func (h *Hub) ClientCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
