package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/marketplace"
	"github.com/leafsii/nft-marketplace/internal/metrics"
	"github.com/leafsii/nft-marketplace/internal/store"
)

const (
	// TopicAllEvents matches every marketplace event channel.
	TopicAllEvents = store.EventChannelBase + "*"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1024
	idleTimeout    = 2 * time.Minute
)

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	cache      *store.Cache
	upgrader   websocket.Upgrader
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
	mu         sync.Mutex
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	closed bool

	mu         sync.Mutex
	topics     map[string]bool
	address    address.Address // receives every event involving this account
	lastActive time.Time
}

type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type WSSubscriptionRequest struct {
	Type    string   `json:"type"`
	Topics  []string `json:"topics"`
	Address string   `json:"address,omitempty"`
}

// NewHub builds a hub accepting connections from allowedOrigins. Requests
// without an Origin header are always accepted.
func NewHub(cache *store.Cache, allowedOrigins []string, logger *zap.SugaredLogger, metrics *metrics.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		cache:      cache,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin] || allowed["*"]
			},
		},
		logger:  logger,
		metrics: metrics,
	}
}

func (h *Hub) Run(ctx context.Context) {
	go h.startSubscription(ctx)
	go h.startClientCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("WebSocket hub shutting down")
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.IncrementConnections(ctx)
			}
			h.logger.Debugw("Client registered", "remote", client.conn.RemoteAddr().String())

		case client := <-h.unregister:
			h.mu.Lock()
			removed := h.dropLocked(client)
			h.mu.Unlock()
			if removed && h.metrics != nil {
				h.metrics.DecrementConnections(ctx)
			}
			h.logger.Debugw("Client unregistered", "address", client.address)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) dropLocked(c *Client) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return true
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) startSubscription(ctx context.Context) {
	channels := store.AllEventChannels()

	if pubsub := h.cache.Subscribe(ctx, channels...); pubsub != nil {
		defer pubsub.Close()
		h.handleRedisPubSubMessages(ctx, pubsub)
		return
	}

	if sub := h.cache.SubscribeLocal(ctx, channels...); sub != nil {
		defer sub.Close()
		h.logger.Debugw("Using local broker for WebSocket hub", "channels", channels)
		h.handleLocalMessages(ctx, sub)
		return
	}

	h.logger.Warnw("No PubSub available; skipping WebSocket subscriptions")
}

func (h *Hub) handleRedisPubSubMessages(ctx context.Context, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.dispatch(msg.Channel, msg.Payload)
		}
	}
}

func (h *Hub) handleLocalMessages(ctx context.Context, sub *store.LocalSubscription) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.dispatch(msg.Channel, msg.Payload)
		}
	}
}

// dispatch wraps an event payload and delivers it to every interested client.
func (h *Hub) dispatch(channel, payload string) {
	wsMessage := Message{
		Type:      "update",
		Topic:     channel,
		Data:      json.RawMessage(payload),
		Timestamp: time.Now().Unix(),
	}
	messageBytes, err := json.Marshal(wsMessage)
	if err != nil {
		h.logger.Errorw("Failed to marshal WebSocket message", "error", err)
		return
	}

	var evt marketplace.Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		h.logger.Warnw("Undecodable event payload", "channel", channel, "error", err)
	}
	accounts := involved(evt)

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !client.wants(channel, accounts) {
			continue
		}
		select {
		case client.send <- messageBytes:
		default:
			// slow consumer
			h.dropLocked(client)
		}
	}
}

func involved(evt marketplace.Event) map[address.Address]bool {
	out := map[address.Address]bool{}
	for _, a := range evt.Participants() {
		out[a] = true
	}
	return out
}

func (h *Hub) startClientCleanup(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.cleanupInactiveClients(time.Now().Add(-idleTimeout))
		}
	}
}

func (h *Hub) cleanupInactiveClients(cutoff time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if client.idleSince(cutoff) {
			h.dropLocked(client)
			h.logger.Debugw("Cleaned up inactive client", "address", client.address)
		}
	}
}

// HandleWebSocket upgrades the request and serves the connection until it closes.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, 256),
		topics:     make(map[string]bool),
		lastActive: time.Now(),
	}

	select {
	case h.register <- client:
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Errorw("WebSocket error", "error", err)
			}
			return
		}

		c.touch()
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var sub WSSubscriptionRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		c.hub.logger.Warnw("Invalid subscription message", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch sub.Type {
	case "subscribe":
		for _, topic := range sub.Topics {
			c.topics[topic] = true
		}
		if sub.Address != "" {
			addr, err := address.Parse(sub.Address)
			if err != nil {
				c.hub.logger.Warnw("Invalid subscription address", "address", sub.Address, "error", err)
				return
			}
			c.address = addr
		}
		c.hub.logger.Debugw("Client subscribed to topics", "topics", sub.Topics, "address", sub.Address)

	case "unsubscribe":
		for _, topic := range sub.Topics {
			delete(c.topics, topic)
		}
		if sub.Address != "" {
			c.address = ""
		}
		c.hub.logger.Debugw("Client unsubscribed from topics", "topics", sub.Topics)
	}
}

func (c *Client) wants(topic string, involved map[address.Address]bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.topics[topic] {
		return true
	}
	if c.topics[TopicAllEvents] && strings.HasPrefix(topic, store.EventChannelBase) {
		return true
	}
	return c.address != "" && involved[c.address]
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *Client) idleSince(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive.Before(cutoff)
}
