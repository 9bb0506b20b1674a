package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/marketplace"
	"github.com/leafsii/nft-marketplace/internal/store"
)

const heartbeatInterval = 30 * time.Second

type SSEHandler struct {
	cache     *store.Cache
	logger    *zap.SugaredLogger
	heartbeat time.Duration
}

func NewSSEHandler(cache *store.Cache, logger *zap.SugaredLogger) *SSEHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SSEHandler{
		cache:     cache,
		logger:    logger,
		heartbeat: heartbeatInterval,
	}
}

type delivery struct {
	channel string
	payload string
}

// HandleSSE streams marketplace events. Query parameters:
//
//	types    comma-separated event types (listed, sold, ...); all when empty
//	address  only events involving this account
func (h *SSEHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	channels, err := parseTypes(r.URL.Query().Get("types"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var filter address.Address
	if raw := r.URL.Query().Get("address"); raw != "" {
		if filter, err = address.Parse(raw); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.logger.Debugw("SSE connection established", "channels", channels, "address", filter)

	source := h.subscribe(ctx, channels)
	if source == nil {
		h.logger.Warnw("No PubSub available; SSE updates disabled for this connection")
		h.sendEvent(w, "connected", "no-pubsub", nil)
		return
	}
	h.stream(ctx, w, source, filter)
}

// subscribe bridges the Redis or in-memory subscription onto one channel.
func (h *SSEHandler) subscribe(ctx context.Context, channels []string) <-chan delivery {
	out := make(chan delivery, 16)

	if pubsub := h.cache.Subscribe(ctx, channels...); pubsub != nil {
		go func() {
			defer close(out)
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
					select {
					case out <- delivery{channel: msg.Channel, payload: msg.Payload}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		return out
	}

	if sub := h.cache.SubscribeLocal(ctx, channels...); sub != nil {
		go func() {
			defer close(out)
			defer sub.Close()
			ch := sub.Channel()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- delivery{channel: msg.Channel, payload: msg.Payload}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		return out
	}

	return nil
}

func (h *SSEHandler) stream(ctx context.Context, w http.ResponseWriter, source <-chan delivery, filter address.Address) {
	h.sendEvent(w, "connected", "connected", nil)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("SSE client disconnected")
			return

		case <-heartbeat.C:
			h.sendEvent(w, "heartbeat", "ping", map[string]interface{}{
				"timestamp": time.Now().Unix(),
			})

		case msg, ok := <-source:
			if !ok {
				return
			}
			var evt marketplace.Event
			if err := json.Unmarshal([]byte(msg.payload), &evt); err != nil {
				h.logger.Warnw("Failed to parse message payload", "channel", msg.channel, "error", err)
				continue
			}
			if !filter.IsZero() && !involved(evt)[filter] {
				continue
			}
			h.sendEvent(w, strings.ToLower(string(evt.Type)), evt.ID, evt)
		}
	}
}

func parseTypes(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return store.AllEventChannels(), nil
	}
	known := make(map[string]marketplace.EventType, len(marketplace.AllEventTypes))
	for _, t := range marketplace.AllEventTypes {
		known[strings.ToLower(string(t))] = t
	}

	var channels []string
	for _, part := range strings.Split(raw, ",") {
		t, ok := known[strings.ToLower(strings.TrimSpace(part))]
		if !ok {
			return nil, fmt.Errorf("unknown event type %q", part)
		}
		channels = append(channels, store.EventChannel(t))
	}
	return channels, nil
}

func (h *SSEHandler) sendEvent(w http.ResponseWriter, eventType, id string, data interface{}) {
	payload := []byte("{}")
	if data != nil {
		var err error
		if payload, err = json.Marshal(data); err != nil {
			h.logger.Errorw("Failed to marshal SSE data", "error", err)
			return
		}
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "id: %s\n", id)
	fmt.Fprintf(w, "data: %s\n\n", payload)

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
