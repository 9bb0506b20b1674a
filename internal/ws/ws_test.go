package ws

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/marketplace"
	"github.com/leafsii/nft-marketplace/internal/store"
)

var (
	sellerAddr = address.MustParse("0x0000000000000000000000000000000000000051")
	buyerAddr  = address.MustParse("0x0000000000000000000000000000000000000052")
	otherAddr  = address.MustParse("0x0000000000000000000000000000000000000099")
)

func soldEvent(assetID int64) marketplace.Event {
	price := decimal.NewFromInt(100)
	listing := &marketplace.Listing{AssetID: assetID, Seller: sellerAddr, RoyaltyShareCount: 1, Price: price}
	return marketplace.Event{
		ID:      "evt-sold",
		Type:    marketplace.EventSold,
		AssetID: assetID,
		Actor:   buyerAddr,
		Price:   &price,
		Before:  listing,
		Receipt: &marketplace.Receipt{
			Kind:    marketplace.SaleDirect,
			AssetID: assetID,
			Buyer:   buyerAddr,
			Seller:  sellerAddr,
			Price:   price,
		},
		Timestamp: time.Now().UTC(),
	}
}

func TestInvolved(t *testing.T) {
	got := involved(soldEvent(1))
	assert.True(t, got[sellerAddr])
	assert.True(t, got[buyerAddr])
	assert.False(t, got[otherAddr])
	assert.False(t, got[address.Zero])
}

func TestParseTypes(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{"all by default", "", store.AllEventChannels(), false},
		{"single", "sold", []string{"mkt:events:SOLD"}, false},
		{"mixed case and spaces", "Listed, sold_to_market", []string{"mkt:events:LISTED", "mkt:events:SOLD_TO_MARKET"}, false},
		{"unknown", "minted", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTypes(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientWants(t *testing.T) {
	c := &Client{topics: map[string]bool{}}
	accounts := involved(soldEvent(1))

	assert.False(t, c.wants("mkt:events:SOLD", accounts))

	c.topics["mkt:events:SOLD"] = true
	assert.True(t, c.wants("mkt:events:SOLD", accounts))
	assert.False(t, c.wants("mkt:events:LISTED", nil))

	c.topics = map[string]bool{TopicAllEvents: true}
	assert.True(t, c.wants("mkt:events:LISTED", nil))

	c.topics = map[string]bool{}
	c.address = buyerAddr
	assert.True(t, c.wants("mkt:events:SOLD", accounts))
	c.address = otherAddr
	assert.False(t, c.wants("mkt:events:SOLD", accounts))
}

func readSSE(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if event != "" {
				return event, data
			}
		}
	}
}

func TestSSEStreamsFilteredEvents(t *testing.T) {
	cache := store.NewInMemoryCache(nil)
	defer cache.Close()

	srv := httptest.NewServer(http.HandlerFunc(NewSSEHandler(cache, nil).HandleSSE))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?types=sold&address="+buyerAddr.String(), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	event, _ := readSSE(t, reader)
	require.Equal(t, "connected", event)

	notifyCtx := context.Background()
	// filtered out by type, then by address
	require.NoError(t, cache.Notify(notifyCtx, marketplace.Event{ID: "x", Type: marketplace.EventListed, Actor: buyerAddr}))
	other := soldEvent(2)
	other.Actor, other.Receipt.Buyer = otherAddr, otherAddr
	other.Before.Seller, other.Receipt.Seller = otherAddr, otherAddr
	require.NoError(t, cache.Notify(notifyCtx, other))
	require.NoError(t, cache.Notify(notifyCtx, soldEvent(3)))

	event, data := readSSE(t, reader)
	assert.Equal(t, "sold", event)
	var evt marketplace.Event
	require.NoError(t, json.Unmarshal([]byte(data), &evt))
	assert.Equal(t, int64(3), evt.AssetID)
}

func TestSSERejectsBadQuery(t *testing.T) {
	cache := store.NewInMemoryCache(nil)
	defer cache.Close()
	h := NewSSEHandler(cache, nil)

	for _, q := range []string{"?types=bogus", "?address=nope"} {
		rec := httptest.NewRecorder()
		h.HandleSSE(rec, httptest.NewRequest(http.MethodGet, "/stream"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestHubDeliversSubscribedEvents(t *testing.T) {
	cache := store.NewInMemoryCache(nil)
	defer cache.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(cache, nil, nil, nil)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSSubscriptionRequest{Type: "subscribe", Topics: []string{TopicAllEvents}}))

	require.Eventually(t, func() bool {
		if cache.LocalSubscribers(store.EventChannel(marketplace.EventSold)) == 0 {
			return false
		}
		hub.mu.Lock()
		defer hub.mu.Unlock()
		for c := range hub.clients {
			c.mu.Lock()
			ok := c.topics[TopicAllEvents]
			c.mu.Unlock()
			if ok {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, hub.Clients())

	require.NoError(t, cache.Notify(context.Background(), soldEvent(9)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "update", msg.Type)
	assert.Equal(t, "mkt:events:SOLD", msg.Topic)

	var evt marketplace.Event
	require.NoError(t, json.Unmarshal(msg.Data, &evt))
	assert.Equal(t, int64(9), evt.AssetID)
}
