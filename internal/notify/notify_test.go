package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/nft-marketplace/internal/marketplace"
)

type published struct {
	subject string
	data    []byte
	opts    int
}

// fakeJetStream records publishes; every other method panics.
type fakeJetStream struct {
	jetstream.JetStream
	msgs []published
	err  error
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data, opts: len(opts)})
	return &jetstream.PubAck{Stream: StreamName, Sequence: uint64(len(f.msgs))}, nil
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "mkt.events.sold_to_market", Subject(marketplace.EventSoldToMarket))
	assert.Equal(t, "mkt.events.listed", Subject(marketplace.EventListed))
}

func TestPublisherNotify(t *testing.T) {
	js := &fakeJetStream{}
	p := NewNATSPublisher(js, nil)

	evt := marketplace.Event{ID: "evt-1", Type: marketplace.EventPurged, AssetID: 4}
	require.NoError(t, p.Notify(context.Background(), evt))

	require.Len(t, js.msgs, 1)
	assert.Equal(t, "mkt.events.purged", js.msgs[0].subject)
	assert.Equal(t, 1, js.msgs[0].opts, "message id is set")

	var got marketplace.Event
	require.NoError(t, json.Unmarshal(js.msgs[0].data, &got))
	assert.Equal(t, evt.ID, got.ID)
	assert.Equal(t, int64(4), got.AssetID)

	js.err = nats.ErrTimeout
	err := p.Notify(context.Background(), evt)
	assert.ErrorIs(t, err, nats.ErrTimeout)
}

func TestMultiDeliversToEverySink(t *testing.T) {
	var first, third []string
	boom := errors.New("boom")

	m := NewMulti(
		marketplace.NotifierFunc(func(_ context.Context, evt marketplace.Event) error {
			first = append(first, evt.ID)
			return nil
		}),
		nil,
		marketplace.NotifierFunc(func(context.Context, marketplace.Event) error { return boom }),
		marketplace.NotifierFunc(func(_ context.Context, evt marketplace.Event) error {
			third = append(third, evt.ID)
			return nil
		}),
	)
	require.Len(t, m, 3)

	err := m.Notify(context.Background(), marketplace.Event{ID: "a"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, first)
	assert.Equal(t, []string{"a"}, third)

	assert.NoError(t, NewMulti().Notify(context.Background(), marketplace.Event{ID: "b"}))
}
