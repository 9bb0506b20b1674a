package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/leafsii/nft-marketplace/internal/marketplace"
)

const (
	StreamName    = "MKT_EVENTS"
	SubjectPrefix = "mkt.events"
)

// Subject is the JetStream subject for events of type t, e.g. mkt.events.sold.
func Subject(t marketplace.EventType) string {
	return SubjectPrefix + "." + strings.ToLower(string(t))
}

// Connect dials NATS and returns a JetStream handle on the connection.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("nft-marketplace"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}

// EnsureStream creates the events stream if it does not exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create events stream: %w", err)
	}
	return nil
}

// NATSPublisher writes events to JetStream. The event id is used as the message
// id so retried publishes are deduplicated by the server.
type NATSPublisher struct {
	js     jetstream.JetStream
	logger *zap.SugaredLogger
}

func NewNATSPublisher(js jetstream.JetStream, logger *zap.SugaredLogger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &NATSPublisher{js: js, logger: logger}
}

func (p *NATSPublisher) Notify(ctx context.Context, evt marketplace.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := Subject(evt.Type)
	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(evt.ID))
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debugw("Published event", "subject", subject, "stream", ack.Stream, "seq", ack.Sequence, "duplicate", ack.Duplicate)
	return nil
}
