package store

import (
	"context"
	"sync"
	"sync/atomic"
)

// localBuffer is the per-subscription backlog before events are dropped.
const localBuffer = 256

// LocalMessage is one event payload delivered by the local broker.
type LocalMessage struct {
	Channel string
	Payload string
}

// LocalSubscription receives broker messages for a fixed set of channels.
// It plays the role of redis.PubSub when the cache runs without Redis.
type LocalSubscription struct {
	channels map[string]bool
	msgChan  chan *LocalMessage
	closeCh  chan struct{}
	dropped  atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

func newLocalSubscription(channels []string) *LocalSubscription {
	set := make(map[string]bool, len(channels))
	for _, ch := range channels {
		set[ch] = true
	}
	return &LocalSubscription{
		channels: set,
		msgChan:  make(chan *LocalMessage, localBuffer),
		closeCh:  make(chan struct{}),
	}
}

// Channel yields messages until the subscription is closed.
func (s *LocalSubscription) Channel() <-chan *LocalMessage {
	return s.msgChan
}

// Dropped counts messages lost because the subscriber fell behind.
func (s *LocalSubscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *LocalSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.closeCh)
		close(s.msgChan)
	}
	return nil
}

// deliver never blocks the publisher; a full backlog drops msg.
func (s *LocalSubscription) deliver(msg *LocalMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || !s.channels[msg.Channel] {
		return
	}

	select {
	case s.msgChan <- msg:
	default:
		s.dropped.Add(1)
	}
}

// LocalBroker fans published marketplace events out to in-process subscribers.
type LocalBroker struct {
	mu          sync.RWMutex
	subscribers map[string][]*LocalSubscription
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{
		subscribers: make(map[string][]*LocalSubscription),
	}
}

// Subscribe registers a subscription on channels. It is removed from the
// broker when closed or when ctx ends.
func (b *LocalBroker) Subscribe(ctx context.Context, channels ...string) *LocalSubscription {
	sub := newLocalSubscription(channels)

	b.mu.Lock()
	for _, channel := range channels {
		b.subscribers[channel] = append(b.subscribers[channel], sub)
	}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closeCh:
		}
		b.remove(sub, channels)
	}()

	return sub
}

func (b *LocalBroker) remove(sub *LocalSubscription, channels []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, channel := range channels {
		subs := b.subscribers[channel]
		for i, s := range subs {
			if s == sub {
				b.subscribers[channel] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subscribers[channel]) == 0 {
			delete(b.subscribers, channel)
		}
	}
}

// Publish delivers payload to every live subscription on channel.
func (b *LocalBroker) Publish(channel, payload string) {
	b.mu.RLock()
	subs := append([]*LocalSubscription(nil), b.subscribers[channel]...)
	b.mu.RUnlock()

	msg := &LocalMessage{Channel: channel, Payload: payload}
	for _, s := range subs {
		s.deliver(msg)
	}
}

// Subscribers returns the number of live subscriptions on channel.
func (b *LocalBroker) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[channel])
}
