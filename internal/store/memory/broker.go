// Package memory is the in-process stand-in for the Redis pub/sub broker,
// used when no Redis address is configured.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by operations on a closed Broker.
var ErrClosed = errors.New("memory: broker closed")

const subscriberBuffer = 64

type subscriber struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		close(s.ch)
	})
}

// Broker delivers published payloads to every subscriber of a channel.
// Payloads are snapshots, so a subscriber that falls behind loses its oldest
// pending payload rather than blocking the publisher.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*subscriber]struct{})}
}

// Publish hands payload to every current subscriber of channel.
func (b *Broker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("memory.Broker.Publish: %w", ErrClosed)
	}
	for s := range b.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- msg:
			default:
			}
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel. The returned
// channel closes when ctx ends, cleanup is called or the broker is closed.
func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, nil, fmt.Errorf("memory.Broker.Subscribe: %w", ErrClosed)
	}
	s := &subscriber{ch: make(chan []byte, subscriberBuffer), done: make(chan struct{})}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*subscriber]struct{})
	}
	b.subs[channel][s] = struct{}{}
	b.mu.Unlock()

	cleanup := func() {
		b.mu.Lock()
		delete(b.subs[channel], s)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
		b.mu.Unlock()
		s.close()
	}

	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-s.done:
		}
	}()

	return s.ch, cleanup, nil
}

// Close closes every subscription.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, set := range b.subs {
		for s := range set {
			s.close()
		}
	}
	b.subs = nil
	return nil
}
