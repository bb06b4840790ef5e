package webmonitor

import (
	"sync"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/logger"
)

// Broadcaster fans values out to subscribers. Slow subscribers miss values
// rather than blocking the publisher.
type Broadcaster[T any] struct {
	name    string
	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
	buffer  int
	closed  bool
	dropped uint64
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold buffer values.
func NewBroadcaster[T any](name string, buffer int) *Broadcaster[T] {
	if buffer <= 0 {
		buffer = 2
	}
	return &Broadcaster[T]{
		name:    name,
		clients: make(map[int]chan T),
		buffer:  buffer,
	}
}

// Subscribe adds a new client and returns a channel for receiving values.
// The channel is closed on Unsubscribe or Close.
func (b *Broadcaster[T]) Subscribe() (int, <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan T, b.buffer)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.clients[id] = ch

	logger.Debug(b.name, "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *Broadcaster[T]) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		logger.Debug(b.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// Broadcast sends v to every client without blocking.
func (b *Broadcaster[T]) Broadcast(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.clients {
		select {
		case ch <- v:
		default:
			// Client too slow, skip this value for this client
			b.dropped++
		}
	}
}

// Clients returns the number of subscribers.
func (b *Broadcaster[T]) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every subscriber.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}
