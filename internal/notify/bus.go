// Package notify fans reaction change events out to local subscribers.
package notify

import (
	"sync"

	"github.com/gwillem/signal-reactions/internal/reaction"
)

const subscriberBuffer = 64

type subscriber struct {
	name string
	ch   chan reaction.Event
}

// Bus delivers every published event to all subscribers. Each subscriber has
// a buffered channel; events for a slow subscriber are dropped.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	closed bool
}

var _ reaction.Notifier = (*Bus)(nil)

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a named subscriber and returns its channel.
func (b *Bus) Subscribe(name string) <-chan reaction.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscriber{name: name, ch: make(chan reaction.Event, subscriberBuffer)}
	if b.closed {
		close(sub.ch)
		return sub.ch
	}
	b.subs = append(b.subs, sub)
	return sub.ch
}

// Unsubscribe removes the named subscriber and closes its channel.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.name == name {
			close(sub.ch)
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// ReactionChanged publishes e to all subscribers without blocking.
func (b *Bus) ReactionChanged(e reaction.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- e:
		default: // drop if slow
		}
	}
}

// Close closes all subscriber channels. Later events are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
