package cart

import (
	"sync"

	"github.com/jadwer/localcart/internal/domain"
)

// Broadcaster fans a mutated document out to sibling subscribers in the same
// context, so they update without each re-reading storage. Cross-context
// observers rely on the store's own change notifications instead.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[int]func(*domain.Cart)
	nextID    int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[int]func(*domain.Cart))}
}

// Subscribe registers a listener and returns its unsubscribe function.
func (b *Broadcaster) Subscribe(fn func(*domain.Cart)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Publish delivers doc to every subscriber synchronously, in the caller's
// goroutine.
func (b *Broadcaster) Publish(doc *domain.Cart) {
	b.mu.RLock()
	listeners := make([]func(*domain.Cart), 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()

	for _, fn := range listeners {
		fn(doc)
	}
}
