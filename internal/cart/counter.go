package cart

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/jadwer/localcart/internal/domain"
)

// Counter is the lightweight read-only projection for UI elements that only
// need the item count (a header badge). It never loads the full snapshot into
// reactive state and never writes to storage; it follows the broadcaster and
// the store's change notifications and re-reads just the aggregate.
type Counter struct {
	store *DocumentStore
	bus   *Broadcaster

	mu    sync.RWMutex
	count int

	sfg singleflight.Group // collapses notification bursts into one re-read
	gen atomic.Uint64      // bumped per notification; detects writes that land mid-read

	onChange     map[int]func(count int)
	nextChangeID int

	unsubscribes []func()
}

func NewCounter(store *DocumentStore, bus *Broadcaster) *Counter {
	return &Counter{
		store:    store,
		bus:      bus,
		onChange: make(map[int]func(int)),
	}
}

// Activate seeds the count and starts following both channels.
func (c *Counter) Activate(ctx context.Context) {
	c.refresh(ctx)
	c.unsubscribes = append(c.unsubscribes,
		c.bus.Subscribe(func(*domain.Cart) { c.noteChange() }),
		c.store.Subscribe(func([]byte) { c.noteChange() }),
	)
}

// Close detaches the counter from both channels.
func (c *Counter) Close() {
	for _, unsub := range c.unsubscribes {
		unsub()
	}
	c.unsubscribes = nil
}

// Count returns the last observed item count.
func (c *Counter) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}

// OnChange registers a callback fired with the fresh count after every
// refresh. Returns the unsubscribe function.
func (c *Counter) OnChange(fn func(count int)) func() {
	c.mu.Lock()
	id := c.nextChangeID
	c.nextChangeID++
	c.onChange[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.onChange, id)
		c.mu.Unlock()
	}
}

func (c *Counter) noteChange() {
	c.gen.Add(1)
	c.refresh(context.Background())
}

// genCount pairs a read result with the change generation current when the
// read began.
type genCount struct {
	gen   uint64
	count int
}

// refresh re-reads the aggregate from storage. Concurrent notifications for
// the same key share a single read; a shared read may have started before the
// write that triggered this notification, so a result is only installed when
// no write landed after the read began, and discarded and retried otherwise.
func (c *Counter) refresh(ctx context.Context) {
	for {
		v, _, _ := c.sfg.Do(CartKey, func() (interface{}, error) {
			gen := c.gen.Load()
			doc := c.store.Load(ctx)
			return genCount{gen: gen, count: Totals(doc).ItemCount}, nil
		})
		gc := v.(genCount)
		if c.gen.Load() == gc.gen {
			c.install(gc.count)
			return
		}
	}
}

func (c *Counter) install(count int) {
	c.mu.Lock()
	changed := count != c.count
	c.count = count
	listeners := make([]func(int), 0, len(c.onChange))
	for _, fn := range c.onChange {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(count)
	}
}
