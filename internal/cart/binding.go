package cart

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"

	"github.com/jadwer/localcart/internal/domain"
)

var ErrNotInitialized = errors.New("cart binding not initialized")

// Binding is the reactive layer one consumer (a UI component, an HTTP
// handler) holds onto. It loads the persisted document exactly once on
// Activate, applies mutations through the engine, persists every mutation
// and broadcasts it to sibling bindings, and follows external changes
// arriving from other contexts through the store's notifications.
type Binding struct {
	store *DocumentStore
	bus   *Broadcaster

	// writeMu serializes whole mutations (compute, persist, broadcast) so
	// concurrent callers never persist out of order.
	writeMu sync.Mutex

	mu          sync.RWMutex
	doc         *domain.Cart
	totals      domain.CartTotals
	totalsDirty bool
	initialized bool
	lastWrite   []byte

	onChange     map[int]func()
	nextChangeID int

	unsubscribes []func()
}

func NewBinding(store *DocumentStore, bus *Broadcaster) *Binding {
	return &Binding{
		store:    store,
		bus:      bus,
		onChange: make(map[int]func()),
	}
}

// Activate loads the snapshot and flips the binding to initialized. Until it
// runs, cart contents are not authoritative and mutations are rejected.
// Calling Activate twice is a no-op.
func (b *Binding) Activate(ctx context.Context) {
	b.mu.Lock()
	if b.initialized {
		b.mu.Unlock()
		return
	}
	b.doc = b.store.Load(ctx)
	b.totalsDirty = true
	b.initialized = true
	b.unsubscribes = append(b.unsubscribes,
		b.bus.Subscribe(b.acceptDocument),
		b.store.Subscribe(b.acceptRaw),
	)
	b.mu.Unlock()

	b.notify()
}

// Close detaches the binding from both notification channels.
func (b *Binding) Close() {
	b.mu.Lock()
	unsubs := b.unsubscribes
	b.unsubscribes = nil
	b.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// IsInitialized reports whether the snapshot has been loaded.
func (b *Binding) IsInitialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

// Document returns a copy of the current snapshot.
func (b *Binding) Document() *domain.Cart {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.doc == nil {
		return &domain.Cart{}
	}
	return cloneDocument(b.doc)
}

// Totals returns the aggregates, recomputing only when the snapshot changed
// since the last call.
func (b *Binding) Totals() domain.CartTotals {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.totalsDirty && b.doc != nil {
		b.totals = Totals(b.doc)
		b.totalsDirty = false
	}
	return b.totals
}

func (b *Binding) IsInCart(productID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.doc != nil && Contains(b.doc, productID)
}

func (b *Binding) GetQuantity(productID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.doc == nil {
		return 0
	}
	return Quantity(b.doc, productID)
}

// OnChange registers a re-render callback fired after every snapshot change,
// local or external. Returns the unsubscribe function.
func (b *Binding) OnChange(fn func()) func() {
	b.mu.Lock()
	id := b.nextChangeID
	b.nextChangeID++
	b.onChange[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.onChange, id)
		b.mu.Unlock()
	}
}

func (b *Binding) AddToCart(ctx context.Context, product domain.Product, quantity int) error {
	return b.mutate(ctx, func(doc *domain.Cart) {
		AddItem(doc, product, quantity)
	})
}

func (b *Binding) RemoveFromCart(ctx context.Context, productID string) error {
	return b.mutate(ctx, func(doc *domain.Cart) {
		RemoveItem(doc, productID)
	})
}

func (b *Binding) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	return b.mutate(ctx, func(doc *domain.Cart) {
		SetQuantity(doc, productID, quantity)
	})
}

func (b *Binding) IncrementQuantity(ctx context.Context, productID string, by int) error {
	return b.mutate(ctx, func(doc *domain.Cart) {
		IncrementQuantity(doc, productID, by)
	})
}

func (b *Binding) DecrementQuantity(ctx context.Context, productID string, by int) error {
	return b.mutate(ctx, func(doc *domain.Cart) {
		DecrementQuantity(doc, productID, by)
	})
}

func (b *Binding) ClearCart(ctx context.Context) error {
	return b.mutate(ctx, func(doc *domain.Cart) {
		Clear(doc)
	})
}

// mutate runs one engine operation over a copy of the snapshot, persists the
// result, installs it locally and publishes it to sibling bindings. The store
// write is what other contexts observe. writeMu is held across persist and
// publish so concurrent mutations each build on the previous one's document.
func (b *Binding) mutate(ctx context.Context, op func(*domain.Cart)) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.mu.Lock()
	if !b.initialized {
		b.mu.Unlock()
		return ErrNotInitialized
	}
	next := cloneDocument(b.doc)
	op(next)
	b.doc = next
	b.totalsDirty = true
	b.mu.Unlock()

	data, err := Encode(next)
	if err != nil {
		log.Printf("cart marshal failed: %v", err)
	} else {
		// Record the bytes before writing so the store's echo of this very
		// write is recognized and ignored.
		b.mu.Lock()
		b.lastWrite = data
		b.mu.Unlock()
		b.store.SaveRaw(ctx, data)
	}

	b.bus.Publish(cloneDocument(next))
	b.notify()
	return nil
}

// acceptDocument installs a document published by a sibling binding.
func (b *Binding) acceptDocument(doc *domain.Cart) {
	b.mu.Lock()
	if !b.initialized {
		b.mu.Unlock()
		return
	}
	b.doc = cloneDocument(doc)
	b.totalsDirty = true
	b.mu.Unlock()
	b.notify()
}

// acceptRaw handles a storage change from another context; the payload is
// re-parsed rather than trusted, and corruption falls back to empty. Echoes
// of this binding's own writes are dropped, they carry nothing new and could
// reinstall a stale snapshot over a newer local mutation.
func (b *Binding) acceptRaw(value []byte) {
	b.mu.RLock()
	own := b.lastWrite != nil && bytes.Equal(value, b.lastWrite)
	b.mu.RUnlock()
	if own {
		return
	}

	doc := &domain.Cart{}
	if value != nil {
		if parsed, err := Decode(value); err == nil {
			doc = parsed
		}
	}
	b.acceptDocument(doc)
}

func (b *Binding) notify() {
	b.mu.RLock()
	listeners := make([]func(), 0, len(b.onChange))
	for _, fn := range b.onChange {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()

	for _, fn := range listeners {
		fn()
	}
}

func cloneDocument(doc *domain.Cart) *domain.Cart {
	if doc == nil {
		return &domain.Cart{}
	}
	out := *doc
	out.Items = make([]domain.CartItem, len(doc.Items))
	copy(out.Items, doc.Items)
	return &out
}
