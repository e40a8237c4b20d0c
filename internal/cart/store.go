package cart

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/jadwer/localcart/internal/domain"
	"github.com/jadwer/localcart/internal/kvstore"
)

// Well-known keys in the origin-scoped store. CartKey holds the persisted
// cart document; PendingKey holds the session-scoped handoff payload.
const (
	CartKey    = "localcart:cart"
	PendingKey = "localcart:pending"
)

// DocumentStore owns (de)serialization of the cart document on top of the
// raw byte store. All cart writes funnel through it.
type DocumentStore struct {
	kv kvstore.Store
}

func NewDocumentStore(kv kvstore.Store) *DocumentStore {
	return &DocumentStore{kv: kv}
}

// Load reads the persisted document. A missing key yields an empty document;
// malformed bytes are logged and reset to an empty document rather than
// surfacing; corruption must never take the cart down.
func (s *DocumentStore) Load(ctx context.Context) *domain.Cart {
	data, err := s.kv.Get(ctx, CartKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrKeyNotFound) {
			log.Printf("cart load failed, starting empty: %v", err)
		}
		return &domain.Cart{}
	}

	doc, err := Decode(data)
	if err != nil {
		log.Printf("cart document corrupted, resetting: %v", err)
		return &domain.Cart{}
	}
	return doc
}

// Save persists the document. Write failures are logged and swallowed: the
// in-memory state stays the source of truth for this context and durability
// is best-effort.
func (s *DocumentStore) Save(ctx context.Context, doc *domain.Cart) {
	data, err := Encode(doc)
	if err != nil {
		log.Printf("cart marshal failed: %v", err)
		return
	}
	s.SaveRaw(ctx, data)
}

// SaveRaw writes already-encoded document bytes, with the same best-effort
// durability as Save.
func (s *DocumentStore) SaveRaw(ctx context.Context, data []byte) {
	if err := s.kv.Set(ctx, CartKey, data); err != nil {
		log.Printf("cart save failed, keeping in-memory state: %v", err)
	}
}

// Subscribe relays raw changes of the cart key to fn. Other keys are ignored.
func (s *DocumentStore) Subscribe(fn func(value []byte)) func() {
	return s.kv.Subscribe(func(key string, value []byte) {
		if key == CartKey {
			fn(value)
		}
	})
}

// Encode serializes a cart document.
func Encode(doc *domain.Cart) ([]byte, error) {
	return json.Marshal(doc)
}

// Decode parses a raw cart document.
func Decode(data []byte) (*domain.Cart, error) {
	var doc domain.Cart
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
