package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jadwer/localcart/internal/cart"
	"github.com/jadwer/localcart/internal/domain"
	"github.com/jadwer/localcart/internal/kvstore"
)

// callLog records the order of observable side effects across the doubles.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) record(call string) {
	l.mu.Lock()
	l.calls = append(l.calls, call)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

type mockSyncClient struct {
	log    *callLog
	cartID string
	quote  *QuoteResult
	err    error

	mu          sync.Mutex
	syncedItems []SyncItem
	quoteReqs   []QuoteRequest
}

func (m *mockSyncClient) CreateCart(_ context.Context, items []SyncItem) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.log.record("create-cart")
	m.mu.Lock()
	m.syncedItems = items
	m.mu.Unlock()
	return m.cartID, nil
}

func (m *mockSyncClient) RequestQuote(_ context.Context, req QuoteRequest) (*QuoteResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.log.record("request-quote")
	m.mu.Lock()
	m.quoteReqs = append(m.quoteReqs, req)
	m.mu.Unlock()
	return m.quote, nil
}

type mockNavigator struct {
	log      *callLog
	mu       sync.Mutex
	paths    []string
	replaced []string
}

func (m *mockNavigator) NavigateTo(path string) {
	m.log.record("navigate")
	m.mu.Lock()
	m.paths = append(m.paths, path)
	m.mu.Unlock()
}

func (m *mockNavigator) ReplaceURL(path string) {
	m.mu.Lock()
	m.replaced = append(m.replaced, path)
	m.mu.Unlock()
}

func (m *mockNavigator) lastPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.paths) == 0 {
		return ""
	}
	return m.paths[len(m.paths)-1]
}

type mockSession struct{ authenticated bool }

func (m mockSession) IsAuthenticated(context.Context) bool { return m.authenticated }

type fixture struct {
	binding     *cart.Binding
	coordinator *Coordinator
	client      *mockSyncClient
	nav         *mockNavigator
	session     *kvstore.MemoryStore
	log         *callLog
}

func newFixture(t *testing.T, authenticated bool) *fixture {
	t.Helper()
	log := &callLog{}
	kv := kvstore.NewMemoryStore()
	binding := cart.NewBinding(cart.NewDocumentStore(kv), cart.NewBroadcaster())
	t.Cleanup(binding.Close)
	binding.Activate(context.Background())

	// an empty items write is the observable "clear" side effect
	kv.Subscribe(func(key string, value []byte) {
		if key != cart.CartKey {
			return
		}
		if doc, err := cart.Decode(value); err == nil && len(doc.Items) == 0 {
			log.record("clear")
		}
	})

	client := &mockSyncClient{
		log:    log,
		cartID: "srv-cart-42",
		quote:  &QuoteResult{Success: true, Message: "created", QuoteNumber: "Q-1", QuoteTotal: 232},
	}
	nav := &mockNavigator{log: log}
	session := kvstore.NewMemoryStore()

	coordinator := NewCoordinator(
		binding, session, client, mockSession{authenticated}, nav,
		"/auth/login", "/checkout",
	)
	return &fixture{binding, coordinator, client, nav, session, log}
}

func (f *fixture) seedCart(t *testing.T, productID string, price float64, quantity int) {
	t.Helper()
	iva := true
	err := f.binding.AddToCart(context.Background(), domain.Product{
		ProductID: productID,
		Name:      "Product " + productID,
		Price:     price,
		IVA:       &iva,
	}, quantity)
	require.NoError(t, err)
}

func TestSyncToCheckout_ClearsOnlyAfterNavigation(t *testing.T) {
	f := newFixture(t, true)
	f.seedCart(t, "1", 100, 2)

	require.NoError(t, f.coordinator.SyncToCheckout(context.Background(), "/cart"))

	calls := f.log.snapshot()
	require.Equal(t, []string{"create-cart", "navigate", "clear"}, calls)
	assert.Equal(t, "/checkout", f.nav.lastPath())
	assert.Empty(t, f.binding.Document().Items)
}

func TestSyncToCheckout_StashesServerCartID(t *testing.T) {
	f := newFixture(t, true)
	f.seedCart(t, "1", 100, 2)
	ctx := context.Background()

	require.NoError(t, f.coordinator.SyncToCheckout(ctx, "/cart"))

	id, err := f.session.Get(ctx, CheckoutCartKey)
	require.NoError(t, err)
	assert.Equal(t, "srv-cart-42", string(id))
	assert.Equal(t, []SyncItem{{ProductID: "1", Quantity: 2}}, f.client.syncedItems)
}

func TestSyncToCheckout_FailureLeavesCartUntouched(t *testing.T) {
	f := newFixture(t, true)
	f.seedCart(t, "1", 100, 2)
	f.client.err = fmt.Errorf("backend down")

	err := f.coordinator.SyncToCheckout(context.Background(), "/cart")

	require.ErrorContains(t, err, "backend down")
	assert.Equal(t, 2, f.binding.GetQuantity("1"))
	assert.Empty(t, f.nav.paths)
	_, getErr := f.session.Get(context.Background(), CheckoutCartKey)
	assert.ErrorIs(t, getErr, kvstore.ErrKeyNotFound)
}

func TestSyncToCheckout_EmptyCart(t *testing.T) {
	f := newFixture(t, true)

	err := f.coordinator.SyncToCheckout(context.Background(), "/cart")
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestSyncToCheckout_Unauthenticated_ParksAndRedirects(t *testing.T) {
	f := newFixture(t, false)
	f.seedCart(t, "1", 100, 2)
	ctx := context.Background()

	require.NoError(t, f.coordinator.SyncToCheckout(ctx, "/cart"))

	// cart untouched, no sync call, user sent to login with a checkout marker
	assert.Equal(t, 2, f.binding.GetQuantity("1"))
	assert.Nil(t, f.client.syncedItems)
	assert.Equal(t, "/auth/login?redirect=%2Fcart%3Faction%3Dcheckout", f.nav.lastPath())

	parked, err := f.session.Get(ctx, cart.PendingKey)
	require.NoError(t, err)
	assert.Contains(t, string(parked), `"productId":"1"`)
}

func TestRequestQuote_InlineClearsCart(t *testing.T) {
	f := newFixture(t, true)
	f.seedCart(t, "7", 100, 2)

	result, err := f.coordinator.RequestQuote(context.Background(), "/cart", "urgent")

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, "Q-1", result.QuoteNumber)
	assert.Empty(t, f.binding.Document().Items)

	require.Len(t, f.client.quoteReqs, 1)
	assert.Equal(t, "urgent", f.client.quoteReqs[0].Notes)
	assert.Equal(t, []QuoteItem{{ProductID: 7, Quantity: 2}}, f.client.quoteReqs[0].Items)
}

func TestRequestQuote_RejectedQuoteKeepsCart(t *testing.T) {
	f := newFixture(t, true)
	f.seedCart(t, "7", 100, 2)
	f.client.quote = &QuoteResult{Success: false, Message: "credit hold"}

	result, err := f.coordinator.RequestQuote(context.Background(), "/cart", "")

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, "credit hold", result.Message)

	// a rejected quote never took the items; the user can retry
	assert.Equal(t, 2, f.binding.GetQuantity("7"))

	_, retryErr := f.coordinator.RequestQuote(context.Background(), "/cart", "")
	require.NoError(t, retryErr)
	assert.Len(t, f.client.quoteReqs, 2)
}

func TestRequestQuote_FailureLeavesCartUntouched(t *testing.T) {
	f := newFixture(t, true)
	f.seedCart(t, "1", 100, 2)
	f.client.err = fmt.Errorf("backend down")

	_, err := f.coordinator.RequestQuote(context.Background(), "/cart", "")

	require.ErrorContains(t, err, "backend down")
	assert.Equal(t, 2, f.binding.GetQuantity("1"))
}

func TestRequestQuote_Unauthenticated_ParksAndRedirects(t *testing.T) {
	f := newFixture(t, false)
	f.seedCart(t, "1", 100, 2)

	result, err := f.coordinator.RequestQuote(context.Background(), "/cart", "")

	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, "/auth/login?redirect=%2Fcart%3Faction%3Dquote", f.nav.lastPath())
	assert.Equal(t, 2, f.binding.GetQuantity("1"))
}

func TestResume_QuoteMarkerRunsOnce(t *testing.T) {
	f := newFixture(t, true)
	f.seedCart(t, "7", 100, 2)
	ctx := context.Background()

	result, err := f.coordinator.Resume(ctx, "/cart?action=quote")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)
	require.Len(t, f.client.quoteReqs, 1)

	// marker stripped from the URL
	require.Len(t, f.nav.replaced, 1)
	assert.Equal(t, "/cart", f.nav.replaced[0])

	// a second resume in the same lifetime is inert
	f.seedCart(t, "8", 10, 1)
	result, err = f.coordinator.Resume(ctx, "/cart?action=quote")
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Len(t, f.client.quoteReqs, 1)
}

func TestResume_CheckoutMarker(t *testing.T) {
	f := newFixture(t, true)
	f.seedCart(t, "1", 100, 2)

	_, err := f.coordinator.Resume(context.Background(), "/cart?action=checkout&tab=summary")
	require.NoError(t, err)

	assert.Equal(t, []string{"create-cart", "navigate", "clear"}, f.log.snapshot())
	require.Len(t, f.nav.replaced, 1)
	assert.Equal(t, "/cart?tab=summary", f.nav.replaced[0])
}

func TestResume_NoMarkerDoesNothing(t *testing.T) {
	f := newFixture(t, true)
	f.seedCart(t, "1", 100, 2)

	result, err := f.coordinator.Resume(context.Background(), "/cart")
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Empty(t, f.log.snapshot())

	// the guard is still pending: a later marker may run
	result, err = f.coordinator.Resume(context.Background(), "/cart?action=quote")
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestResume_WithoutSessionDoesNotFire(t *testing.T) {
	f := newFixture(t, false)
	f.seedCart(t, "1", 100, 2)

	result, err := f.coordinator.Resume(context.Background(), "/cart?action=quote")
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Empty(t, f.client.quoteReqs)
	assert.Equal(t, 2, f.binding.GetQuantity("1"))
}

func TestResume_EmptyCartDoesNotFire(t *testing.T) {
	f := newFixture(t, true)

	result, err := f.coordinator.Resume(context.Background(), "/cart?action=checkout")
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Empty(t, f.log.snapshot())
}

func TestResume_RestoresParkedCart(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// a parked payload from before the login hop, local cart empty
	iva := true
	parked, err := json.Marshal([]domain.CartItem{
		{ID: "li-1", ProductID: "7", Name: "Product 7", Price: 100, Quantity: 2, IVA: &iva},
	})
	require.NoError(t, err)
	require.NoError(t, f.session.Set(ctx, cart.PendingKey, parked))

	result, err := f.coordinator.Resume(ctx, "/cart?action=quote")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)

	// the quote was built from the restored items and consumed the payload
	require.Len(t, f.client.quoteReqs, 1)
	assert.Equal(t, []QuoteItem{{ProductID: 7, Quantity: 2}}, f.client.quoteReqs[0].Items)
	_, getErr := f.session.Get(ctx, cart.PendingKey)
	assert.ErrorIs(t, getErr, kvstore.ErrKeyNotFound)
}

func TestRequestQuote_NonNumericProductID(t *testing.T) {
	f := newFixture(t, true)
	f.seedCart(t, "abc", 100, 2)

	_, err := f.coordinator.RequestQuote(context.Background(), "/cart", "")
	require.ErrorContains(t, err, "not numeric")
	assert.Equal(t, 2, f.binding.GetQuantity("abc"))
}
