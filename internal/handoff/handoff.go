package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"sync"

	"github.com/jadwer/localcart/internal/cart"
	"github.com/jadwer/localcart/internal/domain"
	"github.com/jadwer/localcart/internal/kvstore"
)

var (
	ErrEmptyCart    = errors.New("cart is empty, nothing to hand off")
	ErrSyncInFlight = errors.New("a handoff is already in flight")
)

// CheckoutCartKey is where the server-side cart identifier is stashed for the
// checkout page to pick up.
const CheckoutCartKey = "localcart:checkout-cart"

// Markers carried in the login redirect query.
const (
	actionParam    = "action"
	actionQuote    = "quote"
	actionCheckout = "checkout"
)

// Session is the authentication oracle: the handoff only needs to know
// whether a session exists.
type Session interface {
	IsAuthenticated(ctx context.Context) bool
}

// Navigator abstracts navigation so the strict ordering of checkout side
// effects is observable in tests.
type Navigator interface {
	// NavigateTo initiates navigation to path. It must only initiate; the
	// caller continues running afterwards.
	NavigateTo(path string)

	// ReplaceURL rewrites the current location without navigating, used to
	// clear the resume marker.
	ReplaceURL(path string)
}

type resumeState int

const (
	resumePending resumeState = iota
	resumeInProgress
	resumeDone
)

// Coordinator runs the two one-shot flows that convert the local cart into a
// server-side record: the quote request and the checkout sync. Each can
// detour through an authentication redirect; the resume guard makes sure a
// deferred flow fires at most once per coordinator lifetime.
type Coordinator struct {
	binding *cart.Binding
	session kvstore.Store // session-scoped, survives only the redirect chain
	client  SyncClient
	auth    Session
	nav     Navigator

	loginPath    string
	checkoutPath string

	mu      sync.Mutex
	resume  resumeState
	syncing bool
	quoting bool
}

func NewCoordinator(binding *cart.Binding, session kvstore.Store, client SyncClient, auth Session, nav Navigator, loginPath, checkoutPath string) *Coordinator {
	return &Coordinator{
		binding:      binding,
		session:      session,
		client:       client,
		auth:         auth,
		nav:          nav,
		loginPath:    loginPath,
		checkoutPath: checkoutPath,
	}
}

// IsSyncingToCheckout reports whether a checkout sync call is in flight.
func (c *Coordinator) IsSyncingToCheckout() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncing
}

// IsRequestingQuote reports whether a quote call is in flight.
func (c *Coordinator) IsRequestingQuote() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quoting
}

// RequestQuote issues a quote for the current cart. Without a session the
// cart is parked in the session store and the user is sent to login with a
// quote marker on the return path; the flow resumes via Resume.
func (c *Coordinator) RequestQuote(ctx context.Context, returnPath, notes string) (*QuoteResult, error) {
	doc := c.binding.Document()
	if len(doc.Items) == 0 {
		return nil, ErrEmptyCart
	}

	if !c.auth.IsAuthenticated(ctx) {
		c.parkAndRedirect(ctx, doc, returnPath, actionQuote)
		return nil, nil
	}

	if !c.begin(&c.quoting) {
		return nil, ErrSyncInFlight
	}
	defer c.end(&c.quoting)

	req, err := buildQuoteRequest(doc.Items, notes)
	if err != nil {
		return nil, err
	}

	result, err := c.client.RequestQuote(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}

	// A transport-level 200 can still carry a rejected quote; only an
	// accepted quote takes ownership of the items.
	if result.Success {
		if err := c.binding.ClearCart(ctx); err != nil {
			log.Printf("failed to clear cart after quote: %v", err)
		}
		c.clearPending(ctx)
	}
	return result, nil
}

// SyncToCheckout converts the local cart into a server-side cart and sends
/// the user to checkout. The ordering is deliberate: sync, stash the server
// cart id, initiate navigation, and only then clear the local cart. Clearing
// first would flash an empty cart at anyone navigating back before the
// checkout page settles. A failed sync leaves the local cart untouched and
// navigates nowhere.
func (c *Coordinator) SyncToCheckout(ctx context.Context, returnPath string) error {
	doc := c.binding.Document()
	if len(doc.Items) == 0 {
		return ErrEmptyCart
	}

	if !c.auth.IsAuthenticated(ctx) {
		c.parkAndRedirect(ctx, doc, returnPath, actionCheckout)
		return nil
	}

	if !c.begin(&c.syncing) {
		return ErrSyncInFlight
	}
	defer c.end(&c.syncing)

	items := make([]SyncItem, len(doc.Items))
	for i, item := range doc.Items {
		items[i] = SyncItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	cartID, err := c.client.CreateCart(ctx, items)
	if err != nil {
		return fmt.Errorf("checkout sync failed: %w", err)
	}

	if err := c.session.Set(ctx, CheckoutCartKey, []byte(cartID)); err != nil {
		log.Printf("failed to stash checkout cart id: %v", err)
	}

	c.nav.NavigateTo(c.checkoutPath)

	if err := c.binding.ClearCart(ctx); err != nil {
		log.Printf("failed to clear cart after checkout sync: %v", err)
	}
	c.clearPending(ctx)
	return nil
}

// Resume inspects the current location for a quote/checkout marker left by a
// login redirect and, at most once per coordinator lifetime, replays the
// deferred flow. It requires a session and a non-empty cart; in every case
// where the marker is present it is stripped from the URL.
func (c *Coordinator) Resume(ctx context.Context, currentURL string) (*QuoteResult, error) {
	u, err := url.Parse(currentURL)
	if err != nil {
		return nil, fmt.Errorf("parse current url failed: %w", err)
	}

	action := u.Query().Get(actionParam)
	if action != actionQuote && action != actionCheckout {
		return nil, nil
	}

	c.mu.Lock()
	if c.resume != resumePending {
		c.mu.Unlock()
		return nil, nil
	}
	c.resume = resumeInProgress
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.resume = resumeDone
		c.mu.Unlock()
	}()

	c.nav.ReplaceURL(stripMarker(u))

	if !c.auth.IsAuthenticated(ctx) {
		return nil, nil
	}
	if len(c.binding.Document().Items) == 0 {
		// The local document normally survives the redirect; if it did not,
		// fall back to the payload parked before the login hop.
		c.restorePending(ctx)
	}
	if len(c.binding.Document().Items) == 0 {
		return nil, nil
	}

	switch action {
	case actionQuote:
		return c.RequestQuote(ctx, u.Path, "")
	case actionCheckout:
		return nil, c.SyncToCheckout(ctx, u.Path)
	}
	return nil, nil
}

// parkAndRedirect copies the cart into the session store and sends the user
// to login with a return marker.
func (c *Coordinator) parkAndRedirect(ctx context.Context, doc *domain.Cart, returnPath, action string) {
	data, err := json.Marshal(doc.Items)
	if err != nil {
		log.Printf("failed to marshal pending cart: %v", err)
	} else if err := c.session.Set(ctx, cart.PendingKey, data); err != nil {
		log.Printf("failed to park pending cart: %v", err)
	}

	redirect := fmt.Sprintf("%s?%s=%s", returnPath, actionParam, action)
	c.nav.NavigateTo(c.loginPath + "?redirect=" + url.QueryEscape(redirect))
}

// restorePending re-adds the parked line items to the empty local cart.
func (c *Coordinator) restorePending(ctx context.Context) {
	data, err := c.session.Get(ctx, cart.PendingKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrKeyNotFound) {
			log.Printf("failed to read pending cart: %v", err)
		}
		return
	}

	var items []domain.CartItem
	if err := json.Unmarshal(data, &items); err != nil {
		log.Printf("pending cart corrupted, ignoring: %v", err)
		return
	}

	for _, item := range items {
		err := c.binding.AddToCart(ctx, domain.Product{
			ProductID:    item.ProductID,
			Name:         item.Name,
			SKU:          item.SKU,
			ImageURL:     item.ImageURL,
			UnitName:     item.UnitName,
			CategoryName: item.CategoryName,
			BrandName:    item.BrandName,
			Price:        item.Price,
			IVA:          item.IVA,
		}, item.Quantity)
		if err != nil {
			log.Printf("failed to restore pending item %s: %v", item.ProductID, err)
		}
	}
}

// clearPending drops the parked payload once a flow completed.
func (c *Coordinator) clearPending(ctx context.Context) {
	if err := c.session.Delete(ctx, cart.PendingKey); err != nil {
		log.Printf("failed to clear pending cart: %v", err)
	}
}

func (c *Coordinator) begin(flag *bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if *flag {
		return false
	}
	*flag = true
	return true
}

func (c *Coordinator) end(flag *bool) {
	c.mu.Lock()
	*flag = false
	c.mu.Unlock()
}

func buildQuoteRequest(items []domain.CartItem, notes string) (QuoteRequest, error) {
	req := QuoteRequest{Notes: notes, Items: make([]QuoteItem, len(items))}
	for i, item := range items {
		id, err := strconv.ParseInt(item.ProductID, 10, 64)
		if err != nil {
			return QuoteRequest{}, fmt.Errorf("product id %q is not numeric: %w", item.ProductID, err)
		}
		req.Items[i] = QuoteItem{ProductID: id, Quantity: item.Quantity}
	}
	return req, nil
}

func stripMarker(u *url.URL) string {
	q := u.Query()
	q.Del(actionParam)
	stripped := *u
	stripped.RawQuery = q.Encode()
	return stripped.String()
}
