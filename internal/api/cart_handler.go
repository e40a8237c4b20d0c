package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jadwer/localcart/internal/cart"
	"github.com/jadwer/localcart/internal/domain"
	"github.com/jadwer/localcart/internal/handoff"
)

// CartHandler exposes the local cart binding over HTTP.
type CartHandler struct {
	binding     *cart.Binding
	counter     *cart.Counter
	coordinator *handoff.Coordinator
	nav         *RelayNavigator
}

func NewCartHandler(binding *cart.Binding, counter *cart.Counter, coordinator *handoff.Coordinator, nav *RelayNavigator) *CartHandler {
	return &CartHandler{
		binding:     binding,
		counter:     counter,
		coordinator: coordinator,
		nav:         nav,
	}
}

// Routes mounts the cart endpoints on r.
func (h *CartHandler) Routes(r chi.Router) {
	r.Get("/", h.GetCart)
	r.Get("/count", h.GetCount)
	r.Post("/items", h.AddItem)
	r.Put("/items/{productID}", h.UpdateQuantity)
	r.Delete("/items/{productID}", h.RemoveItem)
	r.Post("/clear", h.ClearCart)
	r.Post("/checkout", h.Checkout)
	r.Post("/quote", h.RequestQuote)
	r.Post("/resume", h.Resume)
}

type AddItemRequestDTO struct {
	ProductID    string  `json:"productId"`
	Name         string  `json:"name"`
	SKU          string  `json:"sku"`
	ImageURL     string  `json:"imageUrl"`
	UnitName     string  `json:"unitName"`
	CategoryName string  `json:"categoryName"`
	BrandName    string  `json:"brandName"`
	Price        float64 `json:"price"`
	IVA          *bool   `json:"iva"`
	Quantity     int     `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type QuoteRequestDTO struct {
	Notes      string `json:"notes"`
	ReturnPath string `json:"returnPath"`
}

type CheckoutRequestDTO struct {
	ReturnPath string `json:"returnPath"`
}

type ResumeRequestDTO struct {
	CurrentURL string `json:"currentUrl"`
}

type CartResponseDTO struct {
	Cart   *domain.Cart      `json:"cart"`
	Totals domain.CartTotals `json:"totals"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, CartResponseDTO{
		Cart:   h.binding.Document(),
		Totals: h.binding.Totals(),
	})
}

func (h *CartHandler) GetCount(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]int{"itemCount": h.counter.Count()})
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "productId is required")
		return
	}
	if req.Quantity < 1 {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at least 1")
		return
	}
	if req.Price < 0 {
		respondError(w, http.StatusBadRequest, "invalid_price", "price must not be negative")
		return
	}

	err := h.binding.AddToCart(r.Context(), domain.Product{
		ProductID:    req.ProductID,
		Name:         req.Name,
		SKU:          req.SKU,
		ImageURL:     req.ImageURL,
		UnitName:     req.UnitName,
		CategoryName: req.CategoryName,
		BrandName:    req.BrandName,
		Price:        req.Price,
		IVA:          req.IVA,
	}, req.Quantity)
	if err != nil {
		handleBindingError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, CartResponseDTO{
		Cart:   h.binding.Document(),
		Totals: h.binding.Totals(),
	})
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	// quantity <= 0 is a well-defined remove, not an error
	if err := h.binding.UpdateQuantity(r.Context(), productID, req.Quantity); err != nil {
		handleBindingError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, CartResponseDTO{
		Cart:   h.binding.Document(),
		Totals: h.binding.Totals(),
	})
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	if err := h.binding.RemoveFromCart(r.Context(), productID); err != nil {
		handleBindingError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, CartResponseDTO{
		Cart:   h.binding.Document(),
		Totals: h.binding.Totals(),
	})
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.binding.ClearCart(r.Context()); err != nil {
		handleBindingError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, CartResponseDTO{
		Cart:   h.binding.Document(),
		Totals: h.binding.Totals(),
	})
}

func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := h.coordinator.SyncToCheckout(r.Context(), req.ReturnPath); err != nil {
		handleHandoffError(w, err)
		return
	}

	// The client performs the actual navigation; relay where to go.
	respondJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"location": h.nav.Take(),
	})
}

func (h *CartHandler) RequestQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	result, err := h.coordinator.RequestQuote(r.Context(), req.ReturnPath, req.Notes)
	if err != nil {
		handleHandoffError(w, err)
		return
	}

	if result == nil {
		// No session: the flow parked the cart and redirected to login.
		respondJSON(w, http.StatusOK, map[string]string{
			"status":   "login_required",
			"location": h.nav.Take(),
		})
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Resume replays a quote or checkout flow deferred across a login redirect.
// The client reports the URL it landed on; a marker in its query triggers the
// deferred flow at most once.
func (h *CartHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.CurrentURL == "" {
		respondError(w, http.StatusBadRequest, "invalid_url", "currentUrl is required")
		return
	}

	result, err := h.coordinator.Resume(r.Context(), req.CurrentURL)
	if err != nil {
		handleHandoffError(w, err)
		return
	}

	if result != nil {
		respondJSON(w, http.StatusOK, result)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"location": h.nav.Take(),
	})
}

func handleBindingError(w http.ResponseWriter, err error) {
	if errors.Is(err, cart.ErrNotInitialized) {
		respondError(w, http.StatusServiceUnavailable, "not_initialized", "cart is still loading")
		return
	}
	respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

func handleHandoffError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, handoff.ErrEmptyCart):
		respondError(w, http.StatusConflict, "empty_cart", "cart is empty")
	case errors.Is(err, handoff.ErrSyncInFlight):
		respondError(w, http.StatusConflict, "sync_in_flight", "a handoff is already in flight")
	default:
		respondError(w, http.StatusBadGateway, "sync_failed", err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
