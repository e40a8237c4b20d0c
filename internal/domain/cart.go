package domain

import "time"

// TaxRate is the flat IVA rate applied to taxable line items.
const TaxRate = 0.16

// Cart is the persisted guest cart document. Items keep insertion order
// (display order) and are unique by ProductID.
type Cart struct {
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// CartItem is one line of the cart. Display fields are a snapshot captured
// at add-time and are deliberately never refreshed afterwards.
type CartItem struct {
	ID           string  `json:"id"`
	ProductID    string  `json:"productId"`
	Name         string  `json:"name"`
	SKU          string  `json:"sku,omitempty"`
	ImageURL     string  `json:"imageUrl,omitempty"`
	UnitName     string  `json:"unitName,omitempty"`
	CategoryName string  `json:"categoryName,omitempty"`
	BrandName    string  `json:"brandName,omitempty"`
	Price        float64 `json:"price"`
	Quantity     int     `json:"quantity"`
	// IVA is nil for documents written by older versions; absent means taxable.
	IVA     *bool     `json:"iva,omitempty"`
	AddedAt time.Time `json:"addedAt"`
}

// Taxable reports whether the item contributes tax. A missing iva field
// defaults to true, never false.
func (i CartItem) Taxable() bool {
	return i.IVA == nil || *i.IVA
}

// Product carries the catalog fields captured into a CartItem on add.
type Product struct {
	ProductID    string
	Name         string
	SKU          string
	ImageURL     string
	UnitName     string
	CategoryName string
	BrandName    string
	Price        float64
	IVA          *bool
}

// CartTotals is derived from Items on demand and never persisted.
type CartTotals struct {
	ItemCount   int     `json:"itemCount"`
	UniqueItems int     `json:"uniqueItems"`
	Subtotal    float64 `json:"subtotal"`
	TaxAmount   float64 `json:"taxAmount"`
	Total       float64 `json:"total"`
}
