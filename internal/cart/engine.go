package cart

import (
	"time"

	"github.com/google/uuid"

	"github.com/jadwer/localcart/internal/domain"
)

// The engine is the pure mutation algebra over a cart document. Every
// operation is a total function on the in-memory document; persistence and
// broadcasting live in Binding.

// AddItem merges quantity into an existing line with the same ProductID or
// appends a new line. Display fields of an existing line are never refreshed
// from the incoming product; the add-time snapshot wins. quantity must be >= 1
// to have any effect.
func AddItem(doc *domain.Cart, product domain.Product, quantity int) {
	if quantity < 1 {
		return
	}

	now := time.Now()
	touch(doc, now)

	for i := range doc.Items {
		if doc.Items[i].ProductID == product.ProductID {
			doc.Items[i].Quantity += quantity
			return
		}
	}

	doc.Items = append(doc.Items, domain.CartItem{
		ID:           uuid.New().String(),
		ProductID:    product.ProductID,
		Name:         product.Name,
		SKU:          product.SKU,
		ImageURL:     product.ImageURL,
		UnitName:     product.UnitName,
		CategoryName: product.CategoryName,
		BrandName:    product.BrandName,
		Price:        product.Price,
		Quantity:     quantity,
		IVA:          product.IVA,
		AddedAt:      now,
	})
}

// RemoveItem deletes the line matching productID. Absent productID is a no-op.
func RemoveItem(doc *domain.Cart, productID string) {
	for i := range doc.Items {
		if doc.Items[i].ProductID == productID {
			doc.Items = append(doc.Items[:i], doc.Items[i+1:]...)
			touch(doc, time.Now())
			return
		}
	}
}

// SetQuantity sets an absolute quantity. quantity <= 0 behaves exactly like
// RemoveItem; an item is never kept with a non-positive quantity. Absent
// productID is a no-op.
func SetQuantity(doc *domain.Cart, productID string, quantity int) {
	if quantity <= 0 {
		RemoveItem(doc, productID)
		return
	}
	for i := range doc.Items {
		if doc.Items[i].ProductID == productID {
			doc.Items[i].Quantity = quantity
			touch(doc, time.Now())
			return
		}
	}
}

// IncrementQuantity adds by to the line's quantity.
func IncrementQuantity(doc *domain.Cart, productID string, by int) {
	q := Quantity(doc, productID)
	if q == 0 {
		return
	}
	SetQuantity(doc, productID, q+by)
}

// DecrementQuantity subtracts by from the line's quantity; reaching zero or
// below removes the line.
func DecrementQuantity(doc *domain.Cart, productID string, by int) {
	q := Quantity(doc, productID)
	if q == 0 {
		return
	}
	SetQuantity(doc, productID, q-by)
}

// Clear empties the items while preserving CreatedAt. The slice stays
// non-nil so the persisted document keeps an "items":[] array.
func Clear(doc *domain.Cart) {
	doc.Items = []domain.CartItem{}
	touch(doc, time.Now())
}

// Contains reports whether a line with productID exists.
func Contains(doc *domain.Cart, productID string) bool {
	return Quantity(doc, productID) > 0
}

// Quantity returns the line's quantity, 0 for absent items.
func Quantity(doc *domain.Cart, productID string) int {
	for i := range doc.Items {
		if doc.Items[i].ProductID == productID {
			return doc.Items[i].Quantity
		}
	}
	return 0
}

// Totals recomputes the aggregates from Items. Tax applies to items whose iva
// flag is true or absent; exempt items contribute zero tax.
func Totals(doc *domain.Cart) domain.CartTotals {
	var t domain.CartTotals
	for i := range doc.Items {
		item := &doc.Items[i]
		line := item.Price * float64(item.Quantity)

		t.ItemCount += item.Quantity
		t.UniqueItems++
		t.Subtotal += line
		if item.Taxable() {
			t.TaxAmount += line * domain.TaxRate
		}
	}
	t.Total = t.Subtotal + t.TaxAmount
	return t
}

// touch stamps UpdatedAt and sets CreatedAt on the first write.
func touch(doc *domain.Cart, now time.Time) {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
}
