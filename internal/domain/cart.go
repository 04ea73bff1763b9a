package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartLine is one product's participation in a cart. UnitPrice and ImageURL
// are snapshots taken from the catalog at add time; later product edits do
// not touch them.
type CartLine struct {
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ImageURL    string          `json:"image_url,omitempty"`
	Quantity    int             `json:"quantity"`
}

// Subtotal is derived: unit price times quantity.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is the per-identity staging area. Lines keep insertion order; at most
// one line exists per product id.
type Cart struct {
	OwnerKey string     `json:"owner_key"`
	Lines    []CartLine `json:"lines"`
}

// Find returns the index of the line for productID, or -1.
func (c *Cart) Find(productID uuid.UUID) int {
	for i, l := range c.Lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}

// ItemCount sums quantities across all lines.
func (c *Cart) ItemCount() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

// Total sums line subtotals.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}
