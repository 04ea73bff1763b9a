package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order status values.
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// orderTransitions is the full transition relation. Completed and cancelled
// are terminal.
var orderTransitions = map[string][]string{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted: {},
	OrderStatusCancelled: {},
}

// ValidOrderStatus reports whether s is one of the four status values.
func ValidOrderStatus(s string) bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// BuyerDetails is the checkout form snapshot stored on the order.
type BuyerDetails struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// OrderLine is a deep copy of a cart line at materialization time, extended
// with the seller contact block so historical orders always show the payment
// info that was current when the order was placed.
type OrderLine struct {
	ProductID       uuid.UUID       `json:"product_id"`
	SellerAccountID uuid.UUID       `json:"seller_account_id"`
	ProductName     string          `json:"product_name"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	ImageURL        string          `json:"image_url,omitempty"`
	Quantity        int             `json:"quantity"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Seller          SellerContact   `json:"seller"`
}

// Order is the immutable, append-only record a cart materializes into.
// Lines and Total never change after creation; only Status and UpdatedAt do.
type Order struct {
	ID        uuid.UUID       `json:"id"`
	Buyer     BuyerDetails    `json:"buyer"`
	Lines     []OrderLine     `json:"lines"`
	Total     decimal.Decimal `json:"total"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// OrderFilter narrows List results. Empty status matches all.
type OrderFilter struct {
	Status string
}
