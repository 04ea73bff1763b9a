package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCategory is applied when a product is created without one.
const DefaultCategory = "general"

// Product is a catalog entry owned by exactly one seller account.
// OwnerAccountID is immutable; only the owner may mutate or delete.
type Product struct {
	ID             uuid.UUID       `json:"id"`
	OwnerAccountID uuid.UUID       `json:"owner_account_id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Price          decimal.Decimal `json:"price"`
	Category       string          `json:"category"`
	Quantity       int             `json:"quantity"`
	ImageURL       string          `json:"image_url,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ProductPatch carries the updatable product fields. ID, owner and created-at
// are not patchable.
type ProductPatch struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Quantity    *int             `json:"quantity,omitempty"`
	ImageURL    *string          `json:"image_url,omitempty"`
}

// ProductFilter narrows List results. Zero value matches everything.
type ProductFilter struct {
	Owner         *uuid.UUID
	AvailableOnly bool
	TextMatch     string
	Category      string
}
