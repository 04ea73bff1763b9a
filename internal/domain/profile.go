package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role values a profile may carry. Role is immutable after creation.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
)

// Profile is the domain record attached 1:1 to an Account. PromptPayID and
// LineID are the seller payment and contact identifiers shown to buyers; both
// must be non-empty before the seller may list a product.
type Profile struct {
	AccountID   uuid.UUID `json:"account_id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	Role        string    `json:"role"`
	PromptPayID string    `json:"prompt_pay_id,omitempty"`
	LineID      string    `json:"line_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProfilePatch carries the updatable profile fields. Nil means "leave as is".
type ProfilePatch struct {
	Name        *string `json:"name,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	PromptPayID *string `json:"prompt_pay_id,omitempty"`
	LineID      *string `json:"line_id,omitempty"`
}

// SellerContact is the seller payment block snapshotted onto order lines at
// materialization time. Later profile edits never change it.
type SellerContact struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	PromptPayID string `json:"prompt_pay_id"`
	LineID      string `json:"line_id"`
}
