package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"market-core/internal/domain"
	"market-core/internal/fault"
	"market-core/internal/storage"
)

// CartRepository defines the interface for cart data access. A cart record is
// the ordered list of lines stored under its owner key; an absent record is
// an empty cart.
type CartRepository interface {
	Get(ctx context.Context, ownerKey string) (*domain.Cart, error)
	Save(ctx context.Context, cart *domain.Cart) error
	Clear(ctx context.Context, ownerKey string) error
}

type cartRepository struct {
	store storage.Tx
}

// NewCartRepository binds the repository to a storage adapter or to a
// transaction in flight.
func NewCartRepository(store storage.Tx) CartRepository {
	return &cartRepository{store: store}
}

// Get loads the cart for ownerKey. Missing carts come back empty, not as an
// error: the cart exists implicitly from the first add.
func (r *cartRepository) Get(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	doc, err := r.store.Load(ctx, storage.NamespaceCarts, ownerKey)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return &domain.Cart{OwnerKey: ownerKey, Lines: []domain.CartLine{}}, nil
		}
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	var lines []domain.CartLine
	if err := json.Unmarshal(doc, &lines); err != nil {
		return nil, fault.Permanent("cart record is corrupted", err)
	}
	return &domain.Cart{OwnerKey: ownerKey, Lines: lines}, nil
}

// Save writes the cart's lines. An empty cart is removed entirely.
func (r *cartRepository) Save(ctx context.Context, cart *domain.Cart) error {
	if len(cart.Lines) == 0 {
		return r.Clear(ctx, cart.OwnerKey)
	}

	doc, err := json.Marshal(cart.Lines)
	if err != nil {
		return fmt.Errorf("failed to encode cart: %w", err)
	}
	if err := r.store.Store(ctx, storage.NamespaceCarts, cart.OwnerKey, doc); err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	return nil
}

// Clear removes the cart record. Clearing an absent cart is a no-op.
func (r *cartRepository) Clear(ctx context.Context, ownerKey string) error {
	if err := r.store.Delete(ctx, storage.NamespaceCarts, ownerKey); err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return nil
		}
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}
