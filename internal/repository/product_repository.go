package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"market-core/internal/domain"
	"market-core/internal/fault"
	"market-core/internal/storage"
)

// ProductRepository defines the interface for catalog data access.
type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product) error
	Save(ctx context.Context, product *domain.Product) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	List(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error)
}

type productRepository struct {
	store storage.Tx
}

// NewProductRepository binds the repository to a storage adapter or to a
// transaction in flight.
func NewProductRepository(store storage.Tx) ProductRepository {
	return &productRepository{store: store}
}

// Create inserts a new product.
func (r *productRepository) Create(ctx context.Context, product *domain.Product) error {
	doc, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("failed to encode product: %w", err)
	}
	if err := r.store.Store(ctx, storage.NamespaceProducts, product.ID.String(), doc); err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

// Save writes back an existing product.
func (r *productRepository) Save(ctx context.Context, product *domain.Product) error {
	if _, err := r.store.Load(ctx, storage.NamespaceProducts, product.ID.String()); err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return fault.NotFound("product not found")
		}
		return fmt.Errorf("failed to check product: %w", err)
	}
	return r.Create(ctx, product)
}

// Delete removes a product.
func (r *productRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.store.Delete(ctx, storage.NamespaceProducts, id.String()); err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return fault.NotFound("product not found")
		}
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return nil
}

// FindByID retrieves a product by id.
func (r *productRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	doc, err := r.store.Load(ctx, storage.NamespaceProducts, id.String())
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return nil, fault.NotFound("product not found")
		}
		return nil, fmt.Errorf("failed to find product by ID: %w", err)
	}

	product := &domain.Product{}
	if err := json.Unmarshal(doc, product); err != nil {
		return nil, fault.Permanent("product record is corrupted", err)
	}
	return product, nil
}

// List retrieves products matching the filter, most recently updated first.
// Ties break by created-at descending, then id ascending, so the order is
// stable across calls.
func (r *productRepository) List(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error) {
	pred := storage.Predicate{Equals: map[string]string{}}
	if filter.Owner != nil {
		pred.Equals["owner_account_id"] = filter.Owner.String()
	}
	if filter.Category != "" {
		pred.Equals["category"] = filter.Category
	}

	records, err := r.store.Query(ctx, storage.NamespaceProducts, pred)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	folder := cases.Fold()
	needle := folder.String(strings.TrimSpace(filter.TextMatch))

	products := make([]*domain.Product, 0, len(records))
	for _, rec := range records {
		product := &domain.Product{}
		if err := json.Unmarshal(rec.Value, product); err != nil {
			// Corrupted records are dropped from the listing, never fatal.
			continue
		}
		if filter.AvailableOnly && product.Quantity <= 0 {
			continue
		}
		if needle != "" {
			haystack := folder.String(product.Name + " " + product.Description)
			if !strings.Contains(haystack, needle) {
				continue
			}
		}
		products = append(products, product)
	}

	sort.SliceStable(products, func(i, j int) bool {
		a, b := products[i], products[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})

	return products, nil
}
