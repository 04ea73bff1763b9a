package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"market-core/internal/domain"
	"market-core/internal/fault"
	"market-core/internal/storage"
)

// OrderRepository defines the interface for order data access. Orders are
// append-only; Save exists solely for status transitions.
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	Save(ctx context.Context, order *domain.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	List(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, error)
}

type orderRepository struct {
	store storage.Tx
}

// NewOrderRepository binds the repository to a storage adapter or to a
// transaction in flight.
func NewOrderRepository(store storage.Tx) OrderRepository {
	return &orderRepository{store: store}
}

// Create appends a new order.
func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	doc, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}
	if err := r.store.Store(ctx, storage.NamespaceOrders, order.ID.String(), doc); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// Save writes back an existing order after a status transition.
func (r *orderRepository) Save(ctx context.Context, order *domain.Order) error {
	if _, err := r.store.Load(ctx, storage.NamespaceOrders, order.ID.String()); err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return fault.NotFound("order not found")
		}
		return fmt.Errorf("failed to check order: %w", err)
	}
	return r.Create(ctx, order)
}

// FindByID retrieves an order by id.
func (r *orderRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	doc, err := r.store.Load(ctx, storage.NamespaceOrders, id.String())
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return nil, fault.NotFound("order not found")
		}
		return nil, fmt.Errorf("failed to find order by ID: %w", err)
	}

	order := &domain.Order{}
	if err := json.Unmarshal(doc, order); err != nil {
		return nil, fault.Permanent("order record is corrupted", err)
	}
	return order, nil
}

// List retrieves orders matching the filter, newest first.
func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, error) {
	pred := storage.Predicate{Equals: map[string]string{}}
	if filter.Status != "" {
		pred.Equals["status"] = filter.Status
	}

	records, err := r.store.Query(ctx, storage.NamespaceOrders, pred)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	orders := make([]*domain.Order, 0, len(records))
	for _, rec := range records {
		order := &domain.Order{}
		if err := json.Unmarshal(rec.Value, order); err != nil {
			continue
		}
		orders = append(orders, order)
	}

	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})

	return orders, nil
}
