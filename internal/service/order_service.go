package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"market-core/internal/authz"
	"market-core/internal/domain"
	"market-core/internal/fault"
	"market-core/internal/repository"
	"market-core/internal/storage"
	"market-core/internal/validation"
)

// OrderService materializes carts into immutable orders and drives the
// order status machine.
type OrderService interface {
	Materialize(ctx context.Context, details domain.BuyerDetails) (*domain.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, newStatus string) (*domain.Order, error)
	GetByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	List(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, error)
}

type orderService struct {
	store     storage.Adapter
	orderRepo repository.OrderRepository
	identity  IdentityService
	cart      CartService
	logger    *zap.Logger
}

// NewOrderService creates the order service. The cart service is only needed
// for its change notifications after a checkout empties the cart.
func NewOrderService(store storage.Adapter, identity IdentityService, cart CartService, logger *zap.Logger) OrderService {
	return &orderService{
		store:     store,
		orderRepo: repository.NewOrderRepository(store),
		identity:  identity,
		cart:      cart,
		logger:    logger,
	}
}

// Materialize turns the current cart into a pending order and clears the
// cart, both inside one storage transaction: no observer ever sees the order
// without the empty cart or the other way round. Order lines deep-copy the
// cart lines and freeze each seller's payment block as it is right now.
func (s *orderService) Materialize(ctx context.Context, details domain.BuyerDetails) (*domain.Order, error) {
	session, profile := s.identity.Current()
	subject := authz.SubjectFrom(session, profile)
	if err := authz.Authorize(subject, authz.ActionCheckout, nil); err != nil {
		return nil, err
	}

	name, err := validation.BuyerName(details.Name)
	if err != nil {
		return nil, err
	}
	phone, err := validation.Phone(details.Phone)
	if err != nil {
		return nil, err
	}
	address, err := validation.Address(details.Address)
	if err != nil {
		return nil, err
	}

	ownerKey := s.identity.CartKey()
	now := time.Now().UTC()
	order := &domain.Order{
		ID:        uuid.New(),
		Buyer:     domain.BuyerDetails{Name: name, Phone: phone, Address: address},
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.store.Transaction(ctx, func(tx storage.Tx) error {
		cartRepo := repository.NewCartRepository(tx)
		cart, err := cartRepo.Get(ctx, ownerKey)
		if err != nil {
			return err
		}
		if len(cart.Lines) == 0 {
			return fault.Invalid("cart", "cart is empty")
		}

		productRepo := repository.NewProductRepository(tx)
		profileRepo := repository.NewProfileRepository(tx)

		total := decimal.Zero
		lines := make([]domain.OrderLine, 0, len(cart.Lines))
		for _, cl := range cart.Lines {
			line := domain.OrderLine{
				ProductID:   cl.ProductID,
				ProductName: cl.ProductName,
				UnitPrice:   cl.UnitPrice,
				ImageURL:    cl.ImageURL,
				Quantity:    cl.Quantity,
				Subtotal:    cl.Subtotal(),
			}

			// Freeze the seller contact block. A product deleted between
			// add and checkout keeps its snapshot but loses the contact.
			if product, err := productRepo.FindByID(ctx, cl.ProductID); err == nil {
				line.SellerAccountID = product.OwnerAccountID
				if seller, err := profileRepo.Get(ctx, product.OwnerAccountID); err == nil {
					line.Seller = domain.SellerContact{
						Name:        seller.Name,
						Phone:       seller.Phone,
						PromptPayID: seller.PromptPayID,
						LineID:      seller.LineID,
					}
				}
			}

			total = total.Add(line.Subtotal)
			lines = append(lines, line)
		}

		order.Lines = lines
		order.Total = total

		if err := repository.NewOrderRepository(tx).Create(ctx, order); err != nil {
			return err
		}
		return cartRepo.Clear(ctx, ownerKey)
	})
	if err != nil {
		return nil, err
	}

	s.cart.NotifyChanged()
	s.logger.Info("Order materialized",
		zap.String("order_id", order.ID.String()),
		zap.String("total", order.Total.StringFixed(2)),
	)
	return order, nil
}

// UpdateStatus moves an order through the status machine. A seller owning at
// least one line may advance it; the buyer, identified by phone, may cancel
// while it is still pending.
func (s *orderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, newStatus string) (*domain.Order, error) {
	if !domain.ValidOrderStatus(newStatus) {
		return nil, fault.Invalid("status", "unknown status")
	}

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !domain.CanTransition(order.Status, newStatus) {
		return nil, fault.Invalidf("cannot move order from %s to %s", order.Status, newStatus)
	}

	session, profile := s.identity.Current()
	subject := authz.SubjectFrom(session, profile)
	if err := s.authorizeTransition(subject, profile, order, newStatus); err != nil {
		return nil, err
	}

	order.Status = newStatus
	order.UpdatedAt = time.Now().UTC()
	if err := s.orderRepo.Save(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *orderService) authorizeTransition(subject authz.Subject, profile *domain.Profile, order *domain.Order, newStatus string) error {
	// Buyer cancel: phone match against the order snapshot, pending only.
	if newStatus == domain.OrderStatusCancelled && order.Status == domain.OrderStatusPending &&
		profile != nil && validation.NormalizePhone(profile.Phone) == order.Buyer.Phone {
		return authz.Authorize(subject, authz.ActionCancelOrder, nil)
	}

	if err := authz.Authorize(subject, authz.ActionAdvanceOrderStatus, nil); err != nil {
		return err
	}
	for _, line := range order.Lines {
		if line.SellerAccountID == subject.AccountID {
			return nil
		}
	}
	return fault.Unauthorized("none of the order lines belong to this seller")
}

// GetByID retrieves one order.
func (s *orderService) GetByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.orderRepo.FindByID(ctx, orderID)
}

// List retrieves orders matching the filter, newest first.
func (s *orderService) List(ctx context.Context, filter domain.OrderFilter) ([]*domain.Order, error) {
	if filter.Status != "" && !domain.ValidOrderStatus(filter.Status) {
		return nil, fault.Invalid("status", "unknown status")
	}
	return s.orderRepo.List(ctx, filter)
}
