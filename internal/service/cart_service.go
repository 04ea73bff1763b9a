package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"market-core/internal/authz"
	"market-core/internal/domain"
	"market-core/internal/fault"
	"market-core/internal/repository"
	"market-core/internal/storage"
)

// CartService is the per-identity staging area. Before login lines stage
// under a process-local anonymous key; a buyer logging in absorbs that
// staged cart into the account cart.
type CartService interface {
	Add(ctx context.Context, productID uuid.UUID, quantity int) error
	SetQuantity(ctx context.Context, productID uuid.UUID, quantity int) error
	Remove(ctx context.Context, productID uuid.UUID) error
	Clear(ctx context.Context) error
	Lines(ctx context.Context) ([]domain.CartLine, error)
	ItemCount(ctx context.Context) (int, error)
	Total(ctx context.Context) (decimal.Decimal, error)
	// Subscribe registers a listener called after every cart change so the
	// cart badge can re-read instead of polling.
	Subscribe(listener func()) (unsubscribe func())
	// NotifyChanged announces a cart change made outside this service, such
	// as checkout clearing the cart inside its own transaction.
	NotifyChanged()
}

type cartService struct {
	store    storage.Adapter
	identity IdentityService
	logger   *zap.Logger

	mu        sync.Mutex
	listeners map[int]func()
	nextID    int
}

// NewCartService creates the cart service and hooks the anonymous-cart merge
// onto identity changes.
func NewCartService(store storage.Adapter, identity IdentityService, logger *zap.Logger) CartService {
	s := &cartService{
		store:     store,
		identity:  identity,
		logger:    logger,
		listeners: make(map[int]func()),
	}
	identity.Subscribe(func(session *domain.Session, profile *domain.Profile) {
		if session == nil || profile == nil || session.Informational {
			return
		}
		if profile.Role != domain.RoleBuyer {
			return
		}
		if err := s.mergeAnonymous(context.Background(), session.AccountID.String()); err != nil {
			logger.Warn("Failed to merge anonymous cart", zap.Error(err))
		}
	})
	return s
}

// gate rejects cart writes for sessions that must not stage: a full non-buyer
// session. Anonymous and informational identities stage locally, which is the
// whole point of the merge-on-login flow.
func (s *cartService) gate() error {
	session, profile := s.identity.Current()
	if session == nil || session.Informational {
		return nil
	}
	return authz.Authorize(authz.SubjectFrom(session, profile), authz.ActionAddToCart, nil)
}

// Add puts quantity units of the product in the cart, creating the line with
// a price and image snapshot on first add and incrementing it afterwards.
func (s *cartService) Add(ctx context.Context, productID uuid.UUID, quantity int) error {
	if quantity < 1 {
		return fault.Invalid("quantity", "must be at least 1")
	}
	if err := s.gate(); err != nil {
		return err
	}

	ownerKey := s.identity.CartKey()
	err := s.store.Transaction(ctx, func(tx storage.Tx) error {
		product, err := repository.NewProductRepository(tx).FindByID(ctx, productID)
		if err != nil {
			return err
		}

		cartRepo := repository.NewCartRepository(tx)
		cart, err := cartRepo.Get(ctx, ownerKey)
		if err != nil {
			return err
		}

		if i := cart.Find(productID); i >= 0 {
			cart.Lines[i].Quantity += quantity
		} else {
			cart.Lines = append(cart.Lines, domain.CartLine{
				ProductID:   product.ID,
				ProductName: product.Name,
				UnitPrice:   product.Price,
				ImageURL:    product.ImageURL,
				Quantity:    quantity,
			})
		}
		return cartRepo.Save(ctx, cart)
	})
	if err != nil {
		return err
	}

	s.notify()
	return nil
}

// SetQuantity replaces a line's quantity. Zero removes the line.
func (s *cartService) SetQuantity(ctx context.Context, productID uuid.UUID, quantity int) error {
	if quantity < 0 {
		return fault.Invalid("quantity", "must not be negative")
	}
	if err := s.gate(); err != nil {
		return err
	}

	ownerKey := s.identity.CartKey()
	err := s.store.Transaction(ctx, func(tx storage.Tx) error {
		cartRepo := repository.NewCartRepository(tx)
		cart, err := cartRepo.Get(ctx, ownerKey)
		if err != nil {
			return err
		}

		i := cart.Find(productID)
		if i < 0 {
			return fault.NotFound("product is not in the cart")
		}
		if quantity == 0 {
			cart.Lines = append(cart.Lines[:i], cart.Lines[i+1:]...)
		} else {
			cart.Lines[i].Quantity = quantity
		}
		return cartRepo.Save(ctx, cart)
	})
	if err != nil {
		return err
	}

	s.notify()
	return nil
}

// Remove drops a line from the cart.
func (s *cartService) Remove(ctx context.Context, productID uuid.UUID) error {
	return s.SetQuantity(ctx, productID, 0)
}

// Clear empties the cart.
func (s *cartService) Clear(ctx context.Context) error {
	if err := s.gate(); err != nil {
		return err
	}
	if err := repository.NewCartRepository(s.store).Clear(ctx, s.identity.CartKey()); err != nil {
		return err
	}
	s.notify()
	return nil
}

// Lines returns the cart lines in insertion order.
func (s *cartService) Lines(ctx context.Context) ([]domain.CartLine, error) {
	cart, err := repository.NewCartRepository(s.store).Get(ctx, s.identity.CartKey())
	if err != nil {
		return nil, err
	}
	return cart.Lines, nil
}

// ItemCount sums quantities across all lines.
func (s *cartService) ItemCount(ctx context.Context) (int, error) {
	cart, err := repository.NewCartRepository(s.store).Get(ctx, s.identity.CartKey())
	if err != nil {
		return 0, err
	}
	return cart.ItemCount(), nil
}

// Total sums line subtotals.
func (s *cartService) Total(ctx context.Context) (decimal.Decimal, error) {
	cart, err := repository.NewCartRepository(s.store).Get(ctx, s.identity.CartKey())
	if err != nil {
		return decimal.Zero, err
	}
	return cart.Total(), nil
}

// Subscribe registers a cart-change listener and returns its unsubscribe
// function.
func (s *cartService) Subscribe(listener func()) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// mergeAnonymous folds the anonymous staging cart into the account cart,
// summing quantities per product. The account line's snapshot wins when both
// carts carry the same product.
func (s *cartService) mergeAnonymous(ctx context.Context, accountKey string) error {
	session, _ := s.identity.Current()
	if session == nil {
		return nil
	}

	anonKey := s.identity.AnonymousCartKey()
	if anonKey == "" || anonKey == accountKey {
		return nil
	}

	err := s.store.Transaction(ctx, func(tx storage.Tx) error {
		cartRepo := repository.NewCartRepository(tx)
		anon, err := cartRepo.Get(ctx, anonKey)
		if err != nil {
			return err
		}
		if len(anon.Lines) == 0 {
			return nil
		}

		account, err := cartRepo.Get(ctx, accountKey)
		if err != nil {
			return err
		}

		for _, line := range anon.Lines {
			if line.Quantity < 1 {
				continue
			}
			if i := account.Find(line.ProductID); i >= 0 {
				account.Lines[i].Quantity += line.Quantity
			} else {
				account.Lines = append(account.Lines, line)
			}
		}

		if err := cartRepo.Save(ctx, account); err != nil {
			return err
		}
		return cartRepo.Clear(ctx, anonKey)
	})
	if err != nil {
		return err
	}

	s.notify()
	return nil
}

// NotifyChanged fans the change out to subscribers.
func (s *cartService) NotifyChanged() {
	s.notify()
}

func (s *cartService) notify() {
	s.mu.Lock()
	notify := make([]func(), 0, len(s.listeners))
	for _, l := range s.listeners {
		notify = append(notify, l)
	}
	s.mu.Unlock()

	for _, l := range notify {
		l()
	}
}
