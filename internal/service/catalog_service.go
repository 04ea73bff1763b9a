package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"market-core/internal/authz"
	"market-core/internal/domain"
	"market-core/internal/fault"
	"market-core/internal/repository"
	"market-core/internal/storage"
	"market-core/internal/validation"
)

// ProductInput carries the fields a seller submits when listing a product.
// Price and quantity arrive as strings straight from the form.
type ProductInput struct {
	Name        string
	Description string
	Price       string
	Category    string
	Quantity    string
	ImageURL    string
	ImageSize   int64
}

// CatalogService is the product catalog: seller-owned listings with the
// ownership rules enforced before anything touches persistence.
type CatalogService interface {
	List(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	Create(ctx context.Context, input ProductInput) (*domain.Product, error)
	Update(ctx context.Context, id uuid.UUID, patch domain.ProductPatch) (*domain.Product, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type catalogService struct {
	store       storage.Adapter
	productRepo repository.ProductRepository
	identity    IdentityService
	logger      *zap.Logger

	cacheMu sync.Mutex
	cache   map[string][]*domain.Product
}

// NewCatalogService creates the catalog. It subscribes to identity changes so
// a seller switching accounts never sees the previous account's cached
// listings.
func NewCatalogService(store storage.Adapter, identity IdentityService, logger *zap.Logger) CatalogService {
	s := &catalogService{
		store:       store,
		productRepo: repository.NewProductRepository(store),
		identity:    identity,
		logger:      logger,
		cache:       make(map[string][]*domain.Product),
	}
	identity.Subscribe(func(*domain.Session, *domain.Profile) {
		s.invalidate()
	})
	return s
}

// List returns products matching the filter, most recently updated first.
// Results for a given filter are cached until the catalog or the identity
// changes.
func (s *catalogService) List(ctx context.Context, filter domain.ProductFilter) ([]*domain.Product, error) {
	key := cacheKey(filter)

	s.cacheMu.Lock()
	cached, ok := s.cache[key]
	s.cacheMu.Unlock()
	if ok {
		return cached, nil
	}

	products, err := s.productRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.cache[key] = products
	s.cacheMu.Unlock()
	return products, nil
}

// GetByID retrieves one product.
func (s *catalogService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return s.productRepo.FindByID(ctx, id)
}

// Create lists a new product for the current seller. The seller's payment
// identifiers must be filled in before the first listing.
func (s *catalogService) Create(ctx context.Context, input ProductInput) (*domain.Product, error) {
	session, profile := s.identity.Current()
	subject := authz.SubjectFrom(session, profile)
	if err := authz.Authorize(subject, authz.ActionCreateProduct, nil); err != nil {
		return nil, err
	}
	if profile.PromptPayID == "" || profile.LineID == "" {
		return nil, fault.Invalid("seller", "payment id and contact handle must be set before listing")
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fault.Invalid("name", "must not be empty")
	}
	price, err := validation.Price(input.Price)
	if err != nil {
		return nil, err
	}
	quantity, err := validation.Quantity(input.Quantity)
	if err != nil {
		return nil, err
	}
	if err := validation.Image(input.ImageURL, input.ImageSize); err != nil {
		return nil, err
	}
	category := strings.TrimSpace(input.Category)
	if category == "" {
		category = domain.DefaultCategory
	}

	now := time.Now().UTC()
	product := &domain.Product{
		ID:             uuid.New(),
		OwnerAccountID: subject.AccountID,
		Name:           name,
		Description:    input.Description,
		Price:          price,
		Category:       category,
		Quantity:       quantity,
		ImageURL:       input.ImageURL,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.productRepo.Create(ctx, product); err != nil {
		return nil, err
	}

	s.invalidate()
	s.logger.Info("Product listed",
		zap.String("product_id", product.ID.String()),
		zap.String("owner", subject.AccountID.String()),
	)
	return product, nil
}

// Update applies a patch to an owned product. The patch type cannot name id,
// owner or created-at; updated-at always moves strictly forward.
func (s *catalogService) Update(ctx context.Context, id uuid.UUID, patch domain.ProductPatch) (*domain.Product, error) {
	product, err := s.productRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	session, profile := s.identity.Current()
	subject := authz.SubjectFrom(session, profile)
	if err := authz.Authorize(subject, authz.ActionUpdateProduct, product); err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, fault.Invalid("name", "must not be empty")
		}
		product.Name = name
	}
	if patch.Description != nil {
		product.Description = *patch.Description
	}
	if patch.Price != nil {
		if patch.Price.IsNegative() {
			return nil, fault.Invalid("price", "must not be negative")
		}
		product.Price = *patch.Price
	}
	if patch.Category != nil {
		category := strings.TrimSpace(*patch.Category)
		if category == "" {
			category = domain.DefaultCategory
		}
		product.Category = category
	}
	if patch.Quantity != nil {
		if *patch.Quantity < 0 {
			return nil, fault.Invalid("quantity", "must not be negative")
		}
		product.Quantity = *patch.Quantity
	}
	if patch.ImageURL != nil {
		if err := validation.Image(*patch.ImageURL, 0); err != nil {
			return nil, err
		}
		product.ImageURL = *patch.ImageURL
	}

	now := time.Now().UTC()
	if !now.After(product.UpdatedAt) {
		now = product.UpdatedAt.Add(time.Nanosecond)
	}
	product.UpdatedAt = now

	if err := s.productRepo.Save(ctx, product); err != nil {
		return nil, err
	}

	s.invalidate()
	return product, nil
}

// Delete removes an owned product from the catalog.
func (s *catalogService) Delete(ctx context.Context, id uuid.UUID) error {
	product, err := s.productRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}

	session, profile := s.identity.Current()
	subject := authz.SubjectFrom(session, profile)
	if err := authz.Authorize(subject, authz.ActionDeleteProduct, product); err != nil {
		return err
	}

	if err := s.productRepo.Delete(ctx, id); err != nil {
		return err
	}

	s.invalidate()
	return nil
}

func (s *catalogService) invalidate() {
	s.cacheMu.Lock()
	s.cache = make(map[string][]*domain.Product)
	s.cacheMu.Unlock()
}

func cacheKey(filter domain.ProductFilter) string {
	owner := ""
	if filter.Owner != nil {
		owner = filter.Owner.String()
	}
	return fmt.Sprintf("%s|%t|%s|%s", owner, filter.AvailableOnly, filter.TextMatch, filter.Category)
}
