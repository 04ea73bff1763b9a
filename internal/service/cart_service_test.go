package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"market-core/internal/domain"
	"market-core/internal/fault"
	"market-core/internal/repository"
	"market-core/internal/storage"
)

type cartFixture struct {
	store    storage.Adapter
	identity IdentityService
	cart     CartService
	products repository.ProductRepository
}

func newCartFixture(t *testing.T) *cartFixture {
	t.Helper()
	store := newTestStore(t)
	identity := newTestIdentity(t, store)
	return &cartFixture{
		store:    store,
		identity: identity,
		cart:     NewCartService(store, identity, zap.NewNop()),
		products: repository.NewProductRepository(store),
	}
}

func (f *cartFixture) seedProduct(t *testing.T, name string, price int64, qty int) *domain.Product {
	t.Helper()
	now := time.Now().UTC()
	product := &domain.Product{
		ID:             uuid.New(),
		OwnerAccountID: uuid.New(),
		Name:           name,
		Price:          decimal.NewFromInt(price),
		Category:       domain.DefaultCategory,
		Quantity:       qty,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := f.products.Create(context.Background(), product); err != nil {
		t.Fatalf("failed to seed product: %v", err)
	}
	return product
}

func TestCartService_AddSnapshotsPriceAndImage(t *testing.T) {
	f := newCartFixture(t)
	ctx := context.Background()
	product := f.seedProduct(t, "somtam", 45, 10)
	product.ImageURL = "https://cdn.example.com/somtam.jpg"
	if err := f.products.Save(ctx, product); err != nil {
		t.Fatalf("failed to set image: %v", err)
	}

	if err := f.cart.Add(ctx, product.ID, 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	// The line must keep the price it was added at.
	product.Price = decimal.NewFromInt(99)
	product.ImageURL = "https://cdn.example.com/new.jpg"
	if err := f.products.Save(ctx, product); err != nil {
		t.Fatalf("failed to reprice product: %v", err)
	}

	lines, err := f.cart.Lines(ctx)
	if err != nil {
		t.Fatalf("lines failed: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("cart has %d lines, want 1", len(lines))
	}
	if !lines[0].UnitPrice.Equal(decimal.NewFromInt(45)) {
		t.Errorf("snapshot price = %s, want 45", lines[0].UnitPrice)
	}
	if lines[0].ImageURL != "https://cdn.example.com/somtam.jpg" {
		t.Errorf("snapshot image = %s", lines[0].ImageURL)
	}

	total, err := f.cart.Total(ctx)
	if err != nil {
		t.Fatalf("total failed: %v", err)
	}
	if !total.Equal(decimal.NewFromInt(90)) {
		t.Errorf("total = %s, want 90", total)
	}
}

func TestCartService_AddMissingProduct(t *testing.T) {
	f := newCartFixture(t)

	err := f.cart.Add(context.Background(), uuid.New(), 1)
	if !fault.IsKind(err, fault.KindNotFound) {
		t.Errorf("add of a missing product returned %v, want not-found", err)
	}
}

func TestCartService_AddRejectsBadQuantity(t *testing.T) {
	f := newCartFixture(t)
	product := f.seedProduct(t, "somtam", 45, 10)

	for _, qty := range []int{0, -3} {
		if err := f.cart.Add(context.Background(), product.ID, qty); !fault.IsKind(err, fault.KindInvalid) {
			t.Errorf("Add(qty=%d) = %v, want invalid", qty, err)
		}
	}
}

func TestCartService_SetQuantity(t *testing.T) {
	f := newCartFixture(t)
	ctx := context.Background()
	product := f.seedProduct(t, "somtam", 45, 10)

	if err := f.cart.Add(ctx, product.ID, 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := f.cart.SetQuantity(ctx, product.ID, 5); err != nil {
		t.Fatalf("set quantity failed: %v", err)
	}
	count, err := f.cart.ItemCount(ctx)
	if err != nil || count != 5 {
		t.Errorf("item count = %d, %v; want 5", count, err)
	}

	// Zero removes the line.
	if err := f.cart.SetQuantity(ctx, product.ID, 0); err != nil {
		t.Fatalf("set quantity to zero failed: %v", err)
	}
	lines, err := f.cart.Lines(ctx)
	if err != nil || len(lines) != 0 {
		t.Errorf("lines after removal = %d, %v", len(lines), err)
	}

	if err := f.cart.SetQuantity(ctx, product.ID, 1); !fault.IsKind(err, fault.KindNotFound) {
		t.Errorf("set quantity on an absent line returned %v, want not-found", err)
	}
	if err := f.cart.SetQuantity(ctx, product.ID, -1); !fault.IsKind(err, fault.KindInvalid) {
		t.Errorf("negative quantity returned %v, want invalid", err)
	}
}

func TestCartService_SellerCannotStage(t *testing.T) {
	f := newCartFixture(t)
	ctx := context.Background()
	product := f.seedProduct(t, "somtam", 45, 10)

	if _, err := f.identity.Register(ctx, sellerInput("lek@example.com")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	err := f.cart.Add(ctx, product.ID, 1)
	if !fault.IsKind(err, fault.KindUnauthorized) {
		t.Errorf("seller add returned %v, want unauthorized", err)
	}
}

func TestCartService_MergeOnLogin(t *testing.T) {
	f := newCartFixture(t)
	ctx := context.Background()
	product := f.seedProduct(t, "somtam", 45, 10)
	other := f.seedProduct(t, "mango", 30, 10)

	// Build the account cart first, then stage more anonymously.
	profile, err := f.identity.Register(ctx, buyerInput("nok@example.com"))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := f.cart.Add(ctx, product.ID, 2); err != nil {
		t.Fatalf("account add failed: %v", err)
	}
	if err := f.identity.Logout(ctx); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	// The product is repriced before the anonymous add; the merged line must
	// keep the account cart's older snapshot.
	product.Price = decimal.NewFromInt(60)
	if err := f.products.Save(ctx, product); err != nil {
		t.Fatalf("failed to reprice product: %v", err)
	}

	if err := f.cart.Add(ctx, product.ID, 3); err != nil {
		t.Fatalf("anonymous add failed: %v", err)
	}
	if err := f.cart.Add(ctx, other.ID, 1); err != nil {
		t.Fatalf("anonymous add failed: %v", err)
	}

	if _, _, err := f.identity.Login(ctx, "nok@example.com", "secret123"); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	lines, err := f.cart.Lines(ctx)
	if err != nil {
		t.Fatalf("lines failed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("merged cart has %d lines, want 2", len(lines))
	}

	merged := lines[0]
	if merged.ProductID != product.ID {
		t.Fatalf("first merged line is %s", merged.ProductName)
	}
	if merged.Quantity != 5 {
		t.Errorf("merged quantity = %d, want 5", merged.Quantity)
	}
	if !merged.UnitPrice.Equal(decimal.NewFromInt(45)) {
		t.Errorf("merged snapshot = %s, want the account cart's 45", merged.UnitPrice)
	}

	// The anonymous staging cart is gone.
	anon, err := repository.NewCartRepository(f.store).Get(ctx, f.identity.AnonymousCartKey())
	if err != nil || len(anon.Lines) != 0 {
		t.Errorf("anonymous cart not cleared: %+v, %v", anon.Lines, err)
	}

	// And the merged cart lives under the account key.
	account, err := repository.NewCartRepository(f.store).Get(ctx, profile.AccountID.String())
	if err != nil || len(account.Lines) != 2 {
		t.Errorf("account cart = %+v, %v", account.Lines, err)
	}
}

func TestCartService_SubscribeNotifiesOnChange(t *testing.T) {
	f := newCartFixture(t)
	ctx := context.Background()
	product := f.seedProduct(t, "somtam", 45, 10)

	var calls int
	unsubscribe := f.cart.Subscribe(func() { calls++ })

	if err := f.cart.Add(ctx, product.ID, 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := f.cart.Clear(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("listener called %d times, want 2", calls)
	}

	unsubscribe()
	if err := f.cart.Add(ctx, product.ID, 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("unsubscribed listener called again")
	}
}

func TestProperty_CartKeepsOneLinePerProduct(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("repeated adds collapse into one line with the summed quantity", prop.ForAll(
		func(quantities []int) bool {
			f := newCartFixture(t)
			ctx := context.Background()
			product := f.seedProduct(t, "somtam", 45, 100)

			want := 0
			for _, qty := range quantities {
				if qty < 1 || qty > 20 {
					continue
				}
				if err := f.cart.Add(ctx, product.ID, qty); err != nil {
					return false
				}
				want += qty
			}
			if want == 0 {
				return true
			}

			lines, err := f.cart.Lines(ctx)
			if err != nil || len(lines) != 1 {
				return false
			}
			return lines[0].Quantity == want &&
				lines[0].Subtotal().Equal(decimal.NewFromInt(45 * int64(want)))
		},
		gen.SliceOf(gen.IntRange(1, 20)),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
