package service

import (
	"context"
	"testing"

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

type orderFixture struct {
	store    storage.Adapter
	identity IdentityService
	catalog  CatalogService
	cart     CartService
	orders   OrderService

	seller *domain.Profile
	buyer  *domain.Profile
}

// newOrderFixture registers a seller with two listings, then a buyer whose
// cart holds both. The buyer is the signed-in identity when it returns.
func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	store := newTestStore(t)
	identity := newTestIdentity(t, store)
	cart := NewCartService(store, identity, zap.NewNop())
	f := &orderFixture{
		store:    store,
		identity: identity,
		catalog:  NewCatalogService(store, identity, zap.NewNop()),
		cart:     cart,
		orders:   NewOrderService(store, identity, cart, zap.NewNop()),
	}
	ctx := context.Background()

	seller, err := identity.Register(ctx, sellerInput("lek@example.com"))
	if err != nil {
		t.Fatalf("seller register failed: %v", err)
	}
	f.seller = seller

	somtam := listingInput("somtam")
	somtam.Price = "45.00"
	if _, err := f.catalog.Create(ctx, somtam); err != nil {
		t.Fatalf("listing failed: %v", err)
	}
	mango := listingInput("mango")
	mango.Price = "30.00"
	if _, err := f.catalog.Create(ctx, mango); err != nil {
		t.Fatalf("listing failed: %v", err)
	}

	if err := identity.Logout(ctx); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	buyer, err := identity.Register(ctx, buyerInput("nok@example.com"))
	if err != nil {
		t.Fatalf("buyer register failed: %v", err)
	}
	f.buyer = buyer
	return f
}

func (f *orderFixture) product(t *testing.T, name string) *domain.Product {
	t.Helper()
	products, err := f.catalog.List(context.Background(), domain.ProductFilter{TextMatch: name})
	if err != nil || len(products) != 1 {
		t.Fatalf("could not find listing %s: %v", name, err)
	}
	return products[0]
}

func (f *orderFixture) fillCart(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := f.cart.Add(ctx, f.product(t, "somtam").ID, 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := f.cart.Add(ctx, f.product(t, "mango").ID, 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
}

func (f *orderFixture) checkout(t *testing.T) *domain.Order {
	t.Helper()
	order, err := f.orders.Materialize(context.Background(), domain.BuyerDetails{
		Name:    "Nok",
		Phone:   "081-234-5678",
		Address: "Bangkok",
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	return order
}

func TestOrderService_MaterializeSnapshotsAndClearsCart(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.fillCart(t)

	var cartNotified bool
	defer f.cart.Subscribe(func() { cartNotified = true })()

	order := f.checkout(t)

	if order.Status != domain.OrderStatusPending {
		t.Errorf("status = %s, want pending", order.Status)
	}
	if len(order.Lines) != 2 {
		t.Fatalf("order has %d lines, want 2", len(order.Lines))
	}
	if !order.Total.Equal(decimal.NewFromInt(120)) {
		t.Errorf("total = %s, want 120", order.Total)
	}
	if order.Buyer.Phone != "0812345678" {
		t.Errorf("buyer phone not normalized: %s", order.Buyer.Phone)
	}

	for _, line := range order.Lines {
		if line.SellerAccountID != f.seller.AccountID {
			t.Errorf("line %s seller = %s", line.ProductName, line.SellerAccountID)
		}
		if line.Seller.PromptPayID != f.seller.PromptPayID || line.Seller.LineID != f.seller.LineID {
			t.Errorf("line %s missing seller contact snapshot: %+v", line.ProductName, line.Seller)
		}
		if !line.Subtotal.Equal(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))) {
			t.Errorf("line %s subtotal = %s", line.ProductName, line.Subtotal)
		}
	}

	// Checkout and cart clearing commit together.
	lines, err := f.cart.Lines(ctx)
	if err != nil || len(lines) != 0 {
		t.Errorf("cart not cleared after checkout: %d lines, %v", len(lines), err)
	}
	if !cartNotified {
		t.Error("cart subscribers were not told about the cleared cart")
	}
}

func TestOrderService_MaterializeEmptyCart(t *testing.T) {
	f := newOrderFixture(t)

	_, err := f.orders.Materialize(context.Background(), domain.BuyerDetails{
		Name: "Nok", Phone: "0812345678", Address: "Bangkok",
	})
	if !fault.IsKind(err, fault.KindInvalid) {
		t.Errorf("empty-cart checkout returned %v, want invalid", err)
	}
}

func TestOrderService_MaterializeValidatesBuyerDetails(t *testing.T) {
	f := newOrderFixture(t)
	f.fillCart(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		details domain.BuyerDetails
		field   string
	}{
		{"blank name", domain.BuyerDetails{Phone: "0812345678", Address: "BKK"}, "name"},
		{"bad phone", domain.BuyerDetails{Name: "Nok", Phone: "123", Address: "BKK"}, "phone"},
		{"blank address", domain.BuyerDetails{Name: "Nok", Phone: "0812345678"}, "address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orders.Materialize(ctx, tt.details)
			if !fault.IsKind(err, fault.KindInvalid) || fault.FieldOf(err) != tt.field {
				t.Errorf("Materialize() = %v, want invalid %s fault", err, tt.field)
			}
		})
	}

	// The cart survives every failed checkout.
	count, err := f.cart.ItemCount(ctx)
	if err != nil || count != 3 {
		t.Errorf("cart changed by failed checkouts: %d, %v", count, err)
	}
}

func TestOrderService_MaterializeRequiresBuyer(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	if err := f.identity.Logout(ctx); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	_, err := f.orders.Materialize(ctx, domain.BuyerDetails{Name: "X", Phone: "0812345678", Address: "Y"})
	if !fault.IsKind(err, fault.KindUnauthorized) {
		t.Errorf("anonymous checkout returned %v, want unauthorized", err)
	}
}

func TestOrderService_OrderSurvivesProductMutation(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.fillCart(t)
	order := f.checkout(t)

	// Reprice one product and delete the other after the fact.
	somtam := f.product(t, "somtam")
	somtam.Price = decimal.NewFromInt(999)
	productRepo := repository.NewProductRepository(f.store)
	if err := productRepo.Save(ctx, somtam); err != nil {
		t.Fatalf("failed to reprice: %v", err)
	}
	if err := productRepo.Delete(ctx, f.product(t, "mango").ID); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}

	reloaded, err := f.orders.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !reloaded.Total.Equal(order.Total) {
		t.Errorf("order total changed: %s", reloaded.Total)
	}
	for i, line := range reloaded.Lines {
		if !line.UnitPrice.Equal(order.Lines[i].UnitPrice) {
			t.Errorf("line %s price changed: %s", line.ProductName, line.UnitPrice)
		}
	}
}

func TestOrderService_SellerAdvancesStatus(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.fillCart(t)
	order := f.checkout(t)

	if _, _, err := f.identity.Login(ctx, "lek@example.com", "secret123"); err != nil {
		t.Fatalf("seller login failed: %v", err)
	}

	confirmed, err := f.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusConfirmed)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if confirmed.Status != domain.OrderStatusConfirmed {
		t.Errorf("status = %s", confirmed.Status)
	}
	if !confirmed.UpdatedAt.After(order.UpdatedAt) {
		t.Errorf("updated-at did not move forward")
	}

	completed, err := f.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusCompleted)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if completed.Status != domain.OrderStatusCompleted {
		t.Errorf("status = %s", completed.Status)
	}

	// Terminal states are closed.
	if _, err := f.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled); !fault.IsKind(err, fault.KindInvalid) {
		t.Errorf("transition out of completed returned %v, want invalid", err)
	}
}

func TestOrderService_StatusTransitionRules(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.fillCart(t)
	order := f.checkout(t)

	if _, _, err := f.identity.Login(ctx, "lek@example.com", "secret123"); err != nil {
		t.Fatalf("seller login failed: %v", err)
	}

	if _, err := f.orders.UpdateStatus(ctx, order.ID, "shipped"); !fault.IsKind(err, fault.KindInvalid) {
		t.Errorf("unknown status returned %v, want invalid", err)
	}
	if _, err := f.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusCompleted); !fault.IsKind(err, fault.KindInvalid) {
		t.Errorf("pending to completed returned %v, want invalid", err)
	}
}

func TestOrderService_StrangerSellerCannotAdvance(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.fillCart(t)
	order := f.checkout(t)

	if err := f.identity.Logout(ctx); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	input := sellerInput("rival@example.com")
	input.Phone = "0811111111"
	if _, err := f.identity.Register(ctx, input); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	_, err := f.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusConfirmed)
	if !fault.IsKind(err, fault.KindUnauthorized) {
		t.Errorf("stranger seller advance returned %v, want unauthorized", err)
	}
}

func TestOrderService_BuyerCancelsWhilePending(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.fillCart(t)
	order := f.checkout(t)

	// Still signed in as the buyer; the order snapshot carries their phone.
	cancelled, err := f.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled)
	if err != nil {
		t.Fatalf("buyer cancel failed: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Errorf("status = %s", cancelled.Status)
	}
}

func TestOrderService_BuyerCannotCancelAfterConfirmation(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.fillCart(t)
	order := f.checkout(t)

	if _, _, err := f.identity.Login(ctx, "lek@example.com", "secret123"); err != nil {
		t.Fatalf("seller login failed: %v", err)
	}
	if _, err := f.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusConfirmed); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	if _, _, err := f.identity.Login(ctx, "nok@example.com", "secret123"); err != nil {
		t.Fatalf("buyer login failed: %v", err)
	}
	_, err := f.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled)
	if !fault.IsKind(err, fault.KindUnauthorized) {
		t.Errorf("buyer cancel after confirmation returned %v, want unauthorized", err)
	}
}

func TestOrderService_ListByStatus(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.fillCart(t)
	first := f.checkout(t)
	f.fillCart(t)
	second := f.checkout(t)

	all, err := f.orders.List(ctx, domain.OrderFilter{})
	if err != nil || len(all) != 2 {
		t.Fatalf("list = %d orders, %v", len(all), err)
	}

	// Buyer cancels the first order, then filters find each by status.
	if _, err := f.orders.UpdateStatus(ctx, first.ID, domain.OrderStatusCancelled); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	pending, err := f.orders.List(ctx, domain.OrderFilter{Status: domain.OrderStatusPending})
	if err != nil || len(pending) != 1 || pending[0].ID != second.ID {
		t.Errorf("pending filter = %+v, %v", pending, err)
	}

	if _, err := f.orders.List(ctx, domain.OrderFilter{Status: "shipped"}); !fault.IsKind(err, fault.KindInvalid) {
		t.Errorf("unknown status filter accepted")
	}
}

func TestOrderService_MaterializeKeepsInventoryUntouched(t *testing.T) {
	f := newOrderFixture(t)
	f.fillCart(t)
	before := f.product(t, "somtam").Quantity

	f.checkout(t)

	if after := f.product(t, "somtam").Quantity; after != before {
		t.Errorf("checkout changed quantity from %d to %d", before, after)
	}
}

func TestProperty_StatusMachineClosure(t *testing.T) {
	properties := gopter.NewProperties(nil)

	statuses := []string{
		domain.OrderStatusPending,
		domain.OrderStatusConfirmed,
		domain.OrderStatusCompleted,
		domain.OrderStatusCancelled,
	}
	allowed := map[string]map[string]bool{
		domain.OrderStatusPending:   {domain.OrderStatusConfirmed: true, domain.OrderStatusCancelled: true},
		domain.OrderStatusConfirmed: {domain.OrderStatusCompleted: true, domain.OrderStatusCancelled: true},
	}

	properties.Property("only the published transitions are possible", prop.ForAll(
		func(fromIdx, toIdx int) bool {
			from := statuses[fromIdx%len(statuses)]
			to := statuses[toIdx%len(statuses)]
			return domain.CanTransition(from, to) == allowed[from][to]
		},
		gen.IntRange(0, 3),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_OrderTotalIsSumOfSubtotals(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 20 // each case registers two users through bcrypt
	properties := gopter.NewProperties(params)

	properties.Property("materialized total equals the sum of line subtotals", prop.ForAll(
		func(qtySomtam, qtyMango int) bool {
			f := newOrderFixture(t)
			ctx := context.Background()

			if err := f.cart.Add(ctx, f.product(t, "somtam").ID, qtySomtam); err != nil {
				return false
			}
			if err := f.cart.Add(ctx, f.product(t, "mango").ID, qtyMango); err != nil {
				return false
			}

			order, err := f.orders.Materialize(ctx, domain.BuyerDetails{
				Name: "Nok", Phone: "0812345678", Address: "Bangkok",
			})
			if err != nil {
				return false
			}

			sum := decimal.Zero
			for _, line := range order.Lines {
				sum = sum.Add(line.Subtotal)
			}
			want := decimal.NewFromInt(45*int64(qtySomtam) + 30*int64(qtyMango))
			return order.Total.Equal(sum) && order.Total.Equal(want)
		},
		gen.IntRange(1, 10),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestOrderService_GetByIDMissing(t *testing.T) {
	f := newOrderFixture(t)

	_, err := f.orders.GetByID(context.Background(), uuid.New())
	if !fault.IsKind(err, fault.KindNotFound) {
		t.Errorf("missing order returned %v, want not-found", err)
	}
}
