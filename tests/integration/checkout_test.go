package integration

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adilv/go-checkout-store/internal/database"
	"github.com/adilv/go-checkout-store/internal/events"
	"github.com/adilv/go-checkout-store/internal/models"
	"github.com/adilv/go-checkout-store/internal/store"
)

func createCoupon(t *testing.T, db *sql.DB, c models.Coupon) *models.Coupon {
	t.Helper()
	if c.StartsAt.IsZero() {
		c.StartsAt = time.Now().Add(-time.Hour)
	}
	if c.ExpiresAt.IsZero() {
		c.ExpiresAt = time.Now().Add(24 * time.Hour)
	}
	coupon, err := store.CreateCoupon(context.Background(), db, c)
	if err != nil {
		t.Fatalf("Create coupon: %v", err)
	}
	return coupon
}

func placeOrder(ctx context.Context, db *sql.DB, bus *events.Bus, userID int64, codes ...string) (*models.Order, error) {
	return store.PlaceOrder(ctx, db, bus, nil, store.PlaceOrderRequest{
		UserID:      userID,
		CouponCodes: codes,
	})
}

func TestPlaceOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seller1 := createUser(t, db, models.RoleSeller)
	seller2 := createUser(t, db, models.RoleSeller)
	buyer := createUser(t, db, models.RoleBuyer)
	p1 := createProduct(t, db, seller1.ID, 100, 50)
	p2 := createProduct(t, db, seller2.ID, 200, 30)
	owner := store.CartOwner{UserID: buyer.ID}

	addToCart(t, db, owner, p1.ID, 5)
	addToCart(t, db, owner, p2.ID, 3)

	bus := events.NewBus(nil)
	defer bus.Close()
	notifications := bus.Subscribe(8)

	order, err := placeOrder(ctx, db, bus, buyer.ID)
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	if order.Status != models.OrderStatusPending {
		t.Errorf("Expected pending status, got %s", order.Status)
	}

	expectedTotal := decimal.NewFromInt(100*5 + 200*3)
	if !order.TotalAmount.Equal(expectedTotal) {
		t.Errorf("Expected total %s, got %s", expectedTotal, order.TotalAmount)
	}
	if !order.FinalAmount.Equal(expectedTotal) {
		t.Errorf("Expected final %s without coupons, got %s", expectedTotal, order.FinalAmount)
	}
	if len(order.Items) != 2 {
		t.Fatalf("Expected 2 order lines, got %d", len(order.Items))
	}
	if !order.Items[0].UnitPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected captured unit price 100, got %s", order.Items[0].UnitPrice)
	}

	// Stock is untouched until fulfillment.
	if got := productStock(t, db, p1.ID); got != 50 {
		t.Errorf("Expected p1 stock 50, got %d", got)
	}
	if got := productStock(t, db, p2.ID); got != 30 {
		t.Errorf("Expected p2 stock 30, got %d", got)
	}

	cart, err := store.GetCart(ctx, db, owner)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Errorf("Cart should be cleared after checkout, got %d items", len(cart.Items))
	}

	// One newOrder notification per distinct seller.
	sellers := map[int64]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-notifications:
			if ev.Type != events.TypeNewOrder {
				t.Errorf("Expected newOrder event, got %s", ev.Type)
			}
			if ev.OrderID != order.ID || ev.BuyerID != buyer.ID {
				t.Errorf("Unexpected event payload: %+v", ev)
			}
			sellers[ev.SellerID] = true
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for seller notification")
		}
	}
	if !sellers[seller1.ID] || !sellers[seller2.ID] {
		t.Errorf("Expected notifications for both sellers, got %v", sellers)
	}
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	buyer := createUser(t, db, models.RoleBuyer)

	// No cart at all.
	if _, err := placeOrder(ctx, db, nil, buyer.ID); !errors.Is(err, database.ErrEmptyCart) {
		t.Errorf("Expected ErrEmptyCart, got %v", err)
	}

	// A cart that exists but has no lines.
	seller := createUser(t, db, models.RoleSeller)
	p := createProduct(t, db, seller.ID, 100, 10)
	owner := store.CartOwner{UserID: buyer.ID}
	addToCart(t, db, owner, p.ID, 1)
	if err := store.ClearCart(ctx, db, owner); err != nil {
		t.Fatalf("Clear cart: %v", err)
	}

	if _, err := placeOrder(ctx, db, nil, buyer.ID); !errors.Is(err, database.ErrEmptyCart) {
		t.Errorf("Expected ErrEmptyCart for empty cart, got %v", err)
	}
}

func TestPlaceOrderWithPercentageCoupon(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seller := createUser(t, db, models.RoleSeller)
	buyer := createUser(t, db, models.RoleBuyer)
	p := createProduct(t, db, seller.ID, 100, 50)
	owner := store.CartOwner{UserID: buyer.ID}

	maxUsage := 100
	createCoupon(t, db, models.Coupon{
		Code:            "SAVE10",
		Type:            models.CouponTypePercentage,
		Value:           decimal.NewFromInt(10),
		MinimumPurchase: decimal.NewFromInt(50),
		MaxUsage:        &maxUsage,
		MaxUsagePerUser: 1,
		Active:          true,
	})

	addToCart(t, db, owner, p.ID, 2)

	order, err := placeOrder(ctx, db, nil, buyer.ID, "SAVE10")
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	if !order.TotalAmount.Equal(decimal.NewFromInt(200)) {
		t.Errorf("Expected total 200, got %s", order.TotalAmount)
	}
	if !order.FinalAmount.Equal(decimal.NewFromInt(180)) {
		t.Errorf("Expected final 180 after 10%% discount, got %s", order.FinalAmount)
	}
	if len(order.Coupons) != 1 || order.Coupons[0].Code != "SAVE10" {
		t.Fatalf("Expected applied coupon SAVE10, got %+v", order.Coupons)
	}
	if !order.Coupons[0].DiscountAmount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected discount 20, got %s", order.Coupons[0].DiscountAmount)
	}

	// Reapplying the same code on a new order exceeds maxUsagePerUser.
	addToCart(t, db, owner, p.ID, 2)
	_, err = placeOrder(ctx, db, nil, buyer.ID, "SAVE10")
	cerr, ok := database.AsCouponError(err)
	if !ok {
		t.Fatalf("Expected CouponError, got %v", err)
	}
	if cerr.Reason != database.CouponUserUsageExceeded {
		t.Errorf("Expected user-usage-exceeded, got %s", cerr.Reason)
	}

	// The failed checkout left the cart alone.
	cart, err := store.GetCart(ctx, db, owner)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 2 {
		t.Errorf("Cart should be untouched after failed checkout, got %+v", cart.Items)
	}
}

func TestPlaceOrderInvalidCouponAbortsWholeCheckout(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seller := createUser(t, db, models.RoleSeller)
	buyer := createUser(t, db, models.RoleBuyer)
	p := createProduct(t, db, seller.ID, 100, 50)
	owner := store.CartOwner{UserID: buyer.ID}

	createCoupon(t, db, models.Coupon{
		Code:            "GOOD",
		Type:            models.CouponTypeFixed,
		Value:           decimal.NewFromInt(10),
		MaxUsagePerUser: 1,
		Active:          true,
	})

	addToCart(t, db, owner, p.ID, 1)

	// Valid code first, unknown code second: nothing may be applied.
	_, err := placeOrder(ctx, db, nil, buyer.ID, "GOOD", "NOPE")
	cerr, ok := database.AsCouponError(err)
	if !ok {
		t.Fatalf("Expected CouponError, got %v", err)
	}
	if cerr.Reason != database.CouponUnknownCode {
		t.Errorf("Expected unknown-code, got %s", cerr.Reason)
	}

	var orderCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&orderCount); err != nil {
		t.Fatalf("Count orders: %v", err)
	}
	if orderCount != 0 {
		t.Errorf("Expected no orders after aborted checkout, got %d", orderCount)
	}

	var usageCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM coupon_usages`).Scan(&usageCount); err != nil {
		t.Fatalf("Count usages: %v", err)
	}
	if usageCount != 0 {
		t.Errorf("Expected no usage recorded for GOOD, got %d", usageCount)
	}

	cart, err := store.GetCart(ctx, db, owner)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Errorf("Cart should be untouched, got %d items", len(cart.Items))
	}
}

func TestPlaceOrderFinalAmountFlooredAtZero(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seller := createUser(t, db, models.RoleSeller)
	buyer := createUser(t, db, models.RoleBuyer)
	p := createProduct(t, db, seller.ID, 100, 50)
	owner := store.CartOwner{UserID: buyer.ID}

	createCoupon(t, db, models.Coupon{
		Code:            "HALF",
		Type:            models.CouponTypePercentage,
		Value:           decimal.NewFromInt(60),
		MaxUsagePerUser: 1,
		Active:          true,
	})
	createCoupon(t, db, models.Coupon{
		Code:            "ALSO",
		Type:            models.CouponTypePercentage,
		Value:           decimal.NewFromInt(60),
		MaxUsagePerUser: 1,
		Active:          true,
	})

	addToCart(t, db, owner, p.ID, 1)

	order, err := placeOrder(ctx, db, nil, buyer.ID, "HALF", "ALSO")
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}
	if !order.FinalAmount.Equal(decimal.Zero) {
		t.Errorf("Expected final amount 0, got %s", order.FinalAmount)
	}
	if !order.TotalAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected total 100, got %s", order.TotalAmount)
	}
}

func TestCouponGlobalUsageCap(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seller := createUser(t, db, models.RoleSeller)
	buyer1 := createUser(t, db, models.RoleBuyer)
	buyer2 := createUser(t, db, models.RoleBuyer)
	p := createProduct(t, db, seller.ID, 100, 50)

	maxUsage := 1
	createCoupon(t, db, models.Coupon{
		Code:            "ONCE",
		Type:            models.CouponTypeFixed,
		Value:           decimal.NewFromInt(10),
		MaxUsage:        &maxUsage,
		MaxUsagePerUser: 1,
		Active:          true,
	})

	addToCart(t, db, store.CartOwner{UserID: buyer1.ID}, p.ID, 1)
	addToCart(t, db, store.CartOwner{UserID: buyer2.ID}, p.ID, 1)

	if _, err := placeOrder(ctx, db, nil, buyer1.ID, "ONCE"); err != nil {
		t.Fatalf("First use: %v", err)
	}

	_, err := placeOrder(ctx, db, nil, buyer2.ID, "ONCE")
	cerr, ok := database.AsCouponError(err)
	if !ok {
		t.Fatalf("Expected CouponError, got %v", err)
	}
	if cerr.Reason != database.CouponUsageExceeded {
		t.Errorf("Expected usage-exceeded, got %s", cerr.Reason)
	}
}

func TestValidateCouponIsSideEffectFree(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	buyer := createUser(t, db, models.RoleBuyer)

	createCoupon(t, db, models.Coupon{
		Code:            "CHECKME",
		Type:            models.CouponTypeFixed,
		Value:           decimal.NewFromInt(10),
		MaxUsagePerUser: 1,
		Active:          true,
	})

	for i := 0; i < 3; i++ {
		_, discount, err := store.ValidateCoupon(ctx, db, "CHECKME", decimal.NewFromInt(100), buyer.ID)
		if err != nil {
			t.Fatalf("Validation %d should pass: %v", i, err)
		}
		if !discount.Equal(decimal.NewFromInt(10)) {
			t.Errorf("Expected discount 10, got %s", discount)
		}
	}

	var usageCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM coupon_usages`).Scan(&usageCount); err != nil {
		t.Fatalf("Count usages: %v", err)
	}
	if usageCount != 0 {
		t.Errorf("Validation must not consume usage, found %d entries", usageCount)
	}
}
