package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

type Product struct {
	ID            int64           `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	SellerID      int64           `json:"seller_id"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `json:"version"`
}

// Cart belongs to either an account (UserID) or a guest session
// (SessionToken), never both.
type Cart struct {
	ID           int64      `json:"id"`
	UserID       *int64     `json:"user_id,omitempty"`
	SessionToken *string    `json:"session_token,omitempty"`
	Items        []CartItem `json:"items"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type CartItem struct {
	ID        int64     `json:"id"`
	CartID    int64     `json:"cart_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	CouponTypePercentage = "percentage"
	CouponTypeFixed      = "fixed"
)

type Coupon struct {
	ID              int64           `json:"id"`
	Code            string          `json:"code"`
	Type            string          `json:"type"`
	Value           decimal.Decimal `json:"value"`
	MinimumPurchase decimal.Decimal `json:"minimum_purchase"`
	StartsAt        time.Time       `json:"starts_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	MaxUsage        *int            `json:"max_usage,omitempty"`
	MaxUsagePerUser int             `json:"max_usage_per_user"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type CouponUsage struct {
	ID       int64     `json:"id"`
	CouponID int64     `json:"coupon_id"`
	UserID   int64     `json:"user_id"`
	OrderID  int64     `json:"order_id"`
	UsedAt   time.Time `json:"used_at"`
}

type Order struct {
	ID          int64           `json:"id"`
	OrderNumber string          `json:"order_number"`
	UserID      int64           `json:"user_id"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	FinalAmount decimal.Decimal `json:"final_amount"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int             `json:"version"`
	Items       []OrderItem     `json:"items,omitempty"`
	Coupons     []AppliedCoupon `json:"coupons,omitempty"`
}

type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	CreatedAt time.Time       `json:"created_at"`
}

type AppliedCoupon struct {
	OrderID        int64           `json:"order_id"`
	CouponID       int64           `json:"coupon_id"`
	Code           string          `json:"code"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

// SellerOrder is a seller's view of an order: only the lines for that
// seller's products, with their combined subtotal.
type SellerOrder struct {
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	BuyerID     int64           `json:"buyer_id"`
	Status      string          `json:"status"`
	Items       []OrderItem     `json:"items"`
	SellerTotal decimal.Decimal `json:"seller_total"`
	CreatedAt   time.Time       `json:"created_at"`
}

const (
	OrderStatusPending   = "pending"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// Stock bookkeeping per order: stock is decreased once on the first entry
// into shipped/delivered and restored once on cancellation after a decrease.
const (
	StockAppliedNone      = "none"
	StockAppliedDecreased = "decreased"
	StockAppliedRestored  = "restored"
)

// statusTransitions is the full set of legal moves. The same table gates
// buyer, seller and admin paths; delivered and cancelled are terminal.
var statusTransitions = map[string][]string{
	OrderStatusPending:   {OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered: {},
	OrderStatusCancelled: {},
}

func ValidStatus(status string) bool {
	_, ok := statusTransitions[status]
	return ok
}

func CanTransition(from, to string) bool {
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
