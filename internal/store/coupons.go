package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adilv/go-checkout-store/internal/database"
	"github.com/adilv/go-checkout-store/internal/models"
)

var oneHundred = decimal.NewFromInt(100)

func CreateCoupon(ctx context.Context, db *sql.DB, c models.Coupon) (*models.Coupon, error) {
	switch c.Type {
	case models.CouponTypePercentage:
		if !c.Value.IsPositive() || c.Value.GreaterThan(oneHundred) {
			return nil, fmt.Errorf("percentage coupon value must be in (0, 100], got %s", c.Value)
		}
	case models.CouponTypeFixed:
		if !c.Value.IsPositive() {
			return nil, fmt.Errorf("fixed coupon value must be positive, got %s", c.Value)
		}
	default:
		return nil, fmt.Errorf("unknown coupon type %q", c.Type)
	}
	if c.MaxUsagePerUser < 1 {
		c.MaxUsagePerUser = 1
	}

	coupon := &models.Coupon{}

	query := `
		INSERT INTO coupons (code, type, value, minimum_purchase, starts_at, expires_at,
		                     max_usage, max_usage_per_user, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id, code, type, value, minimum_purchase, starts_at, expires_at,
		          max_usage, max_usage_per_user, active, created_at, updated_at`

	err := db.QueryRowContext(ctx, query,
		c.Code, c.Type, c.Value, c.MinimumPurchase, c.StartsAt, c.ExpiresAt,
		c.MaxUsage, c.MaxUsagePerUser, c.Active).Scan(
		&coupon.ID,
		&coupon.Code,
		&coupon.Type,
		&coupon.Value,
		&coupon.MinimumPurchase,
		&coupon.StartsAt,
		&coupon.ExpiresAt,
		&coupon.MaxUsage,
		&coupon.MaxUsagePerUser,
		&coupon.Active,
		&coupon.CreatedAt,
		&coupon.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create coupon: %w", err)
	}

	return coupon, nil
}

func GetCouponByCode(ctx context.Context, q Querier, code string) (*models.Coupon, error) {
	coupon := &models.Coupon{}

	query := `
		SELECT id, code, type, value, minimum_purchase, starts_at, expires_at,
		       max_usage, max_usage_per_user, active, created_at, updated_at
		FROM coupons
		WHERE code = $1`

	err := q.QueryRowContext(ctx, query, code).Scan(
		&coupon.ID,
		&coupon.Code,
		&coupon.Type,
		&coupon.Value,
		&coupon.MinimumPurchase,
		&coupon.StartsAt,
		&coupon.ExpiresAt,
		&coupon.MaxUsage,
		&coupon.MaxUsagePerUser,
		&coupon.Active,
		&coupon.CreatedAt,
		&coupon.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &database.CouponError{Code: code, Reason: database.CouponUnknownCode}
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}

	return coupon, nil
}

// checkRedeemable runs the stateless business checks: active flag, validity
// window and minimum purchase. Usage caps need the ledger and are checked
// separately.
func checkRedeemable(c *models.Coupon, purchaseAmount decimal.Decimal, now time.Time) *database.CouponError {
	if !c.Active {
		return &database.CouponError{Code: c.Code, Reason: database.CouponInactive}
	}
	if now.Before(c.StartsAt) || now.After(c.ExpiresAt) {
		return &database.CouponError{Code: c.Code, Reason: database.CouponExpired}
	}
	if purchaseAmount.LessThan(c.MinimumPurchase) {
		return &database.CouponError{Code: c.Code, Reason: database.CouponBelowMinimum}
	}
	return nil
}

// computeDiscount never returns more than the amount it is applied against.
func computeDiscount(c *models.Coupon, purchaseAmount decimal.Decimal) decimal.Decimal {
	switch c.Type {
	case models.CouponTypePercentage:
		return purchaseAmount.Mul(c.Value).Div(oneHundred).Round(2)
	case models.CouponTypeFixed:
		return decimal.Min(c.Value, purchaseAmount)
	}
	return decimal.Zero
}

// ValidateCoupon evaluates a code against a purchase amount for a user and
// returns the coupon and the discount it would grant. It is side-effect
// free: usage is recorded only by the checkout transaction, after the order
// is actually written.
func ValidateCoupon(ctx context.Context, q Querier, code string, purchaseAmount decimal.Decimal, userID int64) (*models.Coupon, decimal.Decimal, error) {
	coupon, err := GetCouponByCode(ctx, q, code)
	if err != nil {
		return nil, decimal.Zero, err
	}

	if cerr := checkRedeemable(coupon, purchaseAmount, time.Now()); cerr != nil {
		return nil, decimal.Zero, cerr
	}

	if coupon.MaxUsage != nil {
		var used int
		err := q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1`,
			coupon.ID).Scan(&used)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("count coupon usage: %w", err)
		}
		if used >= *coupon.MaxUsage {
			return nil, decimal.Zero, &database.CouponError{Code: code, Reason: database.CouponUsageExceeded}
		}
	}

	var userUsed int
	err = q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`,
		coupon.ID, userID).Scan(&userUsed)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("count user coupon usage: %w", err)
	}
	if userUsed >= coupon.MaxUsagePerUser {
		return nil, decimal.Zero, &database.CouponError{Code: code, Reason: database.CouponUserUsageExceeded}
	}

	return coupon, computeDiscount(coupon, purchaseAmount), nil
}

// RecordCouponUsage appends to the usage ledger. Only the checkout
// transaction calls this, so a rolled-back order never consumes usage.
func RecordCouponUsage(ctx context.Context, tx *sql.Tx, couponID, userID, orderID int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO coupon_usages (coupon_id, user_id, order_id, used_at)
		 VALUES ($1, $2, $3, NOW())`,
		couponID, userID, orderID)
	if err != nil {
		return fmt.Errorf("record coupon usage: %w", err)
	}
	return nil
}

func DeactivateCoupon(ctx context.Context, db *sql.DB, code string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE coupons SET active = FALSE, updated_at = NOW() WHERE code = $1`,
		code)
	if err != nil {
		return fmt.Errorf("deactivate coupon: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &database.CouponError{Code: code, Reason: database.CouponUnknownCode}
	}
	return nil
}
