package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "23505", "23503", "23502", "23514":
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// Business errors. Handlers map these to 4xx responses; everything else is
// treated as an infrastructure failure.
var (
	ErrUserNotFound            = errors.New("user not found")
	ErrProductNotFound         = errors.New("product not found")
	ErrOrderNotFound           = errors.New("order not found")
	ErrCartNotFound            = errors.New("cart not found")
	ErrEmptyCart               = errors.New("cart is empty")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrAccessDenied            = errors.New("access denied")
	ErrOrderDeleted            = errors.New("order is deleted")
	ErrInvalidQuantity         = errors.New("quantity must be a positive integer")
	ErrLockTimeout             = errors.New("lock timeout")
)

type CouponReason string

const (
	CouponUnknownCode       CouponReason = "unknown-code"
	CouponInactive          CouponReason = "inactive"
	CouponExpired           CouponReason = "expired"
	CouponBelowMinimum      CouponReason = "below-minimum"
	CouponUsageExceeded     CouponReason = "usage-exceeded"
	CouponUserUsageExceeded CouponReason = "user-usage-exceeded"
)

// CouponError is returned for every business-rule rejection of a coupon code.
// Validation never consumes usage, so callers can retry freely.
type CouponError struct {
	Code   string
	Reason CouponReason
}

func (e *CouponError) Error() string {
	return fmt.Sprintf("invalid coupon %q: %s", e.Code, e.Reason)
}

func AsCouponError(err error) (*CouponError, bool) {
	var ce *CouponError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
