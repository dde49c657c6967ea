package database

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorClassPermanent},
		{"serialization failure", &pq.Error{Code: "40001"}, ErrorClassSerialization},
		{"deadlock", &pq.Error{Code: "40P01"}, ErrorClassDeadlock},
		{"lock not available", &pq.Error{Code: "55P03"}, ErrorClassTransient},
		{"unique violation", &pq.Error{Code: "23505"}, ErrorClassPermanent},
		{"no rows", sql.ErrNoRows, ErrorClassPermanent},
		{"business error", ErrInsufficientStock, ErrorClassPermanent},
		{"wrapped serialization", fmt.Errorf("commit: %w", &pq.Error{Code: "40001"}), ErrorClassSerialization},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyError(tc.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pq.Error{Code: "40001"}))
	assert.True(t, IsRetryable(&pq.Error{Code: "40P01"}))
	assert.False(t, IsRetryable(ErrEmptyCart))
	assert.False(t, IsRetryable(errors.New("boom")))
}

func TestAsCouponError(t *testing.T) {
	base := &CouponError{Code: "SAVE10", Reason: CouponExpired}
	wrapped := fmt.Errorf("validate: %w", base)

	cerr, ok := AsCouponError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "SAVE10", cerr.Code)
	assert.Equal(t, CouponExpired, cerr.Reason)

	_, ok = AsCouponError(ErrEmptyCart)
	assert.False(t, ok)
}
