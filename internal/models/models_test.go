package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from    string
		to      string
		allowed bool
	}{
		{OrderStatusPending, OrderStatusShipped, true},
		{OrderStatusPending, OrderStatusDelivered, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusShipped, OrderStatusCancelled, true},
		{OrderStatusShipped, OrderStatusPending, false},
		{OrderStatusDelivered, OrderStatusCancelled, false},
		{OrderStatusDelivered, OrderStatusShipped, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusCancelled, OrderStatusShipped, false},
		{OrderStatusPending, OrderStatusPending, false},
		{OrderStatusPending, "unknown", false},
		{"unknown", OrderStatusPending, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to),
			"transition %s -> %s", tc.from, tc.to)
	}
}

func TestValidStatus(t *testing.T) {
	for _, status := range []string{OrderStatusPending, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled} {
		assert.True(t, ValidStatus(status), status)
	}
	assert.False(t, ValidStatus("confirmed"))
	assert.False(t, ValidStatus(""))
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, to := range []string{OrderStatusPending, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled} {
		assert.False(t, CanTransition(OrderStatusDelivered, to))
		assert.False(t, CanTransition(OrderStatusCancelled, to))
	}
}
