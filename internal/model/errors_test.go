package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "ok"},
		{"wrapped stock", fmt.Errorf("%w: product 1", ErrInsufficientStock), "insufficient_stock"},
		{"not accepted", ErrNotAccepted, "not_accepted"},
		{"in progress", ErrCheckoutInProgress, "checkout_in_progress"},
		{"unknown", errors.New("db down"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, BargainStatusPending.Active())
	assert.True(t, BargainStatusAccepted.Active())
	assert.False(t, BargainStatusCountered.Active())
	assert.False(t, BargainStatusCompleted.Active())

	assert.True(t, OrderStatusShipped.Valid())
	assert.False(t, OrderStatus("lost").Valid())
	assert.True(t, OrderStatusCancelled.Terminal())
	assert.False(t, OrderStatusConfirmed.Terminal())
}
