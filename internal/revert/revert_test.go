package revert

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesSelfAndKind(t *testing.T) {
	errDup := New(ErrInvalidState, "FeeAggregator: ALREADY_FEE_TOKEN")
	wrapped := fmt.Errorf("adding token: %w", errDup)

	assert.ErrorIs(t, wrapped, errDup)
	assert.ErrorIs(t, wrapped, ErrInvalidState)
	assert.NotErrorIs(t, wrapped, ErrUnauthorized)
	assert.Equal(t, "FeeAggregator: ALREADY_FEE_TOKEN", Reason(wrapped))
}

func TestVenueWrapsBoth(t *testing.T) {
	errNoLiquidity := errors.New("desk: insufficient liquidity")
	err := Venue(errNoLiquidity)

	assert.ErrorIs(t, err, ErrVenueFailure)
	assert.ErrorIs(t, err, errNoLiquidity)
	assert.Same(t, err, Venue(err))
	assert.NoError(t, Venue(nil))
}

func TestCategory(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"plain category", ErrOutOfBounds, ErrOutOfBounds},
		{"reason", New(ErrNothingToSwap, "PSI: NOTHING_TO_SWAP"), ErrNothingToSwap},
		{"venue", Venue(errors.New("expired")), ErrVenueFailure},
		{"foreign", errors.New("boom"), nil},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Category(tt.err))
		})
	}
}

func TestReasonFallback(t *testing.T) {
	assert.Equal(t, "", Reason(nil))
	assert.Equal(t, "boom", Reason(errors.New("boom")))
}
