// Package revert defines the failure taxonomy shared by every contract in the
// ledger. A failed call is always reported with one of the category sentinels
// below, usually through a reason-carrying *Error so callers can tell policy
// violations apart from transient venue failures.
package revert

import (
	"errors"
	"fmt"
)

// Failure categories.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidState        = errors.New("invalid state")
	ErrOutOfBounds         = errors.New("out of bounds")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNothingToTransfer   = errors.New("nothing to transfer")
	ErrNothingToSwap       = errors.New("nothing to swap")
	ErrVenueFailure        = errors.New("venue failure")
	ErrSupplyCapExceeded   = errors.New("supply cap exceeded")
	ErrReentrant           = errors.New("reentrant call")
	ErrInvalidInput        = errors.New("invalid input")
)

// Error is a revert with a stable reason string. It matches both itself and
// its category under errors.Is.
type Error struct {
	Kind   error
	Reason string
}

// New returns a reason-carrying revert in the given category.
func New(kind error, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func (e *Error) Error() string { return e.Reason }

// Unwrap exposes the category.
func (e *Error) Unwrap() error { return e.Kind }

// Venue wraps an error raised by the exchange venue so that it matches both
// ErrVenueFailure and the venue's own sentinel.
func Venue(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrVenueFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrVenueFailure, err)
}

// Reason returns the revert reason of err, falling back to err.Error().
func Reason(err error) string {
	var r *Error
	if errors.As(err, &r) {
		return r.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Category returns the category sentinel err belongs to, or nil when err is
// not a revert.
func Category(err error) error {
	for _, kind := range []error{
		ErrUnauthorized, ErrInvalidState, ErrOutOfBounds, ErrInsufficientBalance,
		ErrNothingToTransfer, ErrNothingToSwap, ErrVenueFailure, ErrSupplyCapExceeded,
		ErrReentrant, ErrInvalidInput,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
