package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrMalformedCart       = errors.New("malformed cart")
	ErrUnknownProduct      = errors.New("unknown product")
	ErrEmptyCart           = errors.New("empty cart")
	ErrStockExhausted      = errors.New("stock exhausted")
	ErrOutOfStock          = errors.New("out of stock")
	ErrCorruptClaimRecord  = errors.New("corrupt claim record")
	ErrClaimFailure        = errors.New("claim failure")

	// ErrSessionNotFound is returned by gateways for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrClaimRecordExists is returned when a conditional record write loses.
	ErrClaimRecordExists = errors.New("claim record already exists")
	// ErrClaimInProgress is returned when the session lock cannot be taken in time.
	ErrClaimInProgress = errors.New("claim in progress")
)

// OutOfStockError reports which product ran out during a cart claim.
type OutOfStockError struct {
	ProductID string
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("OutOfStock: %s", e.ProductID)
}

func (e *OutOfStockError) Unwrap() []error {
	return []error{ErrOutOfStock, ErrStockExhausted}
}

// PartialClaimError carries the keys a failed claim had already issued.
// Those keys are consumed and must be reported to the caller.
type PartialClaimError struct {
	Keys []ClaimedKey
	Err  error
}

func (e *PartialClaimError) Error() string {
	return fmt.Sprintf("%v (%d keys issued)", e.Err, len(e.Keys))
}

func (e *PartialClaimError) Unwrap() error {
	return e.Err
}
