package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("workflow: operation not allowed in current state")
	// ErrNotLoaded is returned when slots, profile or provider have not been fetched yet.
	ErrNotLoaded = errors.New("workflow: availability not loaded")
	// ErrCatalogStale is returned when the slot list must be refreshed before another attempt.
	ErrCatalogStale = errors.New("workflow: slot list is out of date, refresh availability")
	// ErrUnknownSlot is returned when the chosen slot is not in the catalog.
	ErrUnknownSlot = errors.New("workflow: slot not offered by provider")
	// ErrPathNotAccepted is returned when the provider does not take the chosen settlement path.
	ErrPathNotAccepted = errors.New("workflow: provider does not accept this payment method")
	// ErrNoSettlementPath is returned when booking without choosing cash or online.
	ErrNoSettlementPath = errors.New("workflow: choose a payment method first")
	// ErrHandoffConsumed is returned when the checkout handoff was already taken.
	ErrHandoffConsumed = errors.New("workflow: checkout already opened for this order")
	// ErrNotAwaitingPayment is returned when a callback arrives outside PaymentPending.
	ErrNotAwaitingPayment = errors.New("workflow: no payment pending")
	// ErrBookingMismatch is returned when resuming payment for a different booking.
	ErrBookingMismatch = errors.New("workflow: booking does not belong to this workflow")
)

func invalidTransition(op string, from State) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, from)
}

// PaymentVerificationError means a payment callback could not be verified.
// The booking stays unpaid.
type PaymentVerificationError struct {
	BookingID string
	OrderID   string
	Reason    string
	Err       error
}

func (e *PaymentVerificationError) Error() string {
	reason := e.Reason
	if reason == "" && e.Err != nil {
		reason = e.Err.Error()
	}
	if reason == "" {
		reason = "gateway did not confirm payment"
	}
	return fmt.Sprintf("payment verification failed for booking %s: %s", e.BookingID, reason)
}

func (e *PaymentVerificationError) Unwrap() error { return e.Err }
