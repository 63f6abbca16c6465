/*
errors.go - Centralized error types for the ledger engines

PURPOSE:
  All error types in one place for consistency and discoverability.
  Engines return these (often wrapped with fmt.Errorf("...: %w")) and the
  caller decides how to present them. Nothing in the engines recovers
  from an error locally: every error aborts the operation's transaction.

ERROR CATEGORIES:
  1. Lookup errors - referenced item, sale or customer is absent
  2. Validation errors - non-positive amounts, missing reason, missing customer
  3. Stock errors - quantity requested exceeds quantity on hand
  4. State errors - terminal states re-applied (cancel twice, settle twice)

USAGE:
  if errors.Is(err, ledger.ErrInsufficientStock) {
      var se *ledger.InsufficientStockError
      if errors.As(err, &se) {
          fmt.Println(se.ItemName, se.Available, se.Requested)
      }
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced item, sale or customer is absent.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock is returned when a decrement exceeds the quantity on hand.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidAmount is returned for non-positive quantities or payments.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidInput is returned for malformed arguments other than amounts.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCustomerRequired is returned when a layaway has no customer.
	ErrCustomerRequired = errors.New("customer required for layaway")

	// ErrAlreadyCancelled is returned when cancelling a cancelled sale.
	ErrAlreadyCancelled = errors.New("sale already cancelled")

	// ErrAlreadySettled is returned when a customer has nothing left to settle.
	ErrAlreadySettled = errors.New("account already settled")

	// ErrAlreadyPaid is returned when paying into a fully paid layaway.
	ErrAlreadyPaid = errors.New("sale already paid")

	// ErrInactiveItem is returned when moving or selling a deactivated item.
	ErrInactiveItem = errors.New("item is inactive")

	// ErrOpenBalance is returned when removing a customer who still owes.
	ErrOpenBalance = errors.New("customer has an open balance")

	// ErrConcurrentModification is returned when a guarded update lost a race.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError names the item and both quantities. The message is
// shown to end users as-is.
type InsufficientStockError struct {
	ItemID    ItemID
	ItemName  string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available %d, requested %d",
		e.ItemName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// NotFoundError tells which kind of record was missing.
type NotFoundError struct {
	Kind string // "item", "customer", "sale", "layaway"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AmountError describes a rejected quantity or money amount.
type AmountError struct {
	Field  string
	Value  string
	Reason string
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("invalid %s %s: %s", e.Field, e.Value, e.Reason)
}

func (e *AmountError) Unwrap() error {
	return ErrInvalidAmount
}

// InputError describes a rejected non-numeric argument.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the request clashes with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrAlreadyCancelled) ||
		errors.Is(err, ErrAlreadySettled) ||
		errors.Is(err, ErrAlreadyPaid) ||
		errors.Is(err, ErrInactiveItem) ||
		errors.Is(err, ErrOpenBalance) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrCustomerRequired)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
