/*
errors.go - Error types for the points ledger

PURPOSE:
  All ledger and sign-in error types in one place.
  Callers branch with errors.Is on the sentinels; structured errors carry
  detail for responses and logs and unwrap to their sentinel.

ERROR CATEGORIES:
  1. Client errors - InvalidAmount, InsufficientBalance, AlreadySignedToday
  2. Storage conflicts - ConcurrentModification (retried by the ledger)
  3. System errors - everything else, wrapped in *SystemError

SEE ALSO:
  - ledger.go: Produces and wraps these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package points

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when a credit or debit amount is not positive.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientBalance is returned when a debit exceeds the current balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAlreadySignedToday is returned when the user already has today's sign-in.
	ErrAlreadySignedToday = errors.New("already signed in today")

	// ErrAccountNotFound is returned by stores when no account row exists.
	// The ledger creates accounts lazily and never surfaces it.
	ErrAccountNotFound = errors.New("account not found")

	// ErrConcurrentModification is returned by stores when a transaction lost
	// a race (busy database, serialization failure, deadlock).
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateSignIn is returned by stores on a (user, date) uniqueness violation.
	ErrDuplicateSignIn = errors.New("duplicate sign-in for date")

	// ErrInvalidRange is returned when a date range is reversed or too long.
	ErrInvalidRange = errors.New("invalid date range")

	// ErrSystem marks unexpected failures. Use errors.Is(err, ErrSystem).
	ErrSystem = errors.New("system error")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	UserID    UserID
	Available int64
	Requested int64
	Shortfall int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// AlreadySignedError provides the existing entry when a second sign-in is attempted.
type AlreadySignedError struct {
	UserID   UserID
	Date     Day
	Existing *SignInEntry // nil when only the unique constraint told us
}

func (e *AlreadySignedError) Error() string {
	return fmt.Sprintf("user %s already signed in on %s", e.UserID, e.Date)
}

func (e *AlreadySignedError) Unwrap() error {
	return ErrAlreadySignedToday
}

// SystemError wraps an unexpected failure with the operation and user it hit.
type SystemError struct {
	Op     string
	UserID UserID
	Err    error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("%s for user %s: %v", e.Op, e.UserID, e.Err)
}

func (e *SystemError) Unwrap() []error {
	return []error{ErrSystem, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAlreadySignedToday) ||
		errors.Is(err, ErrInvalidRange)
}

// systemError wraps err unless it is already a business error or a SystemError.
func systemError(op string, userID UserID, err error) error {
	if err == nil || IsClientError(err) || errors.Is(err, ErrSystem) {
		return err
	}
	return &SystemError{Op: op, UserID: userID, Err: err}
}
