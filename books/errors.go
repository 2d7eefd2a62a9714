/*
errors.go - Centralized error types for the bookkeeping engine

PURPOSE:
  All error types in one place. Every structured error unwraps to one of
  the sentinels so callers (and the HTTP layer) can classify with errors.Is.

ERROR CATEGORIES:
  1. Validation - malformed or unbalanced input (ErrValidation)
  2. State      - period closed, cheque not pending, period not open
  3. Existence  - missing entity, account without ledger heads
  4. Store      - unique constraint violations and storage failures

PROPAGATION:
  Validation and state errors are returned before anything is written.
  ErrStorage aborts the surrounding WithTx and is never retried here.

SEE ALSO:
  - store/sqlite/sqlite.go: maps driver errors onto ErrUniqueConstraint / ErrStorage
  - api/handlers.go: maps these errors onto HTTP status codes
*/
package books

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or unbalanced transaction input.
	ErrValidation = errors.New("validation failed")

	// ErrPeriodClosed is returned when posting into a month that is not the
	// account's open period.
	ErrPeriodClosed = errors.New("period closed")

	// ErrPeriodNotOpen is returned when closing a month that is not open.
	ErrPeriodNotOpen = errors.New("period not open")

	// ErrInvalidChequeState is returned when clearing or cancelling a cheque
	// that is no longer pending.
	ErrInvalidChequeState = errors.New("invalid cheque state")

	// ErrNoLedgerHeads is returned when opening a period for an account
	// that has no ledger heads.
	ErrNoLedgerHeads = errors.New("account has no ledger heads")

	// ErrUniqueConstraint is returned for duplicate booklet/receipt numbers,
	// duplicate snapshots and duplicate open periods.
	ErrUniqueConstraint = errors.New("unique constraint violation")

	// ErrStorage is returned for transport and connection failures.
	ErrStorage = errors.New("storage failure")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// PeriodClosedError names the month that was targeted and the one that is open.
type PeriodClosedError struct {
	AccountID AccountID
	Requested Month
	Open      *Month
}

func (e *PeriodClosedError) Error() string {
	if e.Open == nil {
		return fmt.Sprintf("period %s is closed for account %s (no open period)", e.Requested, e.AccountID)
	}
	return fmt.Sprintf("period %s is closed for account %s (open period is %s)", e.Requested, e.AccountID, *e.Open)
}

func (e *PeriodClosedError) Unwrap() error { return ErrPeriodClosed }

// PeriodNotOpenError is returned by ClosePeriod for a month that is not open.
type PeriodNotOpenError struct {
	AccountID AccountID
	Month     Month
}

func (e *PeriodNotOpenError) Error() string {
	return fmt.Sprintf("period %s is not open for account %s", e.Month, e.AccountID)
}

func (e *PeriodNotOpenError) Unwrap() error { return ErrPeriodNotOpen }

// InvalidChequeStateError reports a transition attempted from a terminal state.
type InvalidChequeStateError struct {
	ChequeID ChequeID
	Status   ChequeStatus
	Action   string
}

func (e *InvalidChequeStateError) Error() string {
	return fmt.Sprintf("cannot %s cheque %s: status is %s", e.Action, e.ChequeID, e.Status)
}

func (e *InvalidChequeStateError) Unwrap() error { return ErrInvalidChequeState }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Entity, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// HeadFailure records one ledger head whose recalculation failed.
type HeadFailure struct {
	LedgerHeadID LedgerHeadID
	Err          error
}

// RecalculationError lists the heads that failed during a multi-head cascade.
// The heads not listed were recalculated.
type RecalculationError struct {
	Failures []HeadFailure
}

func (e *RecalculationError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.LedgerHeadID, f.Err)
	}
	return "recalculation failed for " + strings.Join(parts, "; ")
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// StorageError wraps err so it matches ErrStorage, keeping the original cause.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict returns true if the request conflicts with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrPeriodClosed) ||
		errors.Is(err, ErrPeriodNotOpen) ||
		errors.Is(err, ErrInvalidChequeState) ||
		errors.Is(err, ErrUniqueConstraint)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
