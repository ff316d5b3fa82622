package tokenledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/tokenledger/id"
	"github.com/xraph/tokenledger/txn"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("tokenledger: not found")
	ErrAlreadyExists = errors.New("tokenledger: already exists")
	ErrInvalidInput  = errors.New("tokenledger: invalid input")

	// Write errors
	ErrIdempotencyMismatch = errors.New("tokenledger: idempotency key reused with different fields")

	// Hold errors
	ErrDuplicateHold   = errors.New("tokenledger: open hold already exists for ref")
	ErrVersionConflict = errors.New("tokenledger: version conflict")
	ErrCorruptedHold   = errors.New("tokenledger: hold has no state")
	ErrNotAHold        = errors.New("tokenledger: transaction is not a hold")

	// Transfer errors
	ErrPartialTransfer = errors.New("tokenledger: transfer partially applied")

	// Store errors
	ErrStore            = errors.New("tokenledger: store write failed")
	ErrQuery            = errors.New("tokenledger: store query failed")
	ErrConditionFailed  = errors.New("tokenledger: conditional update failed")
	ErrIndexUnavailable = errors.New("tokenledger: index unavailable")
	ErrStoreUnavailable = errors.New("tokenledger: store unavailable")
	ErrStoreClosed      = errors.New("tokenledger: store is closed")
	ErrMigrationFailed  = errors.New("tokenledger: migration failed")

	// Worker errors
	ErrLockHeld = errors.New("tokenledger: lock held by another worker")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tokenledger: validation failed for %s: %s", e.Field, e.Message)
}

// Is makes every ValidationError match ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// DuplicateHoldError is returned when an OPEN hold already exists for a ref.
type DuplicateHoldError struct {
	RefID          string
	ConflictingIDs []id.TransactionID
}

func (e *DuplicateHoldError) Error() string {
	ids := make([]string, len(e.ConflictingIDs))
	for i, txID := range e.ConflictingIDs {
		ids[i] = txID.String()
	}
	return fmt.Sprintf("tokenledger: open hold already exists for ref %q (%s)", e.RefID, strings.Join(ids, ", "))
}

func (e *DuplicateHoldError) Is(target error) bool { return target == ErrDuplicateHold }

// VersionConflictError is returned when a conditional update finds the row
// at a different version or state than the caller read.
type VersionConflictError struct {
	TransactionID   id.TransactionID
	ExpectedVersion int64
	ExpectedState   txn.State
	ActualVersion   int64
	ActualState     txn.State
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("tokenledger: version conflict on %s: expected v%d/%s, found v%d/%s",
		e.TransactionID, e.ExpectedVersion, stateLabel(e.ExpectedState), e.ActualVersion, stateLabel(e.ActualState))
}

func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }

func stateLabel(s txn.State) string {
	if s == txn.StateNone {
		return "<none>"
	}
	return string(s)
}

// NotFoundError names the record that could not be located.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tokenledger: %s %q not found", e.Resource, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StoreError wraps a failed store write.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("tokenledger: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Is(target error) bool { return target == ErrStore }

func (e *StoreError) Unwrap() error { return e.Err }

// QueryError wraps a failed store read. Balance reads fail with a
// QueryError rather than return a partial aggregate.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("tokenledger: %s: %v", e.Op, e.Err)
}

func (e *QueryError) Is(target error) bool { return target == ErrQuery }

func (e *QueryError) Unwrap() error { return e.Err }

// TransferLeg names one half of a transfer.
type TransferLeg string

const (
	LegDebit  TransferLeg = "debit"
	LegCredit TransferLeg = "credit"
)

// PartialTransferError is returned when the debit leg of a transfer was
// written but the credit leg was not. Retrying TransferTokens with the
// same RefID writes only the missing leg.
type PartialTransferError struct {
	RefID     string
	FailedLeg TransferLeg
	Debit     *txn.Transaction
	Err       error
}

func (e *PartialTransferError) Error() string {
	debitID := ""
	if e.Debit != nil {
		debitID = e.Debit.ID.String()
	}
	return fmt.Sprintf("tokenledger: transfer %q applied debit %s but %s leg failed: %v",
		e.RefID, debitID, e.FailedLeg, e.Err)
}

func (e *PartialTransferError) Is(target error) bool { return target == ErrPartialTransfer }

func (e *PartialTransferError) Unwrap() error { return e.Err }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "tokenledger: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("tokenledger: %d errors occurred: %v", len(e.Errors), e.Errors[0])
}

// Unwrap exposes every member to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation returns true if the error was caused by caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsIntegrityError returns true if the error points at ledger data that
// violates the hold invariants and needs an operator.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrCorruptedHold) ||
		errors.Is(err, ErrDuplicateHold) ||
		errors.Is(err, ErrPartialTransfer)
}

// IsRetryable returns true if the error is temporary and the operation can
// be retried, after a fresh read in the case of version conflicts.
func IsRetryable(err error) bool {
	if IsValidation(err) || IsIntegrityError(err) {
		return false
	}
	return errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrStore) ||
		errors.Is(err, ErrQuery)
}
