package loan

import (
	"errors"
	"fmt"
)

// ValidationError is bad caller input. Not retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e ValidationError) Is(target error) bool {
	switch target.(type) {
	case ValidationError, *ValidationError:
		return true
	}
	return false
}

// LedgerRejectedError means the ledger reverted the transaction.
// Terminal for that attempt.
type LedgerRejectedError struct {
	Op     string
	TxHash string
	Reason string
}

func (e LedgerRejectedError) Error() string {
	return fmt.Sprintf("ledger rejected %s: %s", e.Op, e.Reason)
}

func (e LedgerRejectedError) Is(target error) bool {
	switch target.(type) {
	case LedgerRejectedError, *LedgerRejectedError:
		return true
	}
	return false
}

// WalletError means the signer was unavailable or the user declined.
type WalletError struct {
	Op  string
	Err error
}

func (e WalletError) Error() string {
	if e.Err == nil {
		return "wallet error: " + e.Op
	}
	return fmt.Sprintf("wallet error during %s: %v", e.Op, e.Err)
}

func (e WalletError) Unwrap() error { return e.Err }

func (e WalletError) Is(target error) bool {
	switch target.(type) {
	case WalletError, *WalletError:
		return true
	}
	return false
}

// PersistenceError means the ledger confirmed the operation but the record
// store write failed. Confirmed carries the ledger state the record must
// converge to; a reconcile has been scheduled.
type PersistenceError struct {
	Op        string
	LoanID    uint64
	TxHash    string
	Confirmed *LedgerState
	Err       error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("%s confirmed on ledger (loan %d, tx %s) but record write failed: %v",
		e.Op, e.LoanID, e.TxHash, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

func (e PersistenceError) Is(target error) bool {
	switch target.(type) {
	case PersistenceError, *PersistenceError:
		return true
	}
	return false
}

// ConflictError means a precondition on current state failed. The caller must
// refresh and retry against the new state.
type ConflictError struct {
	LoanID uint64
	Reason string
}

func (e ConflictError) Error() string {
	if e.LoanID == 0 {
		return "conflict: " + e.Reason
	}
	return fmt.Sprintf("conflict on loan %d: %s", e.LoanID, e.Reason)
}

// Is matches any ConflictError, or only one with the same reason when the
// target carries a reason.
func (e ConflictError) Is(target error) bool {
	var t ConflictError
	switch v := target.(type) {
	case ConflictError:
		t = v
	case *ConflictError:
		if v == nil {
			return false
		}
		t = *v
	default:
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// NotFoundError represents a missing loan or party.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e NotFoundError) Is(target error) bool {
	switch target.(type) {
	case NotFoundError, *NotFoundError:
		return true
	}
	return false
}

// PendingError means the transaction was submitted but its confirmation was not
// observed before the wait was abandoned. The record store is untouched and a
// reconcile has been scheduled.
type PendingError struct {
	Op     string
	LoanID uint64
	TxHash string
	Err    error
}

func (e PendingError) Error() string {
	return fmt.Sprintf("%s submitted (tx %s) but confirmation still pending: %v", e.Op, e.TxHash, e.Err)
}

func (e PendingError) Unwrap() error { return e.Err }

func (e PendingError) Is(target error) bool {
	switch target.(type) {
	case PendingError, *PendingError:
		return true
	}
	return false
}

const reasonAlreadyMatched = "loan already matched"

var (
	ErrValidation     = ValidationError{}
	ErrLedgerRejected = LedgerRejectedError{}
	ErrWallet         = WalletError{}
	ErrPersistence    = PersistenceError{}
	ErrConflict       = ConflictError{}
	ErrAlreadyMatched = ConflictError{Reason: reasonAlreadyMatched}
	ErrNotFound       = NotFoundError{}
	ErrPending        = PendingError{}

	// ErrStaleWrite is returned by the record store when the stored record
	// already reflects a newer ledger sequence.
	ErrStaleWrite = errors.New("record store holds a newer ledger state")
	// ErrInvariant marks a projection that would break a record invariant.
	ErrInvariant = errors.New("loan invariant violated")
)

func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}
