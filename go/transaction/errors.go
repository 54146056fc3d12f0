package transaction

import (
	"fmt"
	"strings"

	"github.com/fieldwire/txcore/go/graph"
)

// NestedTransactionError is returned by Begin when the calling logical flow
// already has a current transaction (spec §4.5 "Begin" step 1, §7).
type NestedTransactionError struct{}

func (*NestedTransactionError) Error() string {
	return "transaction: nested transactions are not supported"
}

// AlreadyCommittedError is returned by Commit on a transaction that has
// already committed successfully (spec §3 invariant, §7).
type AlreadyCommittedError struct{}

func (*AlreadyCommittedError) Error() string {
	return "transaction: already committed"
}

// ObjectDisposedError is returned by Commit on a disposed transaction (spec
// §3 invariant, §7).
type ObjectDisposedError struct{}

func (*ObjectDisposedError) Error() string {
	return "transaction: object disposed"
}

// ConflictError is Stage 1's optimistic-locking failure: the stored value
// for Property diverged from the old value captured at the first write
// within the transaction (spec §4.5 Stage 1, §7). Thrown standalone, never
// wrapped in TransactionError.
type ConflictError struct {
	Property graph.PropertyID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("transaction: conflict on %s", e.Property)
}

// TypeCoercionError is returned before the interceptor chain runs at all
// when a value cannot be coerced to its property's declared type (spec
// §4.1, §7). It never reaches the pending buffer.
type TypeCoercionError struct {
	Property graph.PropertyID
	Value    any
	Want     string
}

func (e *TypeCoercionError) Error() string {
	return fmt.Sprintf("transaction: cannot coerce %v to %s for %s", e.Value, e.Want, e.Property)
}

// DerivedPropertyWriteError is surfaced when capture rejects a write to a
// derived property; the pending buffer is left untouched (spec §4.1, §3
// invariant, §9 Open Question 3).
type DerivedPropertyWriteError struct {
	Property graph.PropertyID
}

func (e *DerivedPropertyWriteError) Error() string {
	return fmt.Sprintf("transaction: %s is derived; writes are rejected", e.Property)
}

// ValidationFailedError aggregates the ValidationErrors a configured
// Validator raised against a single write during capture (spec §6, §7).
type ValidationFailedError struct {
	Property graph.PropertyID
	Causes   []graph.ValidationError
}

func (e *ValidationFailedError) Error() string {
	msgs := make([]string, len(e.Causes))
	for i, c := range e.Causes {
		msgs[i] = c.Message
	}
	return fmt.Sprintf("transaction: validation failed for %s: %s", e.Property, strings.Join(msgs, "; "))
}

// LocalApplyError wraps an error returned while applying a change's new
// value during commit Stage 4 (spec §7): either the write chain's error or
// a failure to resolve the property. Panics are not recovered.
type LocalApplyError struct {
	Property graph.PropertyID
	Cause    error
}

func (e *LocalApplyError) Error() string {
	return fmt.Sprintf("transaction: local apply of %s failed: %v", e.Property, e.Cause)
}

func (e *LocalApplyError) Unwrap() error { return e.Cause }

// RevertError wraps a failure reverting a previously-applied local change or
// source write during Rollback (spec §7). Appended to the outcome's errors,
// never replacing the original failure.
type RevertError struct {
	Property graph.PropertyID
	Cause    error
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("transaction: revert of %s failed: %v", e.Property, e.Cause)
}

func (e *RevertError) Unwrap() error { return e.Cause }

// TransactionError is the aggregate outcome of a commit that had any
// failure (spec §4.5 Stage 5, §7). It always carries Applied, Failed,
// Errors, and the derived IsPartialSuccess flag.
type TransactionError struct {
	Applied          []graph.Change
	Failed           []graph.Change
	Errors           []error
	IsPartialSuccess bool
}

func (e *TransactionError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("transaction: commit failed (%d applied, %d failed): %s",
		len(e.Applied), len(e.Failed), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual causes to errors.Is/errors.As.
func (e *TransactionError) Unwrap() []error { return e.Errors }
