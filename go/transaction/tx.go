package transaction

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/fieldwire/txcore/go/graph"
	"github.com/fieldwire/txcore/go/intercept"
	"github.com/fieldwire/txcore/go/sourcewriter"
	"github.com/fieldwire/txcore/go/txbuffer"
)

// State is a transaction's position in the Open → Committing →
// {Committed|Faulted} → Disposed lifecycle (spec §4.5).
type State int

const (
	Open State = iota
	Committing
	Committed
	Faulted
	Disposed
)

func (s State) String() string {
	switch s {
	case Open:
		return "Open"
	case Committing:
		return "Committing"
	case Committed:
		return "Committed"
	case Faulted:
		return "Faulted"
	case Disposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// BeginOptions configures a transaction at Begin time (spec §3
// "Transaction").
type BeginOptions struct {
	FailureMode      sourcewriter.FailureMode
	LockMode         LockMode
	ConflictBehavior ConflictBehavior
	Requirement      sourcewriter.Requirement
	// CommitTimeout bounds Commit; zero means no timeout. Once Commit
	// begins, the caller's own ctx cancellation is no longer observed —
	// only this timeout can abort it (spec §4.5, §5 "Cancellation").
	CommitTimeout time.Duration
}

// Tx is a single transaction: a scope aggregating property writes into one
// commit (spec §3 "Transaction", glossary).
type Tx struct {
	id      uuid.UUID
	owner   *Context
	opts    BeginOptions
	buffer  *txbuffer.Buffer

	mu            sync.Mutex
	state         State
	exclusiveHeld bool
}

// ID returns the transaction's identity.
func (tx *Tx) ID() uuid.UUID { return tx.id }

// State returns the transaction's current lifecycle state.
func (tx *Tx) State() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Begin opens a transaction on c. It fails with NestedTransactionError if
// ctx already carries a current transaction for this logical flow (spec
// §4.5 "Begin" step 1), and honors ctx's cancellation before acquiring
// anything (step 3). The returned context must be used for every write
// belonging to this transaction and its awaited continuations; discard it
// after Commit or Dispose (step 4 — there is no way to "pop" a value from a
// Go context, so going back to using the original ctx is how a caller
// clears the current-transaction slot).
func Begin(ctx context.Context, c *Context, opts BeginOptions) (*Tx, context.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, ctx, err
	}
	if _, ok := CurrentTx(ctx); ok {
		return nil, ctx, &NestedTransactionError{}
	}

	tx := &Tx{
		id:     uuid.New(),
		owner:  c,
		opts:   opts,
		buffer: txbuffer.New(),
		state:  Open,
	}

	if opts.LockMode == Exclusive {
		if err := c.lock.Lock(ctx); err != nil {
			return nil, ctx, err
		}
		tx.exclusiveHeld = true
	}

	return tx, withCurrent(ctx, tx), nil
}

// Dispose idempotently ends the transaction. If it was never committed,
// this is an implicit rollback: since capture only ever wrote into the
// pending buffer (nothing reached the store), rollback is simply discarding
// that buffer (spec §4.5 "Dispose").
func (tx *Tx) Dispose() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state == Disposed {
		return nil
	}
	if tx.state == Open || tx.state == Committing {
		tx.buffer.RemoveAll()
	}
	if tx.exclusiveHeld {
		tx.owner.lock.Unlock()
		tx.exclusiveHeld = false
	}
	tx.state = Disposed
	return nil
}

func (tx *Tx) beginCommit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	switch tx.state {
	case Disposed:
		return &ObjectDisposedError{}
	case Committed:
		return &AlreadyCommittedError{}
	case Open:
		tx.state = Committing
		return nil
	default:
		return fmt.Errorf("transaction: commit called in state %s", tx.state)
	}
}

func (tx *Tx) finish(state State) {
	tx.mu.Lock()
	tx.state = state
	tx.mu.Unlock()
}

// Commit runs the five-stage commit protocol (spec §4.5). userCtx is
// checked once, on entry: if it is already done, Commit returns its error
// and the transaction stays Open. After that, only the transaction's
// CommitTimeout can abort it.
func (tx *Tx) Commit(userCtx context.Context) error {
	if err := userCtx.Err(); err != nil {
		return err
	}
	if err := tx.beginCommit(); err != nil {
		return err
	}

	start := time.Now()
	commitCtx := context.Background()
	if tx.opts.CommitTimeout > 0 {
		var cancel context.CancelFunc
		commitCtx, cancel = context.WithTimeout(commitCtx, tx.opts.CommitTimeout)
		defer cancel()
	}
	// Stage operations must see the store's actual values and apply
	// bypassing the transaction interceptor, never this (or any) tx's own
	// capture — SuppressInheritance guarantees that regardless of what
	// userCtx happened to carry.
	commitCtx = SuppressInheritance(commitCtx)

	if tx.opts.LockMode == Optimistic {
		if err := tx.owner.lock.Lock(commitCtx); err != nil {
			tx.finish(Faulted)
			return err
		}
		defer tx.owner.lock.Unlock()
	}

	pending := tx.buffer.Snapshot()
	if tx.owner.metrics != nil {
		tx.owner.metrics.PendingDepth.Set(float64(len(pending)))
	}

	if err := tx.checkConflicts(commitCtx, pending); err != nil {
		tx.finish(Faulted)
		if tx.owner.metrics != nil {
			tx.owner.metrics.ConflictsTotal.Inc()
		}
		return err
	}

	bySource, local := sourcewriter.Partition(pending, tx.owner.bindings)

	if err := sourcewriter.ValidateRequirement(bySource, tx.opts.Requirement); err != nil {
		return tx.report(commitCtx, start, tx.commitLocalOnly(commitCtx, local), flattenSources(bySource), []error{err})
	}

	writeOutcome := sourcewriter.IssueWrites(commitCtx, bySource)
	sourceFailed := !writeOutcome.AllSucceeded()
	var errs []error
	errs = append(errs, writeOutcome.Errors...)
	tx.recordSourceWrites(writeOutcome)

	if sourceFailed && tx.opts.FailureMode == sourcewriter.Rollback {
		revertErrs := sourcewriter.Revert(commitCtx, writeOutcome)
		tx.recordSourceReverts(writeOutcome, revertErrs)
		errs = append(errs, revertErrs...)
		// The reverted changes did not survive the commit either; fold them
		// into Failed so the reported outcome reflects final store state,
		// not merely which source call initially failed.
		writeOutcome.Failed = append(writeOutcome.Failed, writeOutcome.Successful...)
		writeOutcome.Successful = nil
		errs = append(errs, errors.New("transaction: rollback was attempted"))
	}

	shouldApply := tx.opts.FailureMode == sourcewriter.BestEffort || !sourceFailed
	var applied, localFailed []graph.Change
	if shouldApply {
		toApply := append(append([]graph.Change(nil), writeOutcome.Successful...), local...)
		rollbackOnFailure := tx.opts.FailureMode == sourcewriter.Rollback
		var applyErrs []error
		var abortedSources bool
		applied, localFailed, applyErrs, abortedSources = tx.applyChanges(commitCtx, toApply, rollbackOnFailure)
		errs = append(errs, applyErrs...)
		if abortedSources && len(writeOutcome.Successful) > 0 {
			revertErrs := sourcewriter.Revert(commitCtx, writeOutcome)
			tx.recordSourceReverts(writeOutcome, revertErrs)
			errs = append(errs, revertErrs...)
		}
	} else {
		localFailed = local
	}

	failed := append(append([]graph.Change(nil), writeOutcome.Failed...), localFailed...)
	return tx.report(commitCtx, start, applied, failed, errs)
}

// checkConflicts implements Stage 1: for Optimistic transactions, compares
// each pending change's captured Old against the store's actual current
// value (spec §4.5 Stage 1).
func (tx *Tx) checkConflicts(ctx context.Context, pending []graph.Change) error {
	if tx.opts.LockMode != Optimistic {
		return nil
	}
	for _, change := range pending {
		prop, ok := tx.owner.resolveProperty(change.Property)
		if !ok {
			continue
		}
		current, err := tx.owner.chain.Read(ctx, prop)
		if err != nil {
			continue
		}
		if valuesEqual(current, change.Old) {
			continue
		}
		if tx.opts.ConflictBehavior == FailOnConflict {
			return &ConflictError{Property: change.Property}
		}
		// Ignore: proceed, overwriting the externally made change.
	}
	return nil
}

// commitLocalOnly applies only local (source-less) changes, used when
// Stage 2's SingleWrite validation fails: local changes aren't subject to
// that requirement and are still applied (spec §4.4 Step B).
func (tx *Tx) commitLocalOnly(ctx context.Context, local []graph.Change) []graph.Change {
	applied, _, _, _ := tx.applyChanges(ctx, local, false)
	return applied
}

// applyChanges writes each change's New value to the store, bypassing the
// transaction interceptor (spec §4.5 Stage 4). When rollbackOnFailure is
// true, the first failure reverts everything applied so far (in reverse
// order) and marks every not-yet-attempted change as failed too, reporting
// aborted=true so the caller also knows to revert any successful source
// writes.
func (tx *Tx) applyChanges(ctx context.Context, changes []graph.Change, rollbackOnFailure bool) (applied, failed []graph.Change, errs []error, aborted bool) {
	for i, change := range changes {
		prop, ok := tx.owner.resolveProperty(change.Property)
		var applyErr error
		if !ok {
			applyErr = fmt.Errorf("transaction: cannot resolve property %s", change.Property)
		} else {
			applyErr = tx.applyOne(ctx, prop, change)
		}
		if applyErr == nil {
			applied = append(applied, change)
			continue
		}

		errs = append(errs, &LocalApplyError{Property: change.Property, Cause: applyErr})
		failed = append(failed, change)
		if rollbackOnFailure {
			errs = append(errs, tx.revertApplied(ctx, applied)...)
			failed = append(failed, changes[i+1:]...)
			return nil, failed, errs, true
		}
	}
	return applied, failed, errs, false
}

func (tx *Tx) applyOne(ctx context.Context, prop graph.Property, change graph.Change) error {
	return tx.owner.chain.WriteBypassingRole(ctx, prop, change.New, change.Old, intercept.RoleTransaction)
}

func (tx *Tx) revertApplied(ctx context.Context, applied []graph.Change) []error {
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		c := applied[i]
		prop, ok := tx.owner.resolveProperty(c.Property)
		if !ok {
			errs = append(errs, fmt.Errorf("transaction: cannot resolve property %s for revert", c.Property))
			continue
		}
		if err := tx.applyOne(ctx, prop, graph.Change{Property: c.Property, Old: c.New, New: c.Old}); err != nil {
			errs = append(errs, &RevertError{Property: c.Property, Cause: err})
		}
	}
	return errs
}

// recordSourceWrites reports each source's Stage 3 outcome to the
// SourceWrites counter: "success" (whole batch written), "partial" (some of
// the batch failed), or "failure" (none of it did).
func (tx *Tx) recordSourceWrites(outcome sourcewriter.WriteOutcome) {
	if tx.owner.metrics == nil {
		return
	}
	for _, so := range outcome.PerSource {
		label := "success"
		switch {
		case len(so.Failed) > 0 && len(so.Written) > 0:
			label = "partial"
		case len(so.Failed) > 0 || so.Err != nil:
			label = "failure"
		}
		tx.owner.metrics.SourceWrites.WithLabelValues(so.Source.Identity(), label).Inc()
	}
}

// recordSourceReverts reports a revert attempt for every source that had
// something written, using revertErrs' emptiness as the only available
// success signal (sourcewriter.Revert doesn't expose which specific source
// in the batch produced which error).
func (tx *Tx) recordSourceReverts(outcome sourcewriter.WriteOutcome, revertErrs []error) {
	if tx.owner.metrics == nil {
		return
	}
	label := "success"
	if len(revertErrs) > 0 {
		label = "failure"
	}
	for _, so := range outcome.PerSource {
		if len(so.Written) == 0 {
			continue
		}
		tx.owner.metrics.SourceReverts.WithLabelValues(so.Source.Identity(), label).Inc()
	}
}

// report implements Stage 5: empty the pending buffer and return either nil
// (full success) or a *TransactionError (spec §4.5 Stage 5, §7).
func (tx *Tx) report(ctx context.Context, start time.Time, applied, failed []graph.Change, errs []error) error {
	tx.buffer.RemoveAll()

	if tx.owner.metrics != nil {
		tx.owner.metrics.CommitDuration.Observe(time.Since(start).Seconds())
	}

	if len(errs) == 0 {
		tx.finish(Committed)
		if tx.owner.metrics != nil {
			tx.owner.metrics.CommitsTotal.WithLabelValues("committed").Inc()
		}
		log.WithFields(log.Fields{"tx": tx.id, "applied": len(applied)}).Debug("transaction committed")
		return nil
	}

	tx.finish(Faulted)
	if tx.owner.metrics != nil {
		tx.owner.metrics.CommitsTotal.WithLabelValues("faulted").Inc()
	}
	log.WithFields(log.Fields{
		"tx":      tx.id,
		"applied": len(applied),
		"failed":  len(failed),
		"errors":  len(errs),
	}).Warn("transaction commit faulted")
	return &TransactionError{
		Applied:          applied,
		Failed:           failed,
		Errors:           errs,
		IsPartialSuccess: len(applied) > 0 && len(failed) > 0,
	}
}

// valuesEqual compares two property values for Stage 1's conflict check.
// Property values are ordinarily comparable scalars, but a Source or
// Validator could in principle hand back an uncomparable type (a slice or
// map); reflect.DeepEqual never panics where == would.
func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func flattenSources(bySource map[sourcewriter.Source][]graph.Change) []graph.Change {
	var out []graph.Change
	for _, changes := range bySource {
		out = append(out, changes...)
	}
	return out
}
