package sourcewriter

import (
	"context"
	"fmt"
	"sync"

	"github.com/fieldwire/txcore/go/graph"
)

// RequirementViolation reports that a commit's configured Requirement was
// not satisfiable given the changes actually pending (spec §4.4 Step B). Either
// more than one Source was touched, or the one Source touched was handed more
// changes than its own WriteBatchSize allows.
type RequirementViolation struct {
	Requirement    Requirement
	SourceCount    int
	SourceIdentity string
	ChangeCount    int
	BatchSize      int
}

func (e *RequirementViolation) Error() string {
	if e.SourceIdentity != "" {
		return fmt.Sprintf("sourcewriter: requirement %v violated: source %q given %d changes exceeds its batch size %d",
			e.Requirement, e.SourceIdentity, e.ChangeCount, e.BatchSize)
	}
	return fmt.Sprintf("sourcewriter: requirement %v violated: %d distinct sources touched", e.Requirement, e.SourceCount)
}

// ValidateRequirement checks bySource against requirement. RequireSingleWrite
// demands that at most one Source be touched by this commit, and that the one
// source touched isn't handed more changes than its own WriteBatchSize allows
// (spec §4.4 Step B: "if |source_changes| exceeds that one source's batch
// size ... fail"); RequireNone never fails.
func ValidateRequirement(bySource map[Source][]graph.Change, requirement Requirement) error {
	if requirement != RequireSingleWrite {
		return nil
	}
	if len(bySource) > 1 {
		return &RequirementViolation{Requirement: requirement, SourceCount: len(bySource)}
	}
	for src, changes := range bySource {
		size := src.WriteBatchSize()
		if size > 0 && len(changes) > size {
			return &RequirementViolation{
				Requirement:    requirement,
				SourceCount:    len(bySource),
				SourceIdentity: src.Identity(),
				ChangeCount:    len(changes),
				BatchSize:      size,
			}
		}
	}
	return nil
}

// batchPool recycles the []graph.Change slices used to stage a single
// WriteChanges call, since a busy commit path issues many short-lived
// batches of the same rough shape (spec §9 "object pooling").
var batchPool = sync.Pool{
	New: func() any {
		s := make([]graph.Change, 0, 16)
		return &s
	},
}

func rentBatch() *[]graph.Change {
	return batchPool.Get().(*[]graph.Change)
}

func returnBatch(b *[]graph.Change) {
	*b = (*b)[:0]
	batchPool.Put(b)
}

// SourceOutcome records the result of writing (or reverting) one source's
// share of a commit.
type SourceOutcome struct {
	Source  Source
	Written []graph.Change
	Failed  []graph.Change
	Err     error
}

// SourceWriteError wraps a Source's returned WriteResult error with the
// identity of the source that produced it (spec §7 "SourceWriteError —
// wraps a source's returned error; per property").
type SourceWriteError struct {
	SourceIdentity string
	Cause          error
}

func (e *SourceWriteError) Error() string {
	return fmt.Sprintf("sourcewriter: source %q: %v", e.SourceIdentity, e.Cause)
}

func (e *SourceWriteError) Unwrap() error { return e.Cause }

// WriteOutcome is the result of IssueWrites: the per-source outcomes in the
// order they were issued, plus the flattened successful and failed change
// sets across all sources.
type WriteOutcome struct {
	PerSource  []SourceOutcome
	Successful []graph.Change
	Failed     []graph.Change
	Errors     []error
}

// AllSucceeded reports whether every source wrote its whole batch.
func (o WriteOutcome) AllSucceeded() bool {
	return len(o.Failed) == 0
}

// IssueWrites writes each source's batch of changes, chunked to
// WriteBatchSize, in the deterministic order from orderedSources (spec §4.4
// Step C). It always writes every source regardless of earlier failures —
// BestEffort vs Rollback is decided by the caller (go/transaction) based on
// the returned WriteOutcome, since reverting requires the transaction's
// failure-mode policy, not anything sourcewriter itself must choose.
func IssueWrites(ctx context.Context, bySource map[Source][]graph.Change) WriteOutcome {
	var outcome WriteOutcome
	for _, src := range orderedSources(bySource) {
		changes := bySource[src]
		so := writeToSource(ctx, src, changes)
		outcome.PerSource = append(outcome.PerSource, so)
		outcome.Successful = append(outcome.Successful, so.Written...)
		outcome.Failed = append(outcome.Failed, so.Failed...)
		if so.Err != nil {
			outcome.Errors = append(outcome.Errors, &SourceWriteError{SourceIdentity: src.Identity(), Cause: so.Err})
		}
	}
	return outcome
}

func writeToSource(ctx context.Context, src Source, changes []graph.Change) SourceOutcome {
	so := SourceOutcome{Source: src}
	for _, chunk := range chunkFor(src, changes) {
		result := src.WriteChanges(ctx, chunk)
		failed, err, wholeBatchFailed := classify(chunk, result)
		if err != nil && so.Err == nil {
			so.Err = err
		}
		if wholeBatchFailed {
			so.Failed = append(so.Failed, chunk...)
			continue
		}
		failedSet := make(map[graph.PropertyID]struct{}, len(failed))
		for _, f := range failed {
			failedSet[f.Property] = struct{}{}
		}
		for _, c := range chunk {
			if _, bad := failedSet[c.Property]; bad {
				so.Failed = append(so.Failed, c)
			} else {
				so.Written = append(so.Written, c)
			}
		}
	}
	return so
}

// chunkFor splits changes into batches no larger than src.WriteBatchSize
// (0 meaning unlimited). Each chunk is a subslice of changes; chunkFor does
// not use batchPool (only revertOne does).
func chunkFor(src Source, changes []graph.Change) [][]graph.Change {
	size := src.WriteBatchSize()
	if size <= 0 || size >= len(changes) {
		return [][]graph.Change{changes}
	}
	var chunks [][]graph.Change
	for i := 0; i < len(changes); i += size {
		end := i + size
		if end > len(changes) {
			end = len(changes)
		}
		chunks = append(chunks, changes[i:end])
	}
	return chunks
}

// Revert issues a best-effort compensating write for every source that
// successfully wrote part of a now-failed commit, in strict reverse of the
// order IssueWrites used (spec §4.4 Step D, Open Question 2). A source's
// own WriteChanges is reused with Old/New swapped; revert failures are
// collected but never panic the caller.
func Revert(ctx context.Context, outcome WriteOutcome) []error {
	var errs []error
	for i := len(outcome.PerSource) - 1; i >= 0; i-- {
		so := outcome.PerSource[i]
		if len(so.Written) == 0 {
			continue
		}
		if err := revertOne(ctx, so); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func revertOne(ctx context.Context, so SourceOutcome) (err error) {
	batch := rentBatch()
	defer func() {
		returnBatch(batch)
		if r := recover(); r != nil {
			err = fmt.Errorf("sourcewriter: panic reverting source %q: %v", so.Source.Identity(), r)
		}
	}()
	for _, c := range so.Written {
		*batch = append(*batch, graph.Change{
			Property:   c.Property,
			Old:        c.New,
			New:        c.Old,
			Source:     c.Source,
			ChangedAt:  c.ChangedAt,
			ReceivedAt: c.ReceivedAt,
		})
	}
	result := so.Source.WriteChanges(ctx, *batch)
	_, rerr, wholeBatchFailed := classify(*batch, result)
	if wholeBatchFailed || rerr != nil {
		return fmt.Errorf("sourcewriter: revert of source %q failed: %w", so.Source.Identity(), rerr)
	}
	return nil
}
