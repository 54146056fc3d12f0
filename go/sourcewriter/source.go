// Package sourcewriter implements the Source Transaction Writer (spec §4.4,
// component C4): the source-facing half of a commit. It partitions a
// transaction's pending changes by the external Source each touched
// property is bound to, issues batched writes, and on failure either
// reports partial success (BestEffort) or reverts every successful source
// in reverse order (Rollback).
package sourcewriter

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/minio/highwayhash"

	"github.com/fieldwire/txcore/go/graph"
)

// Source is the external writable/readable endpoint a property may be
// bound to (spec §6). Identity is reference identity — two Source values
// naming the same remote endpoint must compare equal so Partition groups
// their changes together.
type Source interface {
	// Identity names this source stably across commits, used only to pick
	// a deterministic write order in a single commit attempt (spec §9 open
	// question: order across distinct sources is otherwise unspecified).
	Identity() string
	// WriteBatchSize is the maximum batch this source accepts in one call,
	// or 0 for unlimited.
	WriteBatchSize() int
	// WriteChanges issues one batch of changes. Implementations must not
	// retain batch past the call.
	WriteChanges(ctx context.Context, batch []graph.Change) WriteResult
}

// FailureMode is the transaction's configured commit failure-handling mode
// (spec §3 "Transaction").
type FailureMode int

const (
	BestEffort FailureMode = iota
	Rollback
)

// Requirement is the transaction's configured multi-source requirement
// (spec §3 "Transaction").
type Requirement int

const (
	RequireNone Requirement = iota
	RequireSingleWrite
)

// WriteResult is a closed sum type over a source write's outcome: success,
// total failure, or partial failure naming the subset of the batch that
// failed (spec §9). It is a small interface with unexported implementing
// types so callers can only obtain a WriteResult through the constructors
// below or the SourceWriteSuccess singleton, never construct an invalid one.
type WriteResult interface {
	isWriteResult()
}

type writeSuccess struct{}

func (writeSuccess) isWriteResult() {}

// SourceWriteSuccess is the zero-allocation singleton result for a fully
// successful write.
var SourceWriteSuccess WriteResult = writeSuccess{}

type writeFailure struct{ err error }

func (writeFailure) isWriteResult() {}

// Failure reports that the entire batch failed to write.
func Failure(err error) WriteResult {
	return writeFailure{err: err}
}

type writePartialFailure struct {
	failed []graph.Change
	err    error
}

func (writePartialFailure) isWriteResult() {}

// PartialFailure reports that failed is the subset of the batch that did
// not write; everything else in the batch is considered successful.
func PartialFailure(failed []graph.Change, err error) WriteResult {
	return writePartialFailure{failed: failed, err: err}
}

// classify inspects r and returns the failed subset (nil for full success),
// an error (nil for full success), and whether the whole batch should be
// treated as failed (true for writeFailure, false otherwise).
func classify(batch []graph.Change, r WriteResult) (failed []graph.Change, err error, wholeBatchFailed bool) {
	switch v := r.(type) {
	case writeSuccess:
		return nil, nil, false
	case writeFailure:
		return batch, v.err, true
	case writePartialFailure:
		return v.failed, v.err, false
	default:
		return batch, fmt.Errorf("sourcewriter: unrecognized WriteResult implementation %T", r), true
	}
}

// Bindings resolves which Source, if any, a property is bound to. At most
// one Source may be bound to a property at a time (spec §3 invariant);
// implementations are expected to enforce that when the binding is
// established, not here.
type Bindings interface {
	SourceFor(id graph.PropertyID) (Source, bool)
}

// StaticBindings is a Bindings backed by a fixed map, with the one-source
// invariant enforced at Bind time.
type StaticBindings struct {
	bound map[graph.PropertyID]Source
}

// NewStaticBindings returns an empty StaticBindings.
func NewStaticBindings() *StaticBindings {
	return &StaticBindings{bound: make(map[graph.PropertyID]Source)}
}

// Bind associates id with source. Binding a different source to an already
// bound property fails without overwriting the existing binding (spec §3
// invariant: "Attempts to set a different source MUST fail without
// overwriting").
func (b *StaticBindings) Bind(id graph.PropertyID, source Source) error {
	if existing, ok := b.bound[id]; ok && existing != source {
		return fmt.Errorf("sourcewriter: %s is already bound to source %q", id, existing.Identity())
	}
	b.bound[id] = source
	return nil
}

func (b *StaticBindings) SourceFor(id graph.PropertyID) (Source, bool) {
	s, ok := b.bound[id]
	return s, ok
}

// Partition splits pending into source-bound groups (keyed by Source) and a
// slice of purely local changes with no bound source (spec §4.4 Step A).
func Partition(pending []graph.Change, bindings Bindings) (bySource map[Source][]graph.Change, local []graph.Change) {
	bySource = make(map[Source][]graph.Change)
	for _, c := range pending {
		if src, ok := bindings.SourceFor(c.Property); ok {
			bySource[src] = append(bySource[src], c)
		} else {
			local = append(local, c)
		}
	}
	return bySource, local
}

// orderedSources returns the sources of bySource in a stable, deterministic
// order: sorted by a highwayhash digest of each Source's Identity (spec §9
// open question 1 — source ordering is unspecified in the source material,
// so we pick and document this). The order is stable across retries within
// one commit attempt because it depends only on the fixed hash key and the
// sources' own identities, not on map iteration or timing.
var sourceOrderHashKey = make([]byte, 32)

func orderedSources(bySource map[Source][]graph.Change) []Source {
	sources := make([]Source, 0, len(bySource))
	for s := range bySource {
		sources = append(sources, s)
	}
	digest := func(s Source) uint64 {
		h := highwayhash.New64(sourceOrderHashKey)
		h.Write([]byte(s.Identity()))
		return binary.LittleEndian.Uint64(h.Sum(nil))
	}
	sort.Slice(sources, func(i, j int) bool {
		di, dj := digest(sources[i]), digest(sources[j])
		if di != dj {
			return di < dj
		}
		return sources[i].Identity() < sources[j].Identity()
	})
	return sources
}
