// Package txbuffer implements the per-transaction pending-change buffer
// (spec §4.3, component C3): an insertion-ordered map from property identity
// to the Change captured for it.
package txbuffer

import (
	"sync"

	"github.com/fieldwire/txcore/go/graph"
)

// Buffer is a per-transaction, insertion-ordered pending-change map. It is
// owned exclusively by the transaction that created it and is only ever
// touched from the logical flow that opened that transaction (spec §5
// "Shared-resource policy"); the mutex here guards against accidental
// concurrent misuse rather than expected contention.
type Buffer struct {
	mu      sync.Mutex
	order   []graph.PropertyID
	entries map[graph.PropertyID]graph.Change
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{entries: make(map[graph.PropertyID]graph.Change)}
}

// Insert records a write to change.Property. If this is the first write to
// that property within the transaction, change is inserted as-is and the
// property's position in insertion order is fixed. If the property already
// has a pending entry, only New is replaced; Old (the value observed at the
// first write) is preserved, per spec §4.3 and invariant §3 ("old_value
// reflects the value observed at the moment of the first write").
func (b *Buffer) Insert(change graph.Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.entries[change.Property]; ok {
		existing.New = change.New
		b.entries[change.Property] = existing
		return
	}

	b.entries[change.Property] = change
	b.order = append(b.order, change.Property)
}

// Get returns the pending Change for id, if any. Reads honor New (spec
// §4.1): a reader within the same transaction sees the not-yet-committed
// value.
func (b *Buffer) Get(id graph.PropertyID) (graph.Change, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.entries[id]
	return c, ok
}

// IterateInOrder calls fn for every pending Change in insertion order.
// IterateInOrder copies the pending changes under the lock before calling
// fn, so a concurrent Insert (which spec §5 forbids for a single
// transaction, but which tests may still want to exercise deliberately)
// can't corrupt the iteration.
func (b *Buffer) IterateInOrder(fn func(graph.Change)) {
	b.mu.Lock()
	changes := make([]graph.Change, 0, len(b.order))
	for _, id := range b.order {
		changes = append(changes, b.entries[id])
	}
	b.mu.Unlock()

	for _, c := range changes {
		fn(c)
	}
}

// Snapshot returns a copy of every pending Change in insertion order.
func (b *Buffer) Snapshot() []graph.Change {
	var out []graph.Change
	b.IterateInOrder(func(c graph.Change) { out = append(out, c) })
	return out
}

// IsEmpty reports whether the buffer has no pending changes.
func (b *Buffer) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order) == 0
}

// Len returns the number of pending changes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// RemoveAll clears every pending change, restoring the Buffer to its
// just-created state. Used at the end of a commit (Stage 5, "empty the
// pending buffer") and on Dispose.
func (b *Buffer) RemoveAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.order = nil
	b.entries = make(map[graph.PropertyID]graph.Change)
}
