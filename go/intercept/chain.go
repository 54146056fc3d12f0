// Package intercept implements the property interceptor chain (spec §4.1,
// component C1): an ordered, context-owned pipeline of read and write
// interceptors wrapping every property access.
//
// The chain follows the same before/after "wrap next" shape as a gRPC unary
// interceptor or an net/http middleware stack: each interceptor decides
// whether, and with what value, to call the next stage, and may run code
// both before and after that call. A write interceptor that never calls
// next has "diverted" the write (spec's term) — nothing further in the
// chain, including the terminal Sink, runs for that write.
package intercept

import (
	"context"

	"github.com/fieldwire/txcore/go/graph"
)

// Role tags why an interceptor is registered, so the Chain can enforce the
// one ordering constraint the spec makes load-bearing (§4.1): the
// transaction interceptor must sit strictly before the property-change
// observable interceptor in the write chain.
type Role int

const (
	// RoleDefault interceptors have no ordering constraint.
	RoleDefault Role = iota
	// RoleTransaction is the transaction interceptor that diverts writes
	// into a pending-change buffer while a transaction is open.
	RoleTransaction
	// RoleObservable is the interceptor that, once a write actually reaches
	// the underlying slot, fires change notifications.
	RoleObservable
)

// WriteContext is the mutable ambient state threaded through a single
// property write. Write interceptors may rewrite New before
// calling next; Old is populated once, before the chain runs, from the
// Sink, and is never mutated by interceptors.
type WriteContext struct {
	Property graph.Property
	Old      any
	New      any
}

// WriteFunc is the continuation an interceptor calls to run the rest of the
// chain (and, eventually, the Sink).
type WriteFunc func(ctx context.Context, wc *WriteContext) error

// WriteInterceptor is a single stage of the write chain.
type WriteInterceptor interface {
	InterceptWrite(ctx context.Context, wc *WriteContext, next WriteFunc) error
}

// ReadContext is the ambient state threaded through a single property read.
type ReadContext struct {
	Property graph.Property
}

// ReadFunc is the continuation a read interceptor calls to run the rest of
// the chain (and, eventually, the Sink).
type ReadFunc func(ctx context.Context, rc *ReadContext) (any, error)

// ReadInterceptor is a single stage of the read chain.
type ReadInterceptor interface {
	InterceptRead(ctx context.Context, rc *ReadContext, next ReadFunc) (any, error)
}

// Sink is the terminal collaborator backing the actual property slots: the
// "underlying store" spec §4.1 refers to when an uninterrupted write chain
// "assigns the value to the underlying slot." The chain itself never
// interprets property values; it only sequences access to the Sink.
type Sink interface {
	Read(ctx context.Context, property graph.Property) (any, error)
	Write(ctx context.Context, property graph.Property, value any) error
}

type writeEntry struct {
	interceptor WriteInterceptor
	role        Role
}

// Chain is an ordered, immutable-after-construction pipeline of read and
// write interceptors plus the terminal Sink. Build one with NewChain and
// Register every interceptor before the Chain is used; spec §5 requires the
// chain be "read-only after context construction."
type Chain struct {
	sink  Sink
	write []writeEntry
	read  []ReadInterceptor

	sawObservable bool
}

// NewChain returns an empty Chain backed by sink.
func NewChain(sink Sink) *Chain {
	return &Chain{sink: sink}
}

// RegisterWrite appends a write interceptor to the end of the chain.
// Registering a RoleTransaction interceptor after a RoleObservable one has
// already been registered is a construction-time error: it would let a
// transaction divert writes the observable interceptor had already been
// wrapped around, breaking the "observable never fires during capture"
// guarantee.
func (c *Chain) RegisterWrite(wi WriteInterceptor, role Role) error {
	if role == RoleTransaction && c.sawObservable {
		return &OrderingError{}
	}
	if role == RoleObservable {
		c.sawObservable = true
	}
	c.write = append(c.write, writeEntry{interceptor: wi, role: role})
	return nil
}

// MustRegisterWrite is RegisterWrite, panicking on error. Intended for use
// at Context-construction time, where an ordering violation is a
// programming error, not a runtime condition.
func (c *Chain) MustRegisterWrite(wi WriteInterceptor, role Role) {
	if err := c.RegisterWrite(wi, role); err != nil {
		panic(err)
	}
}

// RegisterRead appends a read interceptor to the end of the chain.
func (c *Chain) RegisterRead(ri ReadInterceptor) {
	c.read = append(c.read, ri)
}

// OrderingError is returned by RegisterWrite when registration order would
// violate the transaction-before-observable invariant.
type OrderingError struct{}

func (*OrderingError) Error() string {
	return "intercept: the transaction interceptor must be registered before the observable interceptor"
}

// Write walks the write chain for a single property write. The terminal
// continuation is always the Chain's Sink.
func (c *Chain) Write(ctx context.Context, property graph.Property, newValue any) error {
	old, _ := c.sink.Read(ctx, property)
	wc := &WriteContext{Property: property, Old: old, New: newValue}
	return c.runWrite(ctx, c.write, wc)
}

// WriteBypassingRole runs the write chain skipping every interceptor tagged
// with role. It exists for commit-apply (spec §4.5 Stage 4), which must
// bypass the transaction interceptor so the write actually reaches the Sink
// and the observable interceptor fires with stable state.
func (c *Chain) WriteBypassingRole(ctx context.Context, property graph.Property, newValue, oldValue any, role Role) error {
	var filtered []writeEntry
	for _, e := range c.write {
		if e.role == role {
			continue
		}
		filtered = append(filtered, e)
	}
	wc := &WriteContext{Property: property, Old: oldValue, New: newValue}
	return c.runWrite(ctx, filtered, wc)
}

func (c *Chain) runWrite(ctx context.Context, entries []writeEntry, wc *WriteContext) error {
	var run func(i int) WriteFunc
	run = func(i int) WriteFunc {
		return func(ctx context.Context, wc *WriteContext) error {
			if i >= len(entries) {
				return c.sink.Write(ctx, wc.Property, wc.New)
			}
			return entries[i].interceptor.InterceptWrite(ctx, wc, run(i+1))
		}
	}
	return run(0)(ctx, wc)
}

// Read walks the read chain for a single property read.
func (c *Chain) Read(ctx context.Context, property graph.Property) (any, error) {
	var run func(i int) ReadFunc
	run = func(i int) ReadFunc {
		return func(ctx context.Context, rc *ReadContext) (any, error) {
			if i >= len(c.read) {
				return c.sink.Read(ctx, rc.Property)
			}
			return c.read[i].InterceptRead(ctx, rc, run(i+1))
		}
	}
	return run(0)(ctx, &ReadContext{Property: property})
}
