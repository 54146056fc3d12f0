// Package changectx carries the per-write ambient "change context" described
// in spec §4.2: which external source (if any) originated a write, and when
// it was changed/received. It is attached to Go's context.Context rather
// than a goroutine-local, because a goroutine-local would not survive an
// awaited continuation crossing goroutines (spec §9's explicit warning
// against a "plain thread-local"); context.Context is the idiomatic Go
// carrier with the same structured-propagation guarantee.
package changectx

import (
	"context"
	"time"
)

// Stamp is the ambient metadata attached to an in-flight write.
type Stamp struct {
	// OriginatingSource identifies the external source that produced this
	// change, or nil for a purely local/in-process write.
	OriginatingSource any
	// ChangedAt is when the source says the value changed.
	ChangedAt time.Time
	// ReceivedAt is when this process observed it.
	ReceivedAt time.Time
}

type stampKey struct{}

// WithStamp returns a context carrying stamp, overriding any previously
// attached Stamp. Scoped to the returned context and anything derived from
// it; the parent's context.Context is left untouched so restoration on exit
// is automatic by simply discarding the derived context.
func WithStamp(parent context.Context, stamp Stamp) context.Context {
	return context.WithValue(parent, stampKey{}, stamp)
}

// FromContext returns the Stamp attached to ctx, if any.
func FromContext(ctx context.Context) (Stamp, bool) {
	s, ok := ctx.Value(stampKey{}).(Stamp)
	return s, ok
}

// Local returns a Stamp for a write with no originating external source.
func Local(now time.Time) Stamp {
	return Stamp{ChangedAt: now, ReceivedAt: now}
}

// FromSource returns a Stamp for a write originating at source.
func FromSource(source any, changedAt, receivedAt time.Time) Stamp {
	return Stamp{OriginatingSource: source, ChangedAt: changedAt, ReceivedAt: receivedAt}
}

// Acquire installs stamp on ctx and returns the derived context together
// with a release func. release is a no-op (discarding the derived context
// already restores the prior state) but is provided so call sites can use a
// uniform `ctx, release := changectx.Acquire(ctx, stamp); defer release()`
// idiom matching the "scoped acquisition with guaranteed release on all exit
// paths" requirement in spec §4.2, and so a future version of Acquire that
// does need teardown work has a seam to do it in.
func Acquire(parent context.Context, stamp Stamp) (context.Context, func()) {
	return WithStamp(parent, stamp), func() {}
}
