// Package observe implements the Change Observable external collaborator
// (spec §6) and the write interceptor that fires it. Notifications are only
// ever delivered once a write has actually reached the underlying slot —
// during a transaction's capture phase the transaction interceptor diverts
// the write before this interceptor's continuation ever runs, so Observable
// implementations never see an uncommitted value (spec §4.1, §4.5).
package observe

import (
	"context"

	"github.com/fieldwire/txcore/go/graph"
	"github.com/fieldwire/txcore/go/intercept"
)

// Observable receives Change notifications after they have been durably
// applied to the underlying store. Implementations choose their own
// delivery scheduler (spec §6); the interceptor below calls OnChange
// synchronously on the writer's goroutine, and it is up to the Observable to
// hop to another scheduler if it wants to.
type Observable interface {
	OnChange(ctx context.Context, change graph.Change)
}

// Multi fans a Change out to every Observable in order.
type Multi []Observable

func (m Multi) OnChange(ctx context.Context, change graph.Change) {
	for _, o := range m {
		o.OnChange(ctx, change)
	}
}

// Interceptor is the property-change-observable write interceptor from spec
// §4.1's component table. Register it with intercept.RoleObservable, after
// (inner to) the transaction interceptor.
type Interceptor struct {
	Observable Observable
}

func (i *Interceptor) InterceptWrite(ctx context.Context, wc *intercept.WriteContext, next intercept.WriteFunc) error {
	if err := next(ctx, wc); err != nil {
		return err
	}
	if i.Observable != nil {
		i.Observable.OnChange(ctx, graph.Change{
			Property: wc.Property.ID,
			Old:      wc.Old,
			New:      wc.New,
		})
	}
	return nil
}
