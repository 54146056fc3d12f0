package transaction

import (
	"context"

	"github.com/fieldwire/txcore/go/changectx"
	"github.com/fieldwire/txcore/go/graph"
	"github.com/fieldwire/txcore/go/intercept"
)

// transactionInterceptor is the write/read interceptor that implements
// capture (spec §4.1, §4.5): while the ambient current transaction is Open,
// it diverts writes into that transaction's pending buffer instead of
// calling next, and short-circuits reads of a pending property to its
// buffered new value. It is registered with intercept.RoleTransaction so
// Chain enforces that it sits before the observable interceptor.
type transactionInterceptor struct {
	ctx *Context
}

func (ti *transactionInterceptor) InterceptWrite(ctx context.Context, wc *intercept.WriteContext, next intercept.WriteFunc) error {
	tx, ok := CurrentTx(ctx)
	if !ok || tx.State() != Open {
		return next(ctx, wc)
	}

	if wc.Property.Meta != nil && wc.Property.Meta.IsDerived {
		return &DerivedPropertyWriteError{Property: wc.Property.ID}
	}

	if v := ti.ctx.validator; v != nil {
		if causes := v.Validate(ctx, wc.Property, wc.New); len(causes) > 0 {
			return &ValidationFailedError{Property: wc.Property.ID, Causes: causes}
		}
	}

	stamp, _ := changectx.FromContext(ctx)
	tx.buffer.Insert(graph.Change{
		Property:   wc.Property.ID,
		Old:        wc.Old,
		New:        wc.New,
		Source:     stamp.OriginatingSource,
		ChangedAt:  stamp.ChangedAt,
		ReceivedAt: stamp.ReceivedAt,
	})
	return nil
}

func (ti *transactionInterceptor) InterceptRead(ctx context.Context, rc *intercept.ReadContext, next intercept.ReadFunc) (any, error) {
	tx, ok := CurrentTx(ctx)
	if !ok {
		return next(ctx, rc)
	}
	if change, found := tx.buffer.Get(rc.Property.ID); found {
		return change.New, nil
	}
	return next(ctx, rc)
}
