package transaction

import "context"

// txKey is the context.Context key carrying the ambient "current
// transaction" slot. Using context.Context (rather than a goroutine-local)
// is what makes the slot follow awaited continuations across goroutines,
// exactly the structured-propagation guarantee spec §9 demands ("do not use
// a plain thread-local: awaits would lose the transaction").
type txKey struct{}

// slot is the value stored under txKey. suppressed, not a nil tx, is what
// SuppressInheritance installs, so a lookup can tell "no ambient
// transaction was ever begun here" apart from "this flow was deliberately
// cut off from its parent's transaction."
type slot struct {
	tx         *Tx
	suppressed bool
}

// withCurrent returns a context in which CurrentTx reports tx.
func withCurrent(parent context.Context, tx *Tx) context.Context {
	return context.WithValue(parent, txKey{}, &slot{tx: tx})
}

// CurrentTx returns the transaction ambient to ctx, if any. A context
// derived from one returned by Begin reports that transaction; a context
// derived from SuppressInheritance, or one that never saw Begin, reports
// none — regardless of what an ancestor context carried.
func CurrentTx(ctx context.Context) (*Tx, bool) {
	s, ok := ctx.Value(txKey{}).(*slot)
	if !ok || s.suppressed || s.tx == nil {
		return nil, false
	}
	return s.tx, true
}

// SuppressInheritance returns a context in which CurrentTx reports no
// active transaction, regardless of ctx's ancestry. Tests use this to
// simulate a write from an unrelated logical flow — e.g. an external actor
// changing a property behind a transaction's back (spec §5, §9, scenario
// S4). The commit path also uses it internally so Stage 1's conflict-check
// reads and Stage 4's bypassing applies never see their own transaction as
// "current."
func SuppressInheritance(ctx context.Context) context.Context {
	return context.WithValue(ctx, txKey{}, &slot{suppressed: true})
}
