// Package bufwriter implements the per-source buffered property writer
// (spec §4.6, component C6). It is independent of the transaction
// machinery: each data-source adapter owns one to absorb remote-originated
// updates that arrive before the adapter has finished loading its initial
// snapshot.
package bufwriter

import (
	"context"
	"sync"

	"github.com/fieldwire/txcore/go/ops"
)

// State is the two-state lifecycle from spec §4.6.
type State int

const (
	Buffering State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "Ready"
	}
	return "Buffering"
}

type entry[S any] struct {
	state S
	fn    func(S) error
}

// Writer buffers calls to Write while Buffering, and replays them in FIFO
// order once CompleteInitialization transitions it to Ready. S is whatever
// state an adapter needs a buffered callback to close over (e.g. the
// adapter struct itself); it is passed through unchanged.
type Writer[S any] struct {
	mu        sync.Mutex
	state     State
	queue     []entry[S]
	publisher ops.LogPublisher
}

// New returns a Writer starting in the Ready state (the common case: most
// adapters don't need buffering until they explicitly reconnect).
func New[S any](publisher ops.LogPublisher) *Writer[S] {
	if publisher == nil {
		publisher = ops.LogrusPublisher{}
	}
	return &Writer[S]{state: Ready, publisher: publisher}
}

// State returns the writer's current lifecycle state.
func (w *Writer[S]) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// StartBuffering transitions the writer into Buffering. If it was already
// Ready, this begins a fresh buffering window (used for reconnection); any
// previously Ready state is simply left behind since there is nothing
// queued. If it was already Buffering, the old queue is discarded — spec
// §4.6 "a start_buffering after Ready discards old queue and re-enters
// Buffering."
func (w *Writer[S]) StartBuffering() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = Buffering
	w.queue = nil
}

// Write applies fn(state) immediately if Ready, or enqueues it if
// Buffering.
func (w *Writer[S]) Write(state S, fn func(S) error) error {
	w.mu.Lock()
	if w.state == Buffering {
		w.queue = append(w.queue, entry[S]{state: state, fn: fn})
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()
	return fn(state)
}

// CompleteInitialization transitions Buffering to Ready. If applyBeforeReplay
// is non-nil it runs first, then the queue drains in FIFO order; a panic or
// error from one queued callback is logged and swallowed, the drain
// continues for the rest (spec §4.6 step 2). Calling this when already
// Ready is a no-op (idempotent, spec testable property 9).
func (w *Writer[S]) CompleteInitialization(applyBeforeReplay func() error) error {
	w.mu.Lock()
	if w.state == Ready {
		w.mu.Unlock()
		return nil
	}
	queue := w.queue
	w.queue = nil
	w.mu.Unlock()

	var err error
	if applyBeforeReplay != nil {
		err = applyBeforeReplay()
	}

	ops.DrainSwallowingPanics(w.publisher, queue, func(e entry[S]) error {
		return e.fn(e.state)
	})

	w.mu.Lock()
	w.state = Ready
	w.mu.Unlock()
	return err
}

// InitialStateLoader optionally loads a snapshot to apply before the
// buffered replay. It returns a nil apply func if there is nothing to
// apply (spec §4.6 "Option<apply_snapshot_fn>").
type InitialStateLoader func(ctx context.Context) (apply func() error, err error)

// CompleteInitializationWithInitialState is the async variant from spec
// §4.6: it runs preLoadFlush, then loads and applies the initial snapshot
// (if load is non-nil and returns a non-nil apply func), then drains the
// buffer — in that order, so the buffer's replay is never applied against a
// not-yet-loaded snapshot.
func (w *Writer[S]) CompleteInitializationWithInitialState(ctx context.Context, preLoadFlush func() error, load InitialStateLoader) error {
	w.mu.Lock()
	if w.state == Ready {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	if preLoadFlush != nil {
		if err := preLoadFlush(); err != nil {
			return err
		}
	}

	var snapshotApply func() error
	if load != nil {
		apply, err := load(ctx)
		if err != nil {
			return err
		}
		snapshotApply = apply
	}

	return w.CompleteInitialization(snapshotApply)
}
