// Package transaction implements the Transaction State Machine (spec
// §4.5, component C5) and the per-context object that owns everything a
// commit needs: the interceptor chain, the registry, the change observable,
// the source bindings, and the exclusive lock transactions serialize on.
package transaction

import (
	"context"
	"reflect"

	"github.com/fieldwire/txcore/go/graph"
	"github.com/fieldwire/txcore/go/intercept"
	"github.com/fieldwire/txcore/go/metrics"
	"github.com/fieldwire/txcore/go/observe"
	"github.com/fieldwire/txcore/go/sourcewriter"
)

// Options configures a Context at construction time. Registry is required;
// everything else has a usable zero-value default.
type Options struct {
	Registry   graph.Registry
	Observable observe.Observable
	Validator  graph.Validator
	Metrics    *metrics.Collectors
}

// Context is a process-level namespace grouping the subjects that share one
// interceptor chain, change observable, registry, and transaction lock
// (spec §3 "Context"). Multiple Contexts coexist without interference.
type Context struct {
	registry   graph.Registry
	validator  graph.Validator
	observable observe.Observable
	metrics    *metrics.Collectors

	store    *valueStore
	chain    *intercept.Chain
	bindings *sourcewriter.StaticBindings
	lock     *fifoLock
}

// NewContext builds a Context with its interceptor chain wired in the
// required order: the transaction interceptor (capture) strictly before the
// observable interceptor (notification), per spec §4.1.
func NewContext(opts Options) *Context {
	if opts.Validator == nil {
		opts.Validator = graph.NoopValidator{}
	}

	store := newValueStore()
	chain := intercept.NewChain(store)

	c := &Context{
		registry:   opts.Registry,
		validator:  opts.Validator,
		observable: opts.Observable,
		metrics:    opts.Metrics,
		store:      store,
		chain:      chain,
		bindings:   sourcewriter.NewStaticBindings(),
		lock:       newFifoLock(),
	}

	chain.MustRegisterWrite(&transactionInterceptor{ctx: c}, intercept.RoleTransaction)
	chain.RegisterRead(&transactionInterceptor{ctx: c})
	chain.MustRegisterWrite(&observe.Interceptor{Observable: c.observable}, intercept.RoleObservable)

	return c
}

// BindSource associates property with source for commit-time routing. At
// most one source may be bound to a property at a time (spec §3 invariant).
func (c *Context) BindSource(property graph.PropertyID, source sourcewriter.Source) error {
	return c.bindings.Bind(property, source)
}

// Write performs a single property write through the interceptor chain,
// first coercing value to the property's declared type (spec §4.1: "fails
// with TypeError... before the chain runs, so invalid values never enter
// the buffer"). If a transaction is current for ctx's logical flow and
// Open, the write is captured instead of applied; otherwise it is applied
// immediately and observers fire synchronously.
func (c *Context) Write(ctx context.Context, property graph.Property, value any) error {
	coerced, err := coerceValue(property, value)
	if err != nil {
		return err
	}
	return c.chain.Write(ctx, property, coerced)
}

// Read performs a single property read through the interceptor chain. A
// read inside a transaction whose property has a pending write returns that
// write's new value (spec §4.1 copy-on-write).
func (c *Context) Read(ctx context.Context, property graph.Property) (any, error) {
	return c.chain.Read(ctx, property)
}

// resolveProperty reconstructs a graph.Property from a PropertyID captured
// in a Change. Most Subjects already carry their TypeDescriptor (set at
// NewSubject); resolveProperty falls back to the Registry for one that
// doesn't, e.g. a Subject materialized from a remote update via a
// SubjectFactory that only had a bare handle to work with.
func (c *Context) resolveProperty(id graph.PropertyID) (graph.Property, bool) {
	subject := id.Subject
	if subject.Type == nil && c.registry != nil {
		if t, err := c.registry.Describe(subject); err == nil {
			subject.Type = t
		}
	}
	return graph.NewProperty(subject, id.Name)
}

// coerceValue converts value to property's declared type when they differ
// but are convertible (e.g. int to float64), and fails with
// TypeCoercionError when they are not. A property with no declared type
// accepts any value unchanged.
func coerceValue(property graph.Property, value any) (any, error) {
	if property.Meta == nil || property.Meta.ValueType == nil || value == nil {
		return value, nil
	}
	want := property.Meta.ValueType
	got := reflect.TypeOf(value)
	if got == want {
		return value, nil
	}
	if got.ConvertibleTo(want) {
		return reflect.ValueOf(value).Convert(want).Interface(), nil
	}
	return nil, &TypeCoercionError{Property: property.ID, Value: value, Want: want.String()}
}
