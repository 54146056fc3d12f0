package graph

import "context"

// ValidationError is a single validation failure attached to one property.
type ValidationError struct {
	Property PropertyID
	Message  string
}

func (e *ValidationError) Error() string {
	return "validation failed for " + e.Property.String() + ": " + e.Message
}

// Validator checks a proposed new value for a property before it is allowed
// to enter the pending-change buffer. A Validator may itself read other
// properties of the graph through the Context reachable from ctx; during a
// transaction's capture phase those reads observe the pending view (spec
// §4.5 "Capture"), which is what lets cross-property validation rules see a
// consistent in-progress write set. ctx is the same context.Context the
// triggering Write call received, so it carries the current transaction.
type Validator interface {
	Validate(ctx context.Context, property Property, newValue any) []ValidationError
}

// ValidatorFunc adapts a plain function to a Validator.
type ValidatorFunc func(ctx context.Context, property Property, newValue any) []ValidationError

func (f ValidatorFunc) Validate(ctx context.Context, property Property, newValue any) []ValidationError {
	return f(ctx, property, newValue)
}

// NoopValidator accepts every write.
type NoopValidator struct{}

func (NoopValidator) Validate(context.Context, Property, any) []ValidationError { return nil }
