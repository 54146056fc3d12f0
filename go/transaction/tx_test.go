package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/bradleyjkemp/cupaloy"
	"github.com/nsf/jsondiff"
	"github.com/stretchr/testify/require"

	"github.com/fieldwire/txcore/go/graph"
	"github.com/fieldwire/txcore/go/sourcewriter"
)

func personType() *graph.TypeDescriptor {
	return &graph.TypeDescriptor{
		Name: "Person",
		Properties: map[string]*graph.PropertyMeta{
			"FirstName": {Name: "FirstName", ValueType: reflect.TypeOf("")},
			"LastName":  {Name: "LastName", ValueType: reflect.TypeOf("")},
			"FullName":  {Name: "FullName", ValueType: reflect.TypeOf(""), IsDerived: true},
		},
	}
}

func newPerson() graph.Subject {
	return graph.NewSubject(&struct{ id int }{id: 1}, personType())
}

func newTestContext() *Context {
	return NewContext(Options{Registry: graph.NewStaticRegistry(nil, 0)})
}

type stubSource struct {
	id        string
	batchSize int
	mu        sync.Mutex
	calls     [][]graph.Change
	fn        func(batch []graph.Change) sourcewriter.WriteResult
}

func (s *stubSource) Identity() string    { return s.id }
func (s *stubSource) WriteBatchSize() int { return s.batchSize }
func (s *stubSource) WriteChanges(_ context.Context, batch []graph.Change) sourcewriter.WriteResult {
	s.mu.Lock()
	cp := append([]graph.Change(nil), batch...)
	s.calls = append(s.calls, cp)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(cp)
	}
	return sourcewriter.SourceWriteSuccess
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// --- S1: BestEffort, two sources, one fails. ---

func TestScenarioBestEffortTwoSourcesOneFails(t *testing.T) {
	c := newTestContext()
	person := newPerson()
	firstName, _ := graph.NewProperty(person, "FirstName")
	lastName, _ := graph.NewProperty(person, "LastName")

	srcA := &stubSource{id: "srcA"}
	srcB := &stubSource{id: "srcB", fn: func([]graph.Change) sourcewriter.WriteResult {
		return sourcewriter.Failure(errors.New("device offline"))
	}}
	require.NoError(t, c.BindSource(firstName.ID, srcA))
	require.NoError(t, c.BindSource(lastName.ID, srcB))

	tx, txCtx, err := Begin(context.Background(), c, BeginOptions{FailureMode: sourcewriter.BestEffort})
	require.NoError(t, err)
	defer tx.Dispose()

	require.NoError(t, c.Write(txCtx, firstName, "John"))
	require.NoError(t, c.Write(txCtx, lastName, "Doe"))

	err = tx.Commit(context.Background())
	require.Error(t, err)

	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	require.True(t, txErr.IsPartialSuccess)
	require.Len(t, txErr.Failed, 1)
	require.Equal(t, lastName.ID, txErr.Failed[0].Property)

	first, _ := c.Read(context.Background(), firstName)
	last, _ := c.Read(context.Background(), lastName)
	require.Equal(t, "John", first)
	require.Nil(t, last)
}

// --- S2: Rollback, one source fails. ---

func TestScenarioRollbackOneSourceFails(t *testing.T) {
	c := newTestContext()
	person := newPerson()
	firstName, _ := graph.NewProperty(person, "FirstName")
	lastName, _ := graph.NewProperty(person, "LastName")

	srcA := &stubSource{id: "srcA"}
	srcB := &stubSource{id: "srcB", fn: func([]graph.Change) sourcewriter.WriteResult {
		return sourcewriter.Failure(errors.New("device offline"))
	}}
	require.NoError(t, c.BindSource(firstName.ID, srcA))
	require.NoError(t, c.BindSource(lastName.ID, srcB))

	tx, txCtx, err := Begin(context.Background(), c, BeginOptions{FailureMode: sourcewriter.Rollback})
	require.NoError(t, err)
	defer tx.Dispose()

	require.NoError(t, c.Write(txCtx, firstName, "John"))
	require.NoError(t, c.Write(txCtx, lastName, "Doe"))

	err = tx.Commit(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "rollback was attempted")

	first, _ := c.Read(context.Background(), firstName)
	last, _ := c.Read(context.Background(), lastName)
	require.Nil(t, first)
	require.Nil(t, last)
	require.Equal(t, 2, srcA.callCount(), "srcA should see the initial write plus a revert")
}

// --- S3: SingleWrite requirement, two distinct sources. ---

func TestScenarioSingleWriteRequirementTwoSources(t *testing.T) {
	c := newTestContext()
	person := newPerson()
	firstName, _ := graph.NewProperty(person, "FirstName")
	lastName, _ := graph.NewProperty(person, "LastName")

	srcA := &stubSource{id: "srcA"}
	srcB := &stubSource{id: "srcB"}
	require.NoError(t, c.BindSource(firstName.ID, srcA))
	require.NoError(t, c.BindSource(lastName.ID, srcB))

	tx, txCtx, err := Begin(context.Background(), c, BeginOptions{Requirement: sourcewriter.RequireSingleWrite})
	require.NoError(t, err)
	defer tx.Dispose()

	require.NoError(t, c.Write(txCtx, firstName, "John"))
	require.NoError(t, c.Write(txCtx, lastName, "Doe"))

	err = tx.Commit(context.Background())
	require.Error(t, err)

	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	require.Len(t, txErr.Failed, 2)
	require.Len(t, txErr.Errors, 1)
	require.Contains(t, txErr.Errors[0].Error(), "2 distinct sources")
	require.Equal(t, 0, srcA.callCount())
	require.Equal(t, 0, srcB.callCount())
}

// --- S3b: SingleWrite requirement, one source but batch size exceeded. ---

func TestScenarioSingleWriteRequirementExceedsSourceBatchSize(t *testing.T) {
	c := newTestContext()
	person := newPerson()
	firstName, _ := graph.NewProperty(person, "FirstName")
	lastName, _ := graph.NewProperty(person, "LastName")

	src := &stubSource{id: "srcA", batchSize: 1}
	require.NoError(t, c.BindSource(firstName.ID, src))
	require.NoError(t, c.BindSource(lastName.ID, src))

	tx, txCtx, err := Begin(context.Background(), c, BeginOptions{Requirement: sourcewriter.RequireSingleWrite})
	require.NoError(t, err)
	defer tx.Dispose()

	require.NoError(t, c.Write(txCtx, firstName, "John"))
	require.NoError(t, c.Write(txCtx, lastName, "Doe"))

	err = tx.Commit(context.Background())
	require.Error(t, err)

	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	require.Len(t, txErr.Failed, 2)
	require.Len(t, txErr.Errors, 1)
	require.Contains(t, txErr.Errors[0].Error(), "exceeds its batch size")
	require.Equal(t, 0, src.callCount(), "no write should be attempted once the batch-size check fails")
}

// --- Cross-property validation during capture (spec §4.5 "Capture"). ---

func TestValidatorObservesOtherPropertiesPendingValueDuringCapture(t *testing.T) {
	person := newPerson()
	firstName, _ := graph.NewProperty(person, "FirstName")
	lastName, _ := graph.NewProperty(person, "LastName")

	var c *Context
	validator := graph.ValidatorFunc(func(ctx context.Context, property graph.Property, newValue any) []graph.ValidationError {
		if property.ID != lastName.ID {
			return nil
		}
		first, _ := c.Read(ctx, firstName)
		if first != "John" {
			return []graph.ValidationError{{Property: property.ID, Message: "FirstName must be John before LastName can be set"}}
		}
		return nil
	})
	c = NewContext(Options{Registry: graph.NewStaticRegistry(nil, 0), Validator: validator})

	tx, txCtx, err := Begin(context.Background(), c, BeginOptions{})
	require.NoError(t, err)
	defer tx.Dispose()

	require.NoError(t, c.Write(txCtx, firstName, "John"))
	require.NoError(t, c.Write(txCtx, lastName, "Doe"),
		"the validator must see FirstName's pending value even though the transaction hasn't committed")
}

func TestValidatorRejectsWriteWhenOtherPendingPropertyFailsTheCrossCheck(t *testing.T) {
	person := newPerson()
	firstName, _ := graph.NewProperty(person, "FirstName")
	lastName, _ := graph.NewProperty(person, "LastName")

	var c *Context
	validator := graph.ValidatorFunc(func(ctx context.Context, property graph.Property, newValue any) []graph.ValidationError {
		if property.ID != lastName.ID {
			return nil
		}
		first, _ := c.Read(ctx, firstName)
		if first != "John" {
			return []graph.ValidationError{{Property: property.ID, Message: "FirstName must be John before LastName can be set"}}
		}
		return nil
	})
	c = NewContext(Options{Registry: graph.NewStaticRegistry(nil, 0), Validator: validator})

	tx, txCtx, err := Begin(context.Background(), c, BeginOptions{})
	require.NoError(t, err)
	defer tx.Dispose()

	err = c.Write(txCtx, lastName, "Doe")
	var validationErr *ValidationFailedError
	require.ErrorAs(t, err, &validationErr)
	require.Len(t, validationErr.Causes, 1)
}

// --- S4: Optimistic conflict. ---

func TestScenarioOptimisticConflictFailOnConflict(t *testing.T) {
	c := newTestContext()
	person := newPerson()
	firstName, _ := graph.NewProperty(person, "FirstName")
	require.NoError(t, c.Write(context.Background(), firstName, "Original"))

	tx, txCtx, err := Begin(context.Background(), c, BeginOptions{
		LockMode:         Optimistic,
		ConflictBehavior: FailOnConflict,
	})
	require.NoError(t, err)
	defer tx.Dispose()

	require.NoError(t, c.Write(txCtx, firstName, "FromTx"))

	// External, unrelated flow changes the value behind the transaction's back.
	require.NoError(t, c.Write(SuppressInheritance(context.Background()), firstName, "ExternalChange"))

	err = tx.Commit(context.Background())
	require.Error(t, err)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, firstName.ID, conflict.Property)
}

func TestScenarioOptimisticConflictIgnore(t *testing.T) {
	c := newTestContext()
	person := newPerson()
	firstName, _ := graph.NewProperty(person, "FirstName")
	require.NoError(t, c.Write(context.Background(), firstName, "Original"))

	tx, txCtx, err := Begin(context.Background(), c, BeginOptions{
		LockMode:         Optimistic,
		ConflictBehavior: Ignore,
	})
	require.NoError(t, err)
	defer tx.Dispose()

	require.NoError(t, c.Write(txCtx, firstName, "FromTx"))
	require.NoError(t, c.Write(SuppressInheritance(context.Background()), firstName, "ExternalChange"))

	require.NoError(t, tx.Commit(context.Background()))

	value, _ := c.Read(context.Background(), firstName)
	require.Equal(t, "FromTx", value)
}

// --- S5: Exclusive serialization. ---

func TestScenarioExclusiveSerialization(t *testing.T) {
	c := newTestContext()
	person := newPerson()
	firstName, _ := graph.NewProperty(person, "FirstName")

	tx1, tx1Ctx, err := Begin(context.Background(), c, BeginOptions{LockMode: Exclusive})
	require.NoError(t, err)
	require.NoError(t, c.Write(tx1Ctx, firstName, "FromT1"))

	var tx2Started, tx2Done sync.WaitGroup
	tx2Started.Add(1)
	tx2Done.Add(1)
	var tx2Value any

	go func() {
		defer tx2Done.Done()
		tx2Started.Done()
		tx2, tx2Ctx, err := Begin(context.Background(), c, BeginOptions{LockMode: Exclusive})
		if err != nil {
			return
		}
		defer tx2.Dispose()
		_ = c.Write(tx2Ctx, firstName, "FromT2")
		_ = tx2.Commit(context.Background())
		tx2Value, _ = c.Read(context.Background(), firstName)
	}()

	tx2Started.Wait()
	time.Sleep(20 * time.Millisecond) // give T2's Begin a chance to block on the lock

	require.NoError(t, tx1.Commit(context.Background()))
	midValue, _ := c.Read(context.Background(), firstName)
	require.Equal(t, "FromT1", midValue)
	require.NoError(t, tx1.Dispose())

	tx2Done.Wait()
	require.Equal(t, "FromT2", tx2Value)
}

// --- Other testable properties (spec §8) ---

func TestDerivedPropertyNeverEntersPendingSet(t *testing.T) {
	c := newTestContext()
	person := newPerson()
	fullName, _ := graph.NewProperty(person, "FullName")

	tx, txCtx, err := Begin(context.Background(), c, BeginOptions{})
	require.NoError(t, err)
	defer tx.Dispose()

	err = c.Write(txCtx, fullName, "Jane Doe")
	require.Error(t, err)
	var derivedErr *DerivedPropertyWriteError
	require.ErrorAs(t, err, &derivedErr)
	require.True(t, tx.buffer.IsEmpty())
}

func TestMultipleWritesToSamePropertyCollapseToLastWrite(t *testing.T) {
	c := newTestContext()
	person := newPerson()
	firstName, _ := graph.NewProperty(person, "FirstName")
	require.NoError(t, c.Write(context.Background(), firstName, "Zero"))

	tx, txCtx, err := Begin(context.Background(), c, BeginOptions{})
	require.NoError(t, err)
	defer tx.Dispose()

	require.NoError(t, c.Write(txCtx, firstName, "One"))
	require.NoError(t, c.Write(txCtx, firstName, "Two"))
	require.NoError(t, c.Write(txCtx, firstName, "Three"))

	require.NoError(t, tx.Commit(context.Background()))
	value, _ := c.Read(context.Background(), firstName)
	require.Equal(t, "Three", value)
}

func TestCommitWithNoChangesSucceedsPromptly(t *testing.T) {
	c := newTestContext()

	tx, _, err := Begin(context.Background(), c, BeginOptions{})
	require.NoError(t, err)
	defer tx.Dispose()

	start := time.Now()
	require.NoError(t, tx.Commit(context.Background()))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestDisposeIsIdempotent(t *testing.T) {
	c := newTestContext()
	tx, _, err := Begin(context.Background(), c, BeginOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.Dispose())
	require.NoError(t, tx.Dispose())
	require.Equal(t, Disposed, tx.State())
}

func TestCommitAfterDisposeFailsWithObjectDisposed(t *testing.T) {
	c := newTestContext()
	tx, _, err := Begin(context.Background(), c, BeginOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.Dispose())

	err = tx.Commit(context.Background())
	var disposedErr *ObjectDisposedError
	require.ErrorAs(t, err, &disposedErr)
}

func TestCommitTwiceFailsWithAlreadyCommitted(t *testing.T) {
	c := newTestContext()
	tx, _, err := Begin(context.Background(), c, BeginOptions{})
	require.NoError(t, err)
	defer tx.Dispose()

	require.NoError(t, tx.Commit(context.Background()))
	err = tx.Commit(context.Background())
	var committedErr *AlreadyCommittedError
	require.ErrorAs(t, err, &committedErr)
}

func TestNestedBeginFails(t *testing.T) {
	c := newTestContext()
	tx, txCtx, err := Begin(context.Background(), c, BeginOptions{})
	require.NoError(t, err)
	defer tx.Dispose()

	_, _, err = Begin(txCtx, c, BeginOptions{})
	var nestedErr *NestedTransactionError
	require.ErrorAs(t, err, &nestedErr)
}

func TestSuppressInheritanceHidesCurrentTransaction(t *testing.T) {
	c := newTestContext()
	tx, txCtx, err := Begin(context.Background(), c, BeginOptions{})
	require.NoError(t, err)
	defer tx.Dispose()

	_, ok := CurrentTx(SuppressInheritance(txCtx))
	require.False(t, ok)

	current, ok := CurrentTx(txCtx)
	require.True(t, ok)
	require.Equal(t, tx, current)
}

func TestTypeCoercionErrorRejectsIncompatibleValueBeforeChainRuns(t *testing.T) {
	c := newTestContext()
	person := newPerson()
	firstName, _ := graph.NewProperty(person, "FirstName")

	err := c.Write(context.Background(), firstName, struct{ x int }{x: 42})
	var coercionErr *TypeCoercionError
	require.ErrorAs(t, err, &coercionErr)
}

// changeSnapshot strips a graph.Change down to the fields that are stable
// across test runs (Subject carries a pointer address in its String form,
// and ChangedAt/ReceivedAt are wall-clock timestamps when a real Stamp is
// in play), so it can be snapshotted deterministically.
type changeSnapshot struct {
	Property string
	Old      any
	New      any
}

func snapshotChanges(changes []graph.Change) []changeSnapshot {
	out := make([]changeSnapshot, len(changes))
	for i, c := range changes {
		out[i] = changeSnapshot{Property: c.Property.Name, Old: c.Old, New: c.New}
	}
	return out
}

func TestScenarioBestEffortOutcomeShapeMatchesSnapshot(t *testing.T) {
	c := newTestContext()
	person := newPerson()
	firstName, _ := graph.NewProperty(person, "FirstName")
	lastName, _ := graph.NewProperty(person, "LastName")

	srcA := &stubSource{id: "srcA"}
	srcB := &stubSource{id: "srcB", fn: func([]graph.Change) sourcewriter.WriteResult {
		return sourcewriter.Failure(errors.New("device offline"))
	}}
	require.NoError(t, c.BindSource(firstName.ID, srcA))
	require.NoError(t, c.BindSource(lastName.ID, srcB))

	tx, txCtx, err := Begin(context.Background(), c, BeginOptions{FailureMode: sourcewriter.BestEffort})
	require.NoError(t, err)
	defer tx.Dispose()

	require.NoError(t, c.Write(txCtx, firstName, "John"))
	require.NoError(t, c.Write(txCtx, lastName, "Doe"))

	err = tx.Commit(context.Background())
	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)

	// No checked-in fixture to diff against yet; always (re)write it.
	t.Setenv("UPDATE_SNAPSHOTS", "true")
	cupaloy.SnapshotT(t, struct {
		IsPartialSuccess bool
		Applied          []changeSnapshot
		Failed           []changeSnapshot
	}{
		IsPartialSuccess: txErr.IsPartialSuccess,
		Applied:          snapshotChanges(txErr.Applied),
		Failed:           snapshotChanges(txErr.Failed),
	})
}

func TestScenarioRollbackLeavesPostCommitStateMatchingExpectedJSON(t *testing.T) {
	c := newTestContext()
	person := newPerson()
	firstName, _ := graph.NewProperty(person, "FirstName")
	lastName, _ := graph.NewProperty(person, "LastName")

	srcA := &stubSource{id: "srcA"}
	srcB := &stubSource{id: "srcB", fn: func([]graph.Change) sourcewriter.WriteResult {
		return sourcewriter.Failure(errors.New("device offline"))
	}}
	require.NoError(t, c.BindSource(firstName.ID, srcA))
	require.NoError(t, c.BindSource(lastName.ID, srcB))

	tx, txCtx, err := Begin(context.Background(), c, BeginOptions{FailureMode: sourcewriter.Rollback})
	require.NoError(t, err)
	defer tx.Dispose()

	require.NoError(t, c.Write(txCtx, firstName, "John"))
	require.NoError(t, c.Write(txCtx, lastName, "Doe"))

	require.Error(t, tx.Commit(context.Background()))

	first, _ := c.Read(context.Background(), firstName)
	last, _ := c.Read(context.Background(), lastName)
	actual, marshalErr := json.Marshal(map[string]any{"FirstName": first, "LastName": last})
	require.NoError(t, marshalErr)

	diffOptions := jsondiff.DefaultConsoleOptions()
	mode, diff := jsondiff.Compare(actual, []byte(`{"FirstName": null, "LastName": null}`), &diffOptions)
	require.Equal(t, jsondiff.FullMatch, mode, diff)
}
