package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldwire/txcore/go/graph"
	"github.com/fieldwire/txcore/go/sourcewriter"
)

func subject(name string) graph.Subject {
	return graph.NewSubject(&struct{ n string }{n: name}, &graph.TypeDescriptor{Name: "T"})
}

func TestWriteChangesRecordsLatestValuePerProperty(t *testing.T) {
	src := New("device-a", 0)
	sub := subject("x")
	id := graph.PropertyID{Subject: sub, Name: "p"}

	result := src.WriteChanges(context.Background(), []graph.Change{{Property: id, Old: 1, New: 2}})
	require.Equal(t, sourcewriter.SourceWriteSuccess, result)

	v, ok := src.Value(id)
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestWriteChangesLastWriteWinsWithinABatch(t *testing.T) {
	src := New("device-a", 0)
	sub := subject("x")
	id := graph.PropertyID{Subject: sub, Name: "p"}

	src.WriteChanges(context.Background(), []graph.Change{
		{Property: id, Old: 1, New: 2},
		{Property: id, Old: 2, New: 3},
	})

	v, ok := src.Value(id)
	require.True(t, ok)
	require.Equal(t, 3, v)
}

func TestFaultHookForcesAnAlternateResult(t *testing.T) {
	src := New("device-a", 0)
	sub := subject("x")
	id := graph.PropertyID{Subject: sub, Name: "p"}

	src.Fault = func(batch []graph.Change) (sourcewriter.WriteResult, bool) {
		return sourcewriter.Failure(errors.New("device offline")), true
	}

	result := src.WriteChanges(context.Background(), []graph.Change{{Property: id, Old: 1, New: 2}})
	require.NotEqual(t, sourcewriter.SourceWriteSuccess, result)

	_, ok := src.Value(id)
	require.False(t, ok, "a faulted write must not be recorded")
}

func TestValueReportsUnknownPropertiesAsAbsent(t *testing.T) {
	src := New("device-a", 0)
	sub := subject("x")
	_, ok := src.Value(graph.PropertyID{Subject: sub, Name: "never-written"})
	require.False(t, ok)
}
