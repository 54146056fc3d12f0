package txbuffer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldwire/txcore/go/graph"
)

func subjectProperty(name string) graph.PropertyID {
	s := graph.NewSubject(&struct{}{}, &graph.TypeDescriptor{Name: "T"})
	return graph.PropertyID{Subject: s, Name: name}
}

func TestInsertFirstWriteWins(t *testing.T) {
	b := New()
	p := subjectProperty("FirstName")

	b.Insert(graph.Change{Property: p, Old: "a", New: "b"})
	b.Insert(graph.Change{Property: p, Old: "ignored", New: "c"})
	b.Insert(graph.Change{Property: p, Old: "ignored-too", New: "d"})

	c, ok := b.Get(p)
	require.True(t, ok)
	require.Equal(t, "a", c.Old)
	require.Equal(t, "d", c.New)
	require.Equal(t, 1, b.Len())
}

func TestIterateInOrderPreservesInsertionOrder(t *testing.T) {
	b := New()
	var props []graph.PropertyID
	for _, name := range []string{"Z", "A", "M"} {
		p := subjectProperty(name)
		props = append(props, p)
		b.Insert(graph.Change{Property: p, Old: nil, New: name})
	}

	var seen []string
	b.IterateInOrder(func(c graph.Change) { seen = append(seen, c.New.(string)) })
	require.Equal(t, []string{"Z", "A", "M"}, seen)
	require.Len(t, props, 3)
}

func TestRemoveAllClearsEverything(t *testing.T) {
	b := New()
	p := subjectProperty("X")
	b.Insert(graph.Change{Property: p, New: 1})
	require.False(t, b.IsEmpty())

	b.RemoveAll()
	require.True(t, b.IsEmpty())
	require.Equal(t, 0, b.Len())
	_, ok := b.Get(p)
	require.False(t, ok)
}
