// Package memory is an in-process sourcewriter.Source, used by tests and by
// the txctl run-scenario command in place of a real field device.
package memory

import (
	"context"
	"sync"

	"github.com/fieldwire/txcore/go/graph"
	"github.com/fieldwire/txcore/go/sourcewriter"
)

// Source records the last value written to each property in memory. Fault,
// if set, is consulted before every write and can force a non-success
// WriteResult to simulate a field device going offline mid-commit.
type Source struct {
	identity  string
	batchSize int

	mu     sync.Mutex
	values map[graph.PropertyID]any

	Fault func(batch []graph.Change) (sourcewriter.WriteResult, bool)
}

// New constructs a Source with the given Identity() and WriteBatchSize().
func New(identity string, batchSize int) *Source {
	return &Source{identity: identity, batchSize: batchSize, values: make(map[graph.PropertyID]any)}
}

func (s *Source) Identity() string    { return s.identity }
func (s *Source) WriteBatchSize() int { return s.batchSize }

func (s *Source) WriteChanges(_ context.Context, batch []graph.Change) sourcewriter.WriteResult {
	if s.Fault != nil {
		if result, faulted := s.Fault(batch); faulted {
			return result
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range batch {
		s.values[c.Property] = c.New
	}
	return sourcewriter.SourceWriteSuccess
}

// Value returns the last value written for id, if any.
func (s *Source) Value(id graph.PropertyID) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[id]
	return v, ok
}
