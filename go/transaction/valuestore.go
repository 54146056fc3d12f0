package transaction

import (
	"context"
	"sync"

	"github.com/fieldwire/txcore/go/graph"
)

// valueStore is the intercept.Sink backing every property in a Context: the
// "underlying slot" spec §4.1 refers to once a write survives the
// interceptor chain uninterrupted. It has no notion of transactions or
// interceptors — those live one layer up, in the Chain and the
// TransactionInterceptor.
type valueStore struct {
	mu     sync.RWMutex
	values map[graph.PropertyID]any
}

func newValueStore() *valueStore {
	return &valueStore{values: make(map[graph.PropertyID]any)}
}

func (s *valueStore) Read(_ context.Context, property graph.Property) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[property.ID], nil
}

func (s *valueStore) Write(_ context.Context, property graph.Property, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[property.ID] = value
	return nil
}
