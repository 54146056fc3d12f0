package graph

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Registry maps a subject to its type metadata: the declared property list,
// which properties are derived, and which are attributes. It is the only
// external collaborator (spec §6) through which the core learns a subject's
// shape; how that shape is produced (reflection, codegen, hand-written) is
// entirely up to the Registry implementation.
type Registry interface {
	// Describe returns the TypeDescriptor for subject, registering it on
	// first use if the Registry supports lazy discovery.
	Describe(subject Subject) (*TypeDescriptor, error)
}

// StaticRegistry is a Registry backed by a fixed set of TypeDescriptors,
// keyed by TypeDescriptor.Name, with an LRU cache in front of the
// subject->descriptor resolution so repeated lookups for the same subject
// (the common case: the same handful of subjects read/written every commit)
// don't re-walk the descriptor table.
//
// Mirrors the teacher's CacheingConnectionManager
// (go/materialize/driver/sql/interface.go): a small inner lookup wrapped by
// an LRU/map cache keyed by a stable identity.
type StaticRegistry struct {
	descriptors map[string]*TypeDescriptor
	cache       *lru.Cache[any, *TypeDescriptor]
}

// NewStaticRegistry builds a Registry over the given type descriptors,
// caching up to cacheSize resolved subject->descriptor lookups.
func NewStaticRegistry(descriptors []*TypeDescriptor, cacheSize int) *StaticRegistry {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	byName := make(map[string]*TypeDescriptor, len(descriptors))
	for _, d := range descriptors {
		byName[d.Name] = d
	}
	cache, err := lru.New[any, *TypeDescriptor](cacheSize)
	if err != nil {
		// Only fails for a non-positive size, which we've already guarded.
		panic(err)
	}
	return &StaticRegistry{descriptors: byName, cache: cache}
}

// Describe implements Registry.
func (r *StaticRegistry) Describe(subject Subject) (*TypeDescriptor, error) {
	if d, ok := r.cache.Get(subject.Handle()); ok {
		return d, nil
	}
	if subject.Type == nil {
		return nil, &UnknownTypeError{Subject: subject}
	}
	d, ok := r.descriptors[subject.Type.Name]
	if !ok {
		return nil, &UnknownTypeError{Subject: subject}
	}
	r.cache.Add(subject.Handle(), d)
	return d, nil
}

// UnknownTypeError is returned when a subject's type has no registered
// TypeDescriptor.
type UnknownTypeError struct {
	Subject Subject
}

func (e *UnknownTypeError) Error() string {
	return "graph: no registered type descriptor for " + e.Subject.String()
}
