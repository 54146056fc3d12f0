package graph

import (
	"fmt"
	"reflect"
	"time"
)

// Subject is a tracked domain object. Identity is the pointer itself; Handle
// wraps it so that maps and logs have something stable and comparable to key
// on without requiring the underlying type to implement any interface.
type Subject struct {
	// handle is the subject's identity. Two Subjects are the same subject iff
	// their handles compare equal.
	handle any
	// Type describes the subject's shape: its declared properties.
	Type *TypeDescriptor
}

// NewSubject wraps handle (normally a pointer to a user struct) as a tracked
// Subject of the given type.
func NewSubject(handle any, t *TypeDescriptor) Subject {
	if handle == nil {
		panic("graph: subject handle must not be nil")
	}
	return Subject{handle: handle, Type: t}
}

// Handle returns the identity value backing this Subject.
func (s Subject) Handle() any { return s.handle }

func (s Subject) String() string {
	if s.Type == nil {
		return fmt.Sprintf("Subject(%v)", s.handle)
	}
	return fmt.Sprintf("Subject(%s@%v)", s.Type.Name, s.handle)
}

// TypeDescriptor names a subject's type and its declared properties. A
// TypeDescriptor is produced by the Registry (C7) and is immutable once
// published.
type TypeDescriptor struct {
	Name       string
	Properties map[string]*PropertyMeta
}

// PropertyMeta is the declared metadata for a named slot on a subject type.
type PropertyMeta struct {
	Name        string
	ValueType   reflect.Type
	IsDerived   bool // computed from other properties; writes are rejected
	IsAttribute bool // metadata attached to another property, not a first-class value
}

// PropertyID identifies a single property slot: the pair (subject, name).
// It is comparable and safe as a map key.
type PropertyID struct {
	Subject Subject
	Name    string
}

func (p PropertyID) String() string {
	return fmt.Sprintf("%s.%s", p.Subject, p.Name)
}

// Property is a named slot on a Subject, resolved against its TypeDescriptor.
type Property struct {
	ID   PropertyID
	Meta *PropertyMeta
}

// NewProperty resolves name against subject's TypeDescriptor. It returns
// false if the subject's type declares no such property.
func NewProperty(subject Subject, name string) (Property, bool) {
	if subject.Type == nil {
		return Property{}, false
	}
	meta, ok := subject.Type.Properties[name]
	if !ok {
		return Property{}, false
	}
	return Property{ID: PropertyID{Subject: subject, Name: name}, Meta: meta}, true
}

// Change is an immutable record of one property's value transitioning from
// Old to New, optionally stamped with the external Source that produced it
// (spec §3 "Change").
type Change struct {
	Property PropertyID
	Old      any
	New      any
	// Source is the external Source that originated this change, or nil for
	// a purely local write.
	Source any
	// ChangedAt/ReceivedAt mirror changectx.Stamp at the moment the change
	// was captured.
	ChangedAt  time.Time
	ReceivedAt time.Time
}
