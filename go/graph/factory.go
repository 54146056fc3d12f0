package graph

// SubjectFactory produces a new Subject of the given type inside a Context.
// It exists for the case where applying a remote-originated update
// introduces a graph node the caller has never seen before (spec §6);
// everything else about graph population (wiring it into the user's object
// graph, attaching it to a parent) is the caller's responsibility, not the
// core's.
type SubjectFactory interface {
	NewSubject(t *TypeDescriptor) (Subject, error)
}

// PathProvider optionally exposes a property under an external naming
// convention (e.g. camelCase JSON paths). It is transparent to the commit
// protocol: the core never calls it, it exists only so callers wiring in an
// external routing/serialization layer (out of scope here, spec §6) have a
// documented seam to plug into.
type PathProvider interface {
	// Path returns the external path for property, or ok=false if it is not
	// exposed externally.
	Path(id PropertyID) (path string, ok bool)
}

// IdentityPathProvider exposes every property under its own Name, i.e. no
// translation at all. It is the default used when no PathProvider is
// configured.
type IdentityPathProvider struct{}

func (IdentityPathProvider) Path(id PropertyID) (string, bool) { return id.Name, true }
