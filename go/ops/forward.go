// Package ops carries the core's logging conventions, ported from the
// teacher's go/flow/ops package: a small LogPublisher seam plus a
// log-and-continue helper for draining a queue of fallible callbacks
// without letting one failure stop the rest (spec §4.6's "exceptions from a
// single callback are logged and swallowed").
package ops

import (
	log "github.com/sirupsen/logrus"
)

// LogPublisher is the minimal logging seam the core depends on, so callers
// can redirect core log output into their own structured-logging pipeline
// without the core importing a specific sink.
type LogPublisher interface {
	Log(level log.Level, fields log.Fields, message string)
}

// LogrusPublisher adapts the package-level logrus logger (or a caller
// supplied one) to LogPublisher.
type LogrusPublisher struct {
	Logger *log.Logger
}

func (p LogrusPublisher) Log(level log.Level, fields log.Fields, message string) {
	if p.Logger != nil {
		p.Logger.WithFields(fields).Log(level, message)
		return
	}
	log.WithFields(fields).Log(level, message)
}

// DrainSwallowingPanics calls fn for every item in items, in order. A panic
// or error from one fn call is logged via publisher and does not stop the
// remaining calls — the draining behavior spec §4.6 requires of
// complete_initialization's replay loop.
func DrainSwallowingPanics[T any](publisher LogPublisher, items []T, fn func(T) error) {
	for i, item := range items {
		runOneSwallowingPanic(publisher, i, item, fn)
	}
}

func runOneSwallowingPanic[T any](publisher LogPublisher, index int, item T, fn func(T) error) {
	defer func() {
		if r := recover(); r != nil {
			publisher.Log(log.ErrorLevel, log.Fields{
				"index": index,
				"panic": r,
			}, "buffered callback panicked; continuing drain")
		}
	}()
	if err := fn(item); err != nil {
		publisher.Log(log.ErrorLevel, log.Fields{
			"index": index,
			"error": err,
		}, "buffered callback failed; continuing drain")
	}
}
