package observe

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/fieldwire/txcore/go/graph"
)

// LoggingObserver logs every Change at Debug level, in the teacher's
// log.WithFields idiom (go/runtime/capture.go, go/runtime/materialize.go).
type LoggingObserver struct {
	Logger *log.Logger
}

// NewLoggingObserver returns a LoggingObserver. If logger is nil, the
// package-level logrus logger is used.
func NewLoggingObserver(logger *log.Logger) *LoggingObserver {
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnChange(_ context.Context, change graph.Change) {
	var fields = log.Fields{
		"property": change.Property.String(),
		"old":      change.Old,
		"new":      change.New,
	}
	if change.Source != nil {
		fields["source"] = change.Source
	}
	if o.Logger != nil {
		o.Logger.WithFields(fields).Debug("property changed")
		return
	}
	log.WithFields(fields).Debug("property changed")
}
