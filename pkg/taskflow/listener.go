package taskflow

import (
	"billingstack/pkg/logging"
)

// Listener observes state transitions. Listeners run synchronously on the
// engine goroutine and must not block.
type Listener interface {
	OnTransition(Transition)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Transition)

func (f ListenerFunc) OnTransition(t Transition) { f(t) }

// LogListener logs every transition at debug level.
type LogListener struct {
	logger logging.Logger
}

func NewLogListener(logger logging.Logger) *LogListener {
	return &LogListener{logger: logger}
}

func (l *LogListener) OnTransition(t Transition) {
	entry := l.logger.WithFields(logging.Fields{
		"run_id": t.RunID,
		"flow":   t.Flow,
		"node":   t.Node,
		"from":   t.From,
		"to":     t.To,
	})
	if t.Err != nil {
		entry = entry.WithError(t.Err)
	}
	entry.Debugf("%s %s moved to state %s from %s", t.Kind, t.Node, t.To, t.From)
}
