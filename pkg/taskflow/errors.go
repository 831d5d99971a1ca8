package taskflow

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTask      = errors.New("invalid task")
	ErrMissingInputs    = errors.New("missing inputs")
	ErrDuplicateNode    = errors.New("duplicate node name")
	ErrUndeclaredOutput = errors.New("undeclared output")
	ErrInvalidResult    = errors.New("invalid task result")
)

// FlowError describes a flow that cannot be run, or a task that broke its
// declared contract. Errors returned by the task functions themselves are
// never wrapped in a FlowError.
type FlowError struct {
	Kind error
	Node string
	Msg  string
}

func (e *FlowError) Error() string {
	if e == nil {
		return ""
	}
	prefix := e.Kind.Error()
	if e.Node != "" {
		prefix = fmt.Sprintf("%s (%s)", prefix, e.Node)
	}
	if e.Msg == "" {
		return prefix
	}
	return prefix + ": " + e.Msg
}

func (e *FlowError) Unwrap() error { return e.Kind }

func flowErrorf(kind error, node, format string, args ...any) error {
	return &FlowError{Kind: kind, Node: node, Msg: fmt.Sprintf(format, args...)}
}
