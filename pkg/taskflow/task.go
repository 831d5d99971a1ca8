package taskflow

import (
	"context"
	"strings"
)

// TaskFunc receives the task's declared inputs (plus ctxt) and returns a store
// whose keys must be the task's declared outputs.
type TaskFunc func(ctx context.Context, in Store) (Store, error)

// ValueFunc is the short form for tasks that provide exactly one key; the
// returned value is stored under that key.
type ValueFunc func(ctx context.Context, in Store) (any, error)

// TaskSpec describes a task. Exactly one of Run or RunValue must be set.
type TaskSpec struct {
	Namespace string
	Kind      string
	Prefix    string
	Suffix    string
	Requires  []string
	Provides  []string
	Run       TaskFunc
	RunValue  ValueFunc
}

// Task is an immutable unit of work inside a Flow.
type Task struct {
	name     string
	requires []string
	provides []string
	run      TaskFunc
}

// TaskName builds "namespace:prefix_kind_suffix", omitting empty parts.
func TaskName(namespace, kind, prefix, suffix string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{prefix, kind, suffix} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return namespace + ":" + strings.Join(parts, "_")
}

// NewTask validates spec and builds a Task.
func NewTask(spec TaskSpec) (*Task, error) {
	if spec.Namespace == "" || spec.Kind == "" {
		return nil, flowErrorf(ErrInvalidTask, "", "namespace and kind are required")
	}
	name := TaskName(spec.Namespace, spec.Kind, spec.Prefix, spec.Suffix)

	if (spec.Run == nil) == (spec.RunValue == nil) {
		return nil, flowErrorf(ErrInvalidTask, name, "exactly one of Run or RunValue must be set")
	}
	if spec.RunValue != nil && len(spec.Provides) != 1 {
		return nil, flowErrorf(ErrInvalidTask, name, "RunValue requires exactly one provided key, got %d", len(spec.Provides))
	}

	requires, err := uniqueKeys(name, "requires", spec.Requires)
	if err != nil {
		return nil, err
	}
	provides, err := uniqueKeys(name, "provides", spec.Provides)
	if err != nil {
		return nil, err
	}

	run := spec.Run
	if spec.RunValue != nil {
		key := provides[0]
		fn := spec.RunValue
		run = func(ctx context.Context, in Store) (Store, error) {
			v, err := fn(ctx, in)
			if err != nil {
				return nil, err
			}
			return Store{key: v}, nil
		}
	}

	return &Task{name: name, requires: requires, provides: provides, run: run}, nil
}

// MustTask is NewTask for statically known specs; it panics on error.
func MustTask(spec TaskSpec) *Task {
	t, err := NewTask(spec)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Task) Name() string { return t.name }

// Requires returns a copy of the declared input keys.
func (t *Task) Requires() []string { return append([]string(nil), t.requires...) }

// Provides returns a copy of the declared output keys.
func (t *Task) Provides() []string { return append([]string(nil), t.provides...) }

func (t *Task) nodeKind() string { return "task" }

func uniqueKeys(name, field string, keys []string) ([]string, error) {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			return nil, flowErrorf(ErrInvalidTask, name, "empty key in %s", field)
		}
		if _, dup := seen[k]; dup {
			return nil, flowErrorf(ErrInvalidTask, name, "key %q listed twice in %s", k, field)
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out, nil
}
