package taskflow

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Engine runs flows. An Engine is safe for concurrent use; every Run keeps its
// state on its own stack.
type Engine struct {
	listeners []Listener
	newRunID  func() string
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithListener registers a transition listener.
func WithListener(l Listener) Option {
	return func(e *Engine) {
		if l != nil {
			e.listeners = append(e.listeners, l)
		}
	}
}

// WithRunIDGenerator overrides how run ids are produced.
func WithRunIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newRunID = fn }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{newRunID: uuid.NewString, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is what a run leaves behind. On failure Store holds the state after
// the last successful task.
type Result struct {
	RunID   string
	Store   Store
	states  runState
	outputs map[string]Store
}

// Get returns a key from the final store.
func (r *Result) Get(key string) (any, bool) {
	v, ok := r.Store[key]
	return v, ok
}

// Outputs returns what the child identified by h provided during the run.
func (r *Result) Outputs(h Handle) Store {
	out, ok := r.outputs[h.name]
	if !ok {
		return Store{}
	}
	return out.Clone()
}

// State returns the final state of a node, or "" if the node is unknown.
func (r *Result) State(name string) State {
	return r.states[name]
}

// States returns a copy of every node's final state.
func (r *Result) States() map[string]State {
	out := make(map[string]State, len(r.states))
	for k, v := range r.states {
		out[k] = v
	}
	return out
}

// Run validates flow against the keys in initial, then executes it. A task
// error is returned exactly as the task returned it.
func (e *Engine) Run(ctx context.Context, flow *Flow, initial Store) (*Result, error) {
	r := &runner{
		engine: e,
		result: &Result{
			RunID:   e.newRunID(),
			Store:   initial.Clone(),
			states:  runState{},
			outputs: map[string]Store{},
		},
	}
	if err := Validate(flow, initial); err != nil {
		return r.result, err
	}
	r.markPending(flow)
	err := r.runFlow(ctx, "", flow)
	return r.result, err
}

// Validate checks node name uniqueness and that every task's inputs are
// available from initial or an earlier task.
func Validate(flow *Flow, initial Store) error {
	names := map[string]struct{}{}
	if err := checkNames(flow, names); err != nil {
		return err
	}
	available := map[string]struct{}{CtxtKey: {}}
	for k := range initial {
		available[k] = struct{}{}
	}
	return checkInputs(flow, available)
}

func checkNames(flow *Flow, names map[string]struct{}) error {
	if _, dup := names[flow.name]; dup {
		return flowErrorf(ErrDuplicateNode, flow.name, "name used more than once")
	}
	names[flow.name] = struct{}{}
	for _, child := range flow.children {
		switch n := child.(type) {
		case *Flow:
			if err := checkNames(n, names); err != nil {
				return err
			}
		default:
			if _, dup := names[n.Name()]; dup {
				return flowErrorf(ErrDuplicateNode, n.Name(), "name used more than once")
			}
			names[n.Name()] = struct{}{}
		}
	}
	return nil
}

func checkInputs(flow *Flow, available map[string]struct{}) error {
	for _, child := range flow.children {
		switch n := child.(type) {
		case *Flow:
			if err := checkInputs(n, available); err != nil {
				return err
			}
		case *Task:
			var missing []string
			for _, k := range n.requires {
				if _, ok := available[k]; !ok {
					missing = append(missing, k)
				}
			}
			if len(missing) > 0 {
				return flowErrorf(ErrMissingInputs, n.name, "%v not provided before this task", missing)
			}
			for _, k := range n.provides {
				available[k] = struct{}{}
			}
		}
	}
	return nil
}

type runner struct {
	engine *Engine
	result *Result
}

func (r *runner) markPending(flow *Flow) {
	r.result.states[flow.name] = StatePending
	for _, child := range flow.children {
		if f, ok := child.(*Flow); ok {
			r.markPending(f)
			continue
		}
		r.result.states[child.Name()] = StatePending
	}
}

func (r *runner) move(parent string, node Node, from, to State, cause error) {
	// Transitions are computed by the runner itself; an illegal one is a bug here.
	if err := r.result.states.move(node.Name(), from, to); err != nil {
		panic(err)
	}
	t := Transition{
		RunID: r.result.RunID,
		Flow:  parent,
		Node:  node.Name(),
		Kind:  node.nodeKind(),
		From:  from,
		To:    to,
		Err:   cause,
		At:    r.engine.now(),
	}
	for _, l := range r.engine.listeners {
		l.OnTransition(t)
	}
}

func (r *runner) runFlow(ctx context.Context, parent string, flow *Flow) error {
	r.move(parent, flow, StatePending, StateRunning, nil)
	merged := Store{}
	for i, child := range flow.children {
		var err error
		switch n := child.(type) {
		case *Task:
			err = r.runTask(ctx, flow.name, n)
		case *Flow:
			err = r.runFlow(ctx, flow.name, n)
		}
		for k, v := range r.result.outputs[child.Name()] {
			merged[k] = v
		}
		if err != nil {
			r.skip(flow.name, flow.children[i+1:])
			r.result.outputs[flow.name] = merged
			r.move(parent, flow, StateRunning, StateFailure, err)
			return err
		}
	}
	r.result.outputs[flow.name] = merged
	r.move(parent, flow, StateRunning, StateSuccess, nil)
	return nil
}

func (r *runner) skip(parent string, nodes []Node) {
	for _, node := range nodes {
		if f, ok := node.(*Flow); ok {
			r.skip(f.name, f.children)
		}
		r.move(parent, node, StatePending, StateSkipped, nil)
	}
}

func (r *runner) runTask(ctx context.Context, parent string, task *Task) error {
	if err := ctx.Err(); err != nil {
		r.move(parent, task, StatePending, StateSkipped, err)
		return err
	}
	r.move(parent, task, StatePending, StateRunning, nil)

	out, err := task.run(ctx, r.result.Store.subset(task.requires))
	if err == nil {
		err = checkOutputs(task, out)
	}
	if err != nil {
		r.move(parent, task, StateRunning, StateFailure, err)
		return err
	}

	for k, v := range out {
		r.result.Store[k] = v
	}
	r.result.outputs[task.name] = out.Clone()
	r.move(parent, task, StateRunning, StateSuccess, nil)
	return nil
}

func checkOutputs(task *Task, out Store) error {
	declared := make(map[string]struct{}, len(task.provides))
	for _, k := range task.provides {
		declared[k] = struct{}{}
		if !out.Has(k) {
			return flowErrorf(ErrInvalidResult, task.name, "declared output %q not returned", k)
		}
	}
	for k := range out {
		if _, ok := declared[k]; !ok {
			return flowErrorf(ErrUndeclaredOutput, task.name, "returned key %q", k)
		}
	}
	return nil
}
