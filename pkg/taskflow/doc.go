// Package taskflow runs small sequential sagas.
//
// A Task declares the store keys it requires and the keys it provides. A Flow
// is an ordered list of tasks and nested flows. The Engine checks that every
// task's inputs can be satisfied before anything executes, then runs the
// children strictly in declaration order over a key/value Store, merging each
// task's declared outputs into the store.
//
// A failing task aborts the run. The engine returns the task's error unchanged
// together with the store as it was after the last successful task. Nothing is
// rolled back; tasks that need compensation must do it themselves before
// returning.
//
// Task and Flow values are immutable once built and hold no per-run state, but
// flows are cheap and are normally built fresh for every request.
package taskflow
