package taskflow

// Node is either a *Task or a *Flow.
type Node interface {
	Name() string
	nodeKind() string
}

// Handle identifies a child added to a Flow; use it with Result.Outputs.
type Handle struct {
	name string
}

func (h Handle) Name() string { return h.name }

// Flow is an ordered composition of tasks and nested flows.
type Flow struct {
	name     string
	children []Node
}

// NewFlow creates an empty flow.
func NewFlow(name string) *Flow {
	return &Flow{name: name}
}

func (f *Flow) Name() string { return f.name }

func (f *Flow) nodeKind() string { return "flow" }

// Add appends a child. Children run in the order they were added.
func (f *Flow) Add(node Node) Handle {
	f.children = append(f.children, node)
	return Handle{name: node.Name()}
}

// Children returns the children in execution order.
func (f *Flow) Children() []Node {
	return append([]Node(nil), f.children...)
}

// Requires returns the keys the flow needs from outside: inputs of its
// tasks that no earlier task in the flow provides.
func (f *Flow) Requires() []string {
	provided := map[string]struct{}{CtxtKey: {}}
	seen := map[string]struct{}{}
	var out []string
	walkTasks(f, func(t *Task) {
		for _, k := range t.requires {
			if _, ok := provided[k]; ok {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
		for _, k := range t.provides {
			provided[k] = struct{}{}
		}
	})
	return out
}

// Provides returns every key produced by tasks in the flow.
func (f *Flow) Provides() []string {
	seen := map[string]struct{}{}
	var out []string
	walkTasks(f, func(t *Task) {
		for _, k := range t.provides {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				out = append(out, k)
			}
		}
	})
	return out
}

func walkTasks(f *Flow, fn func(*Task)) {
	for _, child := range f.children {
		switch n := child.(type) {
		case *Task:
			fn(n)
		case *Flow:
			walkTasks(n, fn)
		}
	}
}
