package module

import (
	"fmt"
	"sort"

	"fortio.org/safecast"
)

// Entry is a named root of the graph.
type Entry struct {
	Name string
	Root ID
}

// Graph is the arena of modules discovered in one build pass. It is not
// safe for concurrent mutation; the graph builder owns it from a single
// goroutine.
type Graph struct {
	modules    []*Module
	byIdentity map[string]ID
	entries    []Entry
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{byIdentity: make(map[string]ID)}
}

// Add returns the module for identity, creating it when absent. The second
// result reports whether the module was created by this call.
func (g *Graph) Add(identity, path, name string, kind Kind) (*Module, bool) {
	if id, ok := g.byIdentity[identity]; ok {
		return g.modules[id], false
	}

	n, err := safecast.Conv[uint32](len(g.modules))
	if err != nil {
		panic(fmt.Errorf("module arena overflow: %w", err))
	}
	m := &Module{
		ID:       ID(n),
		Identity: identity,
		Path:     path,
		Name:     name,
		Kind:     kind,
		Order:    -1,
	}
	g.modules = append(g.modules, m)
	g.byIdentity[identity] = m.ID

	return m, true
}

// Lookup finds a module by identity.
func (g *Graph) Lookup(identity string) (*Module, bool) {
	id, ok := g.byIdentity[identity]
	if !ok {
		return nil, false
	}

	return g.modules[id], true
}

// Get returns the module with id.
func (g *Graph) Get(id ID) *Module {
	return g.modules[id]
}

// Len returns the number of modules.
func (g *Graph) Len() int {
	return len(g.modules)
}

// Modules returns the arena in ID order.
func (g *Graph) Modules() []*Module {
	return g.modules
}

// AddEntry records a named root. Entries are kept sorted by name.
func (g *Graph) AddEntry(name string, root ID) {
	g.entries = append(g.entries, Entry{Name: name, Root: root})
	sort.SliceStable(g.entries, func(i, j int) bool {
		return g.entries[i].Name < g.entries[j].Name
	})
}

// Entries returns the entry points sorted by name.
func (g *Graph) Entries() []Entry {
	return g.entries
}

// Canonicalize assigns Order by depth-first pre-order from each entry in
// name order, following edges in source order. The result depends only on
// graph shape, never on the order in which workers discovered modules.
// Modules unreachable from any entry keep Order -1.
func (g *Graph) Canonicalize() {
	for _, m := range g.modules {
		m.Order = -1
	}

	next := 0
	for _, e := range g.entries {
		g.walk(e.Root, func(Edge) bool { return true }, func(m *Module) {
			if m.Order < 0 {
				m.Order = next
				next++
			}
		})
	}
}

// Reachable returns the modules reachable from root through edges accepted
// by follow, in depth-first pre-order. Root is always included.
func (g *Graph) Reachable(root ID, follow func(Edge) bool) []ID {
	var out []ID
	g.walk(root, follow, func(m *Module) {
		out = append(out, m.ID)
	})

	return out
}

// walk is an iterative depth-first pre-order traversal. An explicit stack
// keeps deep dependency chains off the goroutine stack.
func (g *Graph) walk(root ID, follow func(Edge) bool, visit func(*Module)) {
	seen := make(map[ID]bool)
	stack := []ID{root}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true

		m := g.modules[id]
		visit(m)

		// Push in reverse so the first edge is visited first.
		for i := len(m.Edges) - 1; i >= 0; i-- {
			e := m.Edges[i]
			if !seen[e.Target] && follow(e) {
				stack = append(stack, e.Target)
			}
		}
	}
}

// SortByOrder sorts ids by canonical order.
func (g *Graph) SortByOrder(ids []ID) {
	sort.Slice(ids, func(i, j int) bool {
		return g.modules[ids[i]].Order < g.modules[ids[j]].Order
	})
}

// Ordered returns every ordered module sorted by Order.
func (g *Graph) Ordered() []*Module {
	out := make([]*Module, 0, len(g.modules))
	for _, m := range g.modules {
		if m.Order >= 0 {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })

	return out
}
