package build

import (
	"sort"
	"sync"

	"github.com/ije/gox/set"
)

// Graph holds the finalized modules and the reverse index of their imports.
// Edges of an importer stay indexed after its dependency is removed, so importers of a deleted
// module can still be found.
type Graph struct {
	lock      sync.RWMutex
	nodes     map[string]*Module
	importers map[string]*set.Set[string]
}

func NewGraph() *Graph {
	return &Graph{
		nodes:     map[string]*Module{},
		importers: map[string]*set.Set[string]{},
	}
}

func (g *Graph) Get(id string) (*Module, bool) {
	g.lock.RLock()
	defer g.lock.RUnlock()
	m, ok := g.nodes[id]
	return m, ok
}

// Set adds or replaces the module and re-indexes its edges.
func (g *Graph) Set(m *Module) {
	g.lock.Lock()
	defer g.lock.Unlock()
	if prev, ok := g.nodes[m.ID]; ok {
		g.unindex(prev)
	}
	g.nodes[m.ID] = m
	for _, dep := range m.Deps {
		id := dep.ID()
		s, ok := g.importers[id]
		if !ok {
			s = set.New[string]()
			g.importers[id] = s
		}
		s.Add(m.ID)
	}
}

// Remove deletes the module and its outgoing edges.
func (g *Graph) Remove(id string) (*Module, bool) {
	g.lock.Lock()
	defer g.lock.Unlock()
	m, ok := g.nodes[id]
	if ok {
		g.unindex(m)
		delete(g.nodes, id)
	}
	return m, ok
}

func (g *Graph) unindex(m *Module) {
	for _, dep := range m.Deps {
		id := dep.ID()
		if s, ok := g.importers[id]; ok {
			s.Remove(m.ID)
			if s.Len() == 0 {
				delete(g.importers, id)
			}
		}
	}
}

// Importers returns the modules importing the given one, sorted.
func (g *Graph) Importers(id string) []string {
	g.lock.RLock()
	defer g.lock.RUnlock()
	return g.importersOf(id)
}

func (g *Graph) importersOf(id string) []string {
	s, ok := g.importers[id]
	if !ok {
		return nil
	}
	ids := s.Values()
	sort.Strings(ids)
	return ids
}

// Ancestors returns every module transitively importing the given one, sorted.
// The module itself is included only when it is part of a cycle.
func (g *Graph) Ancestors(id string) []string {
	g.lock.RLock()
	defer g.lock.RUnlock()

	visited := set.New[string]()
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, importer := range g.importersOf(current) {
			if !visited.Has(importer) {
				visited.Add(importer)
				queue = append(queue, importer)
			}
		}
	}
	ids := visited.Values()
	sort.Strings(ids)
	return ids
}

// Descendants returns every module transitively imported by the given one, sorted.
func (g *Graph) Descendants(id string) []string {
	g.lock.RLock()
	defer g.lock.RUnlock()

	visited := set.New[string]()
	stack := []string{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		m, ok := g.nodes[current]
		if !ok {
			continue
		}
		for _, dep := range m.Deps {
			depID := dep.ID()
			if !visited.Has(depID) {
				visited.Add(depID)
				stack = append(stack, depID)
			}
		}
	}
	ids := visited.Values()
	sort.Strings(ids)
	return ids
}

// Modules returns a snapshot of the modules sorted by id.
func (g *Graph) Modules() []*Module {
	g.lock.RLock()
	defer g.lock.RUnlock()
	modules := make([]*Module, 0, len(g.nodes))
	for _, m := range g.nodes {
		modules = append(modules, m)
	}
	sort.Slice(modules, func(i, j int) bool {
		return modules[i].ID < modules[j].ID
	})
	return modules
}

func (g *Graph) Len() int {
	g.lock.RLock()
	defer g.lock.RUnlock()
	return len(g.nodes)
}

// stronglyConnected returns the strongly connected components of the subgraph induced by the ids,
// dependencies first. Edges to ids outside of the subgraph are ignored. The order is deterministic.
func stronglyConnected(ids []string, edges func(id string) []string) [][]string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	members := make(map[string]bool, len(sorted))
	for _, id := range sorted {
		members[id] = true
	}

	var (
		index      = 0
		indices    = map[string]int{}
		lowlinks   = map[string]int{}
		onStack    = map[string]bool{}
		stack      []string
		components [][]string
		connect    func(id string)
	)

	connect = func(id string) {
		indices[id] = index
		lowlinks[id] = index
		index++
		stack = append(stack, id)
		onStack[id] = true

		for _, next := range edges(id) {
			if !members[next] {
				continue
			}
			if _, visited := indices[next]; !visited {
				connect(next)
				lowlinks[id] = min(lowlinks[id], lowlinks[next])
			} else if onStack[next] {
				lowlinks[id] = min(lowlinks[id], indices[next])
			}
		}

		if lowlinks[id] == indices[id] {
			var component []string
			for {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[top] = false
				component = append(component, top)
				if top == id {
					break
				}
			}
			sort.Strings(component)
			components = append(components, component)
		}
	}

	for _, id := range sorted {
		if _, visited := indices[id]; !visited {
			connect(id)
		}
	}
	return components
}
