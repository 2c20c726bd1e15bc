package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/example/campaignflow/internal/domain"
)

// End is the terminal route target.
const End = "__end__"

// PhaseFunc executes one phase. It receives a private copy of the run
// state and returns the updated state.
type PhaseFunc func(ctx context.Context, state *domain.RunState) (*domain.RunState, error)

// RouterFunc picks an outgoing route label from the state a phase left.
type RouterFunc func(state *domain.RunState) string

type edge struct {
	to     string
	router RouterFunc
	routes map[string]string
}

// Graph is a named set of phases joined by static or conditional edges.
// It is built once and then only read.
type Graph struct {
	phases map[string]PhaseFunc
	order  []string
	edges  map[string]edge
	entry  string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		phases: make(map[string]PhaseFunc),
		edges:  make(map[string]edge),
	}
}

// Register adds a phase.
func (g *Graph) Register(name string, fn PhaseFunc) error {
	if name == "" || name == End {
		return fmt.Errorf("%w: invalid phase name %q", domain.ErrInvalidArgument, name)
	}
	if fn == nil {
		return fmt.Errorf("%w: phase %q has no function", domain.ErrInvalidArgument, name)
	}
	if _, ok := g.phases[name]; ok {
		return fmt.Errorf("%w: phase %q registered twice", domain.ErrInvalidArgument, name)
	}
	g.phases[name] = fn
	g.order = append(g.order, name)
	return nil
}

// AddEdge routes from unconditionally to to.
func (g *Graph) AddEdge(from, to string) error {
	if err := g.checkSource(from); err != nil {
		return err
	}
	g.edges[from] = edge{to: to}
	return nil
}

// AddConditionalEdge routes from through router: the label it returns is
// looked up in routes to find the next phase.
func (g *Graph) AddConditionalEdge(from string, router RouterFunc, routes map[string]string) error {
	if err := g.checkSource(from); err != nil {
		return err
	}
	if router == nil || len(routes) == 0 {
		return fmt.Errorf("%w: conditional edge from %q needs a router and routes", domain.ErrInvalidArgument, from)
	}
	table := make(map[string]string, len(routes))
	for label, to := range routes {
		table[label] = to
	}
	g.edges[from] = edge{router: router, routes: table}
	return nil
}

func (g *Graph) checkSource(from string) error {
	if _, ok := g.phases[from]; !ok {
		return fmt.Errorf("%w: edge from unregistered phase %q", domain.ErrInvalidArgument, from)
	}
	if _, ok := g.edges[from]; ok {
		return fmt.Errorf("%w: phase %q already has an outgoing edge", domain.ErrInvalidArgument, from)
	}
	return nil
}

// SetEntry names the first phase of every run.
func (g *Graph) SetEntry(name string) error {
	if _, ok := g.phases[name]; !ok {
		return fmt.Errorf("%w: entry phase %q is not registered", domain.ErrInvalidArgument, name)
	}
	g.entry = name
	return nil
}

// Entry returns the entry phase.
func (g *Graph) Entry() string { return g.entry }

// Phases returns phase names in registration order.
func (g *Graph) Phases() []string {
	return append([]string(nil), g.order...)
}

// Has reports whether name is a registered phase.
func (g *Graph) Has(name string) bool {
	_, ok := g.phases[name]
	return ok
}

// Validate checks that the graph has an entry, that every phase has an
// outgoing edge and that every edge target exists.
func (g *Graph) Validate() error {
	if g.entry == "" {
		return fmt.Errorf("%w: graph has no entry phase", domain.ErrInvalidArgument)
	}
	for _, name := range g.order {
		e, ok := g.edges[name]
		if !ok {
			return fmt.Errorf("%w: phase %q has no outgoing edge", domain.ErrInvalidArgument, name)
		}
		for _, to := range e.targets() {
			if to != End && !g.Has(to) {
				return fmt.Errorf("%w: phase %q routes to unregistered phase %q", domain.ErrInvalidArgument, name, to)
			}
		}
	}
	return nil
}

func (e edge) targets() []string {
	if e.router == nil {
		return []string{e.to}
	}
	out := make([]string, 0, len(e.routes))
	for _, to := range e.routes {
		out = append(out, to)
	}
	sort.Strings(out)
	return out
}

// next resolves the phase after from.
func (g *Graph) next(from string, state *domain.RunState) (string, error) {
	e, ok := g.edges[from]
	if !ok {
		return "", fmt.Errorf("%w: phase %q has no outgoing edge", domain.ErrUnknownRoute, from)
	}
	if e.router == nil {
		return e.to, nil
	}
	label := e.router(state)
	to, ok := e.routes[label]
	if !ok {
		return "", fmt.Errorf("%w: %q from phase %q", domain.ErrUnknownRoute, label, from)
	}
	return to, nil
}
