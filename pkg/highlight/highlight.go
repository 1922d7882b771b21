// Package highlight tracks the hovered node and its direct neighbours so the
// renderer can emphasise them. It never touches positions.
package highlight

import (
	"sort"

	"github.com/vanderheijden86/histviz/pkg/model"
)

// Emphasis is how strongly an element should be drawn.
type Emphasis int

const (
	None     Emphasis = iota // nothing hovered
	Dim                      // something else is hovered
	Neighbor                 // adjacent to the hovered node
	Focus                    // the hovered node itself
)

func (e Emphasis) String() string {
	switch e {
	case Dim:
		return "dim"
	case Neighbor:
		return "neighbor"
	case Focus:
		return "focus"
	default:
		return "none"
	}
}

// State is the current hover state.
type State struct {
	HoveredID string
	Neighbors []string // sorted
}

// Active reports whether a node is hovered.
func (s State) Active() bool { return s.HoveredID != "" }

// Propagator derives neighbour sets from the live edge list.
type Propagator struct {
	adj       map[string]map[string]struct{}
	hovered   string
	neighbors map[string]struct{}
}

// New returns an empty propagator.
func New() *Propagator {
	return &Propagator{adj: make(map[string]map[string]struct{})}
}

// SetGraph replaces the adjacency. If the hovered node no longer appears in
// nodes the hover state is cleared; otherwise its neighbour set is refreshed.
func (p *Propagator) SetGraph(nodes []model.Node, edges []model.Edge) {
	p.adj = make(map[string]map[string]struct{}, len(nodes))
	for _, n := range nodes {
		p.adj[n.ID] = nil
	}
	for _, e := range edges {
		p.link(e.Source, e.Target)
		p.link(e.Target, e.Source)
	}
	if p.hovered == "" {
		return
	}
	if _, ok := p.adj[p.hovered]; !ok {
		p.Leave()
		return
	}
	p.Hover(p.hovered)
}

func (p *Propagator) link(a, b string) {
	if a == b {
		return
	}
	set := p.adj[a]
	if set == nil {
		set = make(map[string]struct{})
		p.adj[a] = set
	}
	set[b] = struct{}{}
}

// Hover focuses id. Unknown ids clear the state. It reports whether the
// state changed.
func (p *Propagator) Hover(id string) bool {
	if _, ok := p.adj[id]; !ok {
		return p.Leave()
	}
	changed := id != p.hovered
	p.hovered = id
	p.neighbors = make(map[string]struct{}, len(p.adj[id]))
	for n := range p.adj[id] {
		p.neighbors[n] = struct{}{}
	}
	return changed
}

// Leave clears the hover state and reports whether anything was hovered.
func (p *Propagator) Leave() bool {
	changed := p.hovered != ""
	p.hovered = ""
	p.neighbors = nil
	return changed
}

// State returns a copy of the hover state.
func (p *Propagator) State() State {
	if p.hovered == "" {
		return State{}
	}
	out := make([]string, 0, len(p.neighbors))
	for n := range p.neighbors {
		out = append(out, n)
	}
	sort.Strings(out)
	return State{HoveredID: p.hovered, Neighbors: out}
}

// Emphasis returns how node id should be drawn.
func (p *Propagator) Emphasis(id string) Emphasis {
	switch {
	case p.hovered == "":
		return None
	case id == p.hovered:
		return Focus
	}
	if _, ok := p.neighbors[id]; ok {
		return Neighbor
	}
	return Dim
}

// EdgeEmphasis returns Focus for edges incident to the hovered node and Dim
// for every other edge while something is hovered.
func (p *Propagator) EdgeEmphasis(src, tgt string) Emphasis {
	switch {
	case p.hovered == "":
		return None
	case src == p.hovered || tgt == p.hovered:
		return Focus
	default:
		return Dim
	}
}
