// Package layout computes and updates 2D positions for the live node set.
//
// Two strategies implement Strategy: Force, an iterative spring/repulsion
// simulation, and Spiral, a deterministic time-radial placement of commits
// with files hanging off their home commit. Graph owns the node and edge
// arrays; the renderer and the highlight propagator only read them between
// ticks.
package layout

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/vanderheijden86/histviz/pkg/metrics"
	"github.com/vanderheijden86/histviz/pkg/model"
)

// seedSpacing is the sunflower spacing used for first placement.
const seedSpacing = 12

// Graph is the live, mutable layout state for one snapshot.
type Graph struct {
	Nodes []model.Node
	Edges []model.Edge

	index map[string]int
	ends  [][2]int
	adj   [][]int
}

// ReconcileStats reports what a snapshot update did to the live set.
type ReconcileStats struct {
	Kept    int
	Added   int
	Removed int
	Dropped int // edges whose endpoints were missing

	// EdgesChanged is set when the edge set differs from prev by endpoint,
	// kind or weight, even over an unchanged node set.
	EdgesChanged bool
}

// NewGraph builds a graph from a snapshot. Nodes are copied, dangling edges
// dropped, and every node is given a finite sunflower position.
func NewGraph(snap model.Snapshot) *Graph {
	g, _ := Reconcile(nil, snap)
	return g
}

// Reconcile builds the graph for snap, carrying position, velocity and pin
// state over from prev for every id that persists. New nodes start at the
// mean position of already placed neighbours plus a small id-derived jitter,
// or near the centroid when they have none.
func Reconcile(prev *Graph, snap model.Snapshot) (*Graph, ReconcileStats) {
	defer metrics.Timer(metrics.Reconcile)()

	g := &Graph{
		Nodes: make([]model.Node, 0, len(snap.Nodes)),
		index: make(map[string]int, len(snap.Nodes)),
	}
	for _, n := range snap.Nodes {
		if _, dup := g.index[n.ID]; dup || n.ID == "" {
			continue
		}
		g.index[n.ID] = len(g.Nodes)
		g.Nodes = append(g.Nodes, n)
	}
	g.Edges = model.PruneEdges(snap.Edges, g.index)
	g.rebuildAdjacency()

	stats := ReconcileStats{Dropped: len(snap.Edges) - len(g.Edges)}
	placed := make([]bool, len(g.Nodes))
	if prev != nil {
		for i := range g.Nodes {
			old, ok := prev.Node(g.Nodes[i].ID)
			if !ok {
				continue
			}
			g.Nodes[i].Pos = old.Pos
			g.Nodes[i].Vel = old.Vel
			g.Nodes[i].Pinned = old.Pinned
			if g.Nodes[i].Community < 0 {
				g.Nodes[i].Community = old.Community
			}
			placed[i] = true
			stats.Kept++
		}
		stats.Removed = len(prev.Nodes) - stats.Kept
		stats.EdgesChanged = !sameEdges(prev.Edges, g.Edges)
	}
	stats.Added = len(g.Nodes) - stats.Kept
	g.seedUnplaced(placed)
	return g, stats
}

// sameEdges reports whether a and b hold the same edges as multisets.
func sameEdges(a, b []model.Edge) bool {
	if len(a) != len(b) {
		return false
	}
	count := make(map[model.Edge]int, len(a))
	for _, e := range a {
		count[e]++
	}
	for _, e := range b {
		if count[e] == 0 {
			return false
		}
		count[e]--
	}
	return true
}

func (g *Graph) rebuildAdjacency() {
	g.ends = make([][2]int, len(g.Edges))
	g.adj = make([][]int, len(g.Nodes))
	for i, e := range g.Edges {
		s, t := g.index[e.Source], g.index[e.Target]
		g.ends[i] = [2]int{s, t}
		g.adj[s] = append(g.adj[s], t)
		g.adj[t] = append(g.adj[t], s)
	}
}

// seedUnplaced positions every node not marked placed. Anchored nodes are
// resolved in sweeps so chains of new nodes grow outward from the known
// part of the graph.
func (g *Graph) seedUnplaced(placed []bool) {
	anyPlaced := false
	for _, p := range placed {
		if p {
			anyPlaced = true
			break
		}
	}
	if !anyPlaced {
		for i := range g.Nodes {
			g.Nodes[i].Pos = phyllotaxis(i, seedSpacing)
			g.Nodes[i].Vel = r2.Vec{}
		}
		return
	}

	for progress := true; progress; {
		progress = false
		for i := range g.Nodes {
			if placed[i] {
				continue
			}
			var sum r2.Vec
			var k int
			for _, j := range g.adj[i] {
				if placed[j] {
					sum = r2.Add(sum, g.Nodes[j].Pos)
					k++
				}
			}
			if k == 0 {
				continue
			}
			g.Nodes[i].Pos = r2.Add(r2.Scale(1/float64(k), sum), Jitter(g.Nodes[i].ID, seedSpacing))
			g.Nodes[i].Vel = r2.Vec{}
			placed[i] = true
			progress = true
		}
	}

	var centroid r2.Vec
	var k int
	for i, p := range placed {
		if p {
			centroid = r2.Add(centroid, g.Nodes[i].Pos)
			k++
		}
	}
	centroid = r2.Scale(1/float64(k), centroid)
	for i := range g.Nodes {
		if !placed[i] {
			g.Nodes[i].Pos = r2.Add(centroid, Jitter(g.Nodes[i].ID, 4*seedSpacing))
			g.Nodes[i].Vel = r2.Vec{}
		}
	}
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.Nodes) }

// IndexOf returns the slice index of id.
func (g *Graph) IndexOf(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (model.Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return model.Node{}, false
	}
	return g.Nodes[i], true
}

// Neighbors returns the indices adjacent to node i. Callers must not modify
// the returned slice.
func (g *Graph) Neighbors(i int) []int { return g.adj[i] }

// NeighborIDs returns the sorted, deduplicated ids adjacent to id.
func (g *Graph) NeighborIDs(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{}, len(g.adj[i]))
	out := make([]string, 0, len(g.adj[i]))
	for _, j := range g.adj[i] {
		nid := g.Nodes[j].ID
		if _, dup := seen[nid]; dup {
			continue
		}
		seen[nid] = struct{}{}
		out = append(out, nid)
	}
	sort.Strings(out)
	return out
}

// EdgeEnds returns the node indices of edge i.
func (g *Graph) EdgeEnds(i int) (int, int) { return g.ends[i][0], g.ends[i][1] }

// SetPinned pins or releases node id. A pinned node keeps zero velocity and
// is skipped by every strategy.
func (g *Graph) SetPinned(id string, pinned bool) bool {
	i, ok := g.index[id]
	if !ok {
		return false
	}
	g.Nodes[i].Pinned = pinned
	g.Nodes[i].Vel = r2.Vec{}
	return true
}

// MoveTo places node id at p directly. Only meaningful for pinned nodes;
// unpinned nodes are moved too but the next tick applies forces as usual.
func (g *Graph) MoveTo(id string, p r2.Vec) bool {
	i, ok := g.index[id]
	if !ok || !model.Finite(p) {
		return false
	}
	g.Nodes[i].Pos = p
	g.Nodes[i].Vel = r2.Vec{}
	return true
}

// SetCommunities assigns community ids; nodes absent from the map keep -1.
func (g *Graph) SetCommunities(m map[string]int) {
	for i := range g.Nodes {
		if c, ok := m[g.Nodes[i].ID]; ok {
			g.Nodes[i].Community = c
		} else {
			g.Nodes[i].Community = -1
		}
	}
}

// ApplyPositions moves every unpinned node in m to its mapped position and
// zeroes its velocity. Non-finite entries are ignored.
func (g *Graph) ApplyPositions(m map[string]r2.Vec) int {
	var n int
	for id, p := range m {
		i, ok := g.index[id]
		if !ok || g.Nodes[i].Pinned || !model.Finite(p) {
			continue
		}
		g.Nodes[i].Pos = p
		g.Nodes[i].Vel = r2.Vec{}
		n++
	}
	return n
}

// Bounds returns the bounding box of all node positions.
func (g *Graph) Bounds() r2.Box { return model.Bounds(g.Nodes) }

// Snapshot returns a copy of the current node and edge state.
func (g *Graph) Snapshot() model.Snapshot {
	return model.Snapshot{
		Nodes: append([]model.Node(nil), g.Nodes...),
		Edges: append([]model.Edge(nil), g.Edges...),
	}
}

// sanitize replaces any non-finite position with an id-derived fallback
// near the origin and drops its velocity.
func (g *Graph) sanitize(i int) bool {
	n := &g.Nodes[i]
	if model.Finite(n.Pos) && model.Finite(n.Vel) {
		return false
	}
	n.Pos = Jitter(n.ID, 4*seedSpacing)
	n.Vel = r2.Vec{}
	return true
}
