package offload

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/layout"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/vanderheijden86/histviz/pkg/model"
)

// Communities groups nodes by Louvain modularity. Community ids are
// renumbered so the community holding the smallest member id is 0, the next
// 1, and so on; both execution paths agree on the numbering.
type Communities struct {
	Resolution float64
}

func (Communities) Name() string { return "communities" }

func (c Communities) Run(ctx context.Context, in Input) (Result, error) {
	if len(in.IDs) == 0 {
		return Result{Communities: map[string]int{}}, nil
	}
	res := c.Resolution
	if res <= 0 {
		res = 1
	}
	g := weightedGraph(in)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	reduced := community.Modularize(g, res, rand.NewPCG(in.Seed, in.Seed^0x5851f42d4c957f2d))
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	groups := make([][]string, 0)
	for _, members := range reduced.Communities() {
		ids := make([]string, 0, len(members))
		for _, n := range members {
			ids = append(ids, in.IDs[n.ID()])
		}
		if len(ids) == 0 {
			continue
		}
		sort.Strings(ids)
		groups = append(groups, ids)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a][0] < groups[b][0] })

	out := make(map[string]int, len(in.IDs))
	for ci, ids := range groups {
		for _, id := range ids {
			out[id] = ci
		}
	}
	return Result{Communities: out}, nil
}

// weightedGraph builds an undirected graph with node ids equal to Input
// indices. Parallel edges add their weights; self-loops are dropped.
func weightedGraph(in Input) *simple.WeightedUndirectedGraph {
	g := simple.NewWeightedUndirectedGraph(0, 0)
	for i := range in.IDs {
		g.AddNode(simple.Node(i))
	}
	for k, e := range in.Edges {
		if e[0] == e[1] {
			continue
		}
		w := 1.0
		if k < len(in.Weights) && in.Weights[k] > 0 {
			w = in.Weights[k]
		}
		if prev := g.WeightedEdge(int64(e[0]), int64(e[1])); prev != nil {
			w += prev.Weight()
		}
		g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(e[0]), simple.Node(e[1]), w))
	}
	return g
}

func plainGraph(in Input) graph.Undirected {
	g := simple.NewUndirectedGraph()
	for i := range in.IDs {
		g.AddNode(simple.Node(i))
	}
	for _, e := range in.Edges {
		if e[0] == e[1] || g.HasEdgeBetween(int64(e[0]), int64(e[1])) {
			continue
		}
		g.SetEdge(g.NewEdge(simple.Node(e[0]), simple.Node(e[1])))
	}
	return g
}

// EadesLayout computes an alternative force-directed layout with the Eades
// spring embedder. The result is centred on the origin and scaled so its
// largest radius is Scale·√n.
type EadesLayout struct {
	Updates   int
	Repulsion float64
	Rate      float64
	Theta     float64
	Scale     float64
}

// DefaultEades returns tuned Eades parameters.
func DefaultEades() EadesLayout {
	return EadesLayout{Updates: 200, Repulsion: 1, Rate: 0.1, Theta: 0.5, Scale: 40}
}

func (EadesLayout) Name() string { return "eades" }

func (e EadesLayout) Run(ctx context.Context, in Input) (Result, error) {
	n := len(in.IDs)
	if n == 0 {
		return Result{Positions: map[string]r2.Vec{}}, nil
	}
	eades := layout.EadesR2{
		Updates:   e.Updates,
		Repulsion: e.Repulsion,
		Rate:      e.Rate,
		Theta:     e.Theta,
		Src:       rand.NewPCG(in.Seed, in.Seed^0x2545f4914f6cdd1d),
	}
	if eades.Updates <= 0 {
		eades.Updates = DefaultEades().Updates
	}
	opt := layout.NewOptimizerR2(plainGraph(in), eades.Update)
	for opt.Update() {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
	}

	raw := make([]r2.Vec, n)
	var centroid r2.Vec
	for i := range raw {
		raw[i] = opt.Coord2(int64(i))
		if !model.Finite(raw[i]) {
			return Result{}, fmt.Errorf("eades produced non-finite position for %s", in.IDs[i])
		}
		centroid = r2.Add(centroid, raw[i])
	}
	centroid = r2.Scale(1/float64(n), centroid)

	var extent float64
	for i := range raw {
		raw[i] = r2.Sub(raw[i], centroid)
		extent = math.Max(extent, r2.Norm(raw[i]))
	}
	scale := e.Scale
	if scale <= 0 {
		scale = DefaultEades().Scale
	}
	factor := 1.0
	if extent > 0 {
		factor = scale * math.Sqrt(float64(n)) / extent
	}

	out := make(map[string]r2.Vec, n)
	for i, p := range raw {
		out[in.IDs[i]] = r2.Scale(factor, p)
	}
	return Result{Positions: out}, nil
}
