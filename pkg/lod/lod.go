// Package lod implements the level-of-detail filter: given a zoom level and
// viewport it reduces the node/edge set to a performance budget and decides
// which text layers are legible.
//
// Filter is deterministic and idempotent. Running it over its own output with
// the same zoom, viewport and budgets returns an identical result.
package lod

import (
	"math"
	"sort"

	"github.com/vanderheijden86/histviz/pkg/config"
	"github.com/vanderheijden86/histviz/pkg/metrics"
	"github.com/vanderheijden86/histviz/pkg/model"
)

// Zoom thresholds for the text layers.
const (
	LabelZoom      = 0.3
	EdgeLabelZoom  = 1.2
	NodeDetailZoom = 1.5
)

// Flags tells the renderer which text layers are legible at this zoom.
type Flags struct {
	ShowLabels      bool
	ShowEdgeLabels  bool
	ShowNodeDetails bool
}

// FlagsFor derives the text-layer flags from zoom.
func FlagsFor(zoom float64) Flags {
	return Flags{
		ShowLabels:      zoom >= LabelZoom,
		ShowEdgeLabels:  zoom >= EdgeLabelZoom,
		ShowNodeDetails: zoom >= NodeDetailZoom,
	}
}

// Input is everything Filter depends on.
type Input struct {
	Nodes    []model.Node
	Edges    []model.Edge
	Zoom     float64
	Viewport model.Viewport
	Budget   config.LoDConfig

	// EdgeKinds restricts edges to these kinds; empty keeps all kinds.
	EdgeKinds []string
	// MaxEdges further caps the edge budget when > 0.
	MaxEdges int
}

// Result is the reduced set. Nodes and Edges keep their input order.
type Result struct {
	Nodes        []model.Node
	Edges        []model.Edge
	Labels       map[string]string
	Flags        Flags
	DroppedNodes int
	DroppedEdges int
}

// Limits returns the node and edge budgets for the viewport. Budgets scale
// with viewport area relative to the reference size, clamped to
// [MinScale, MaxScale].
func Limits(b config.LoDConfig, vp model.Viewport) (nodes, edges int) {
	ref := b.ReferenceWidth * b.ReferenceHeight
	scale := 1.0
	if ref > 0 && vp.Area() > 0 {
		scale = vp.Area() / ref
	}
	if b.MinScale > 0 {
		scale = math.Max(scale, b.MinScale)
	}
	if b.MaxScale > 0 {
		scale = math.Min(scale, b.MaxScale)
	}
	return int(float64(b.BaseNodes) * scale), int(float64(b.BaseEdges) * scale)
}

// Filter reduces the input to the budget for its zoom and viewport.
func Filter(in Input) Result {
	defer metrics.Timer(metrics.LoDFilter)()

	nodeLimit, edgeLimit := Limits(in.Budget, in.Viewport)
	if in.MaxEdges > 0 && in.MaxEdges < edgeLimit {
		edgeLimit = in.MaxEdges
	}

	res := Result{Flags: FlagsFor(in.Zoom)}
	res.Nodes = topNodes(in.Nodes, nodeLimit)
	res.DroppedNodes = len(in.Nodes) - len(res.Nodes)

	kept := make(map[string]struct{}, len(res.Nodes))
	for _, n := range res.Nodes {
		kept[n.ID] = struct{}{}
	}
	visible := model.PruneEdges(in.Edges, kept)
	if len(in.EdgeKinds) > 0 {
		allowed := make(map[model.EdgeKind]struct{}, len(in.EdgeKinds))
		for _, k := range in.EdgeKinds {
			allowed[model.EdgeKind(k)] = struct{}{}
		}
		filtered := visible[:0]
		for _, e := range visible {
			if _, ok := allowed[e.Kind]; ok {
				filtered = append(filtered, e)
			}
		}
		visible = filtered
	}
	res.Edges = topEdges(visible, edgeLimit)
	res.DroppedEdges = len(in.Edges) - len(res.Edges)

	res.Labels = make(map[string]string, len(res.Nodes))
	for _, n := range res.Nodes {
		res.Labels[n.ID] = TruncateLabel(n.Label, in.Zoom)
	}
	return res
}

// topNodes keeps the limit most important nodes, ties broken by id, and
// returns them in their original order.
func topNodes(nodes []model.Node, limit int) []model.Node {
	if limit < 0 {
		limit = 0
	}
	if len(nodes) <= limit {
		return append([]model.Node(nil), nodes...)
	}
	order := make([]int, len(nodes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		na, nb := nodes[order[a]], nodes[order[b]]
		if na.Importance != nb.Importance {
			return na.Importance > nb.Importance
		}
		return na.ID < nb.ID
	})
	keep := order[:limit]
	sort.Ints(keep)
	out := make([]model.Node, len(keep))
	for i, idx := range keep {
		out[i] = nodes[idx]
	}
	return out
}

// topEdges keeps the limit heaviest edges, ties broken by endpoint ids, in
// their original order.
func topEdges(edges []model.Edge, limit int) []model.Edge {
	if limit < 0 {
		limit = 0
	}
	if len(edges) <= limit {
		return append([]model.Edge(nil), edges...)
	}
	order := make([]int, len(edges))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ea, eb := edges[order[a]], edges[order[b]]
		if ea.Weight != eb.Weight {
			return ea.Weight > eb.Weight
		}
		return ea.Key() < eb.Key()
	})
	keep := order[:limit]
	sort.Ints(keep)
	out := make([]model.Edge, len(keep))
	for i, idx := range keep {
		out[i] = edges[idx]
	}
	return out
}
