// Package model defines the canonical graph types shared by every stage of the
// histviz engine: nodes, typed edges, snapshots and the camera.
//
// All coordinates are world-space gonum r2 vectors. Screen-space conversion is
// done through Camera and Viewport.
package model

import (
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
)

// NodeKind is the closed set of node categories. It is resolved once by the
// normalizer so downstream code switches on the tag instead of re-deriving it.
type NodeKind int

const (
	KindOther NodeKind = iota
	KindCommit
	KindFile
	KindFolder
)

func (k NodeKind) String() string {
	switch k {
	case KindCommit:
		return "commit"
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	default:
		return "other"
	}
}

// ParseNodeKind maps a canonical kind name back to its tag. Unknown names
// yield KindOther.
func ParseNodeKind(s string) NodeKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "commit":
		return KindCommit
	case "file":
		return KindFile
	case "folder":
		return KindFolder
	default:
		return KindOther
	}
}

// EdgeKind names the relation an edge represents. Chain and Touch are
// structural; anything else is a free-form semantic relation (lowercase).
type EdgeKind string

const (
	EdgeChain   EdgeKind = "chain"
	EdgeTouch   EdgeKind = "touch"
	EdgeRelated EdgeKind = "related"
)

// Node is a single vertex of the history graph.
type Node struct {
	ID          string
	Kind        NodeKind
	Label       string
	Timestamp   time.Time // zero when the record carried no time
	Size        float64
	Importance  float64
	FolderGroup string
	Community   int // -1 until community detection assigns one

	Pos    r2.Vec
	Vel    r2.Vec
	Pinned bool
}

// HasTimestamp reports whether the node carries a usable time.
func (n Node) HasTimestamp() bool { return !n.Timestamp.IsZero() }

// Edge connects two nodes by id.
type Edge struct {
	Source string
	Target string
	Kind   EdgeKind
	Weight float64
}

// Key returns a stable identity for the edge, used for ordering and dedup.
func (e Edge) Key() string {
	return e.Source + "\x00" + e.Target + "\x00" + string(e.Kind)
}

// Snapshot is the immutable node/edge set supplied for one point in time or
// one filter selection. Callers must not mutate a snapshot after handing it
// to the engine.
type Snapshot struct {
	Nodes []Node
	Edges []Edge
}

// Index returns a map from node id to its position in Nodes.
func (s Snapshot) Index() map[string]int {
	idx := make(map[string]int, len(s.Nodes))
	for i, n := range s.Nodes {
		idx[n.ID] = i
	}
	return idx
}

// Validate checks the snapshot invariants: unique ids and no dangling edges.
func (s Snapshot) Validate() error {
	seen := make(map[string]struct{}, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node with empty id")
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	for _, e := range s.Edges {
		if _, ok := seen[e.Source]; !ok {
			return fmt.Errorf("edge %s->%s: missing source", e.Source, e.Target)
		}
		if _, ok := seen[e.Target]; !ok {
			return fmt.Errorf("edge %s->%s: missing target", e.Source, e.Target)
		}
	}
	return nil
}

// PruneEdges returns the edges whose endpoints are both in ids. The input
// slice is not modified.
func PruneEdges[T any](edges []Edge, ids map[string]T) []Edge {
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if _, ok := ids[e.Source]; !ok {
			continue
		}
		if _, ok := ids[e.Target]; !ok {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Finite reports whether both components of v are finite numbers.
func Finite(v r2.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}

// Bounds returns the bounding box of the node positions. An empty slice
// yields the zero box.
func Bounds(nodes []Node) r2.Box {
	if len(nodes) == 0 {
		return r2.Box{}
	}
	b := r2.Box{Min: nodes[0].Pos, Max: nodes[0].Pos}
	for _, n := range nodes[1:] {
		b.Min.X = math.Min(b.Min.X, n.Pos.X)
		b.Min.Y = math.Min(b.Min.Y, n.Pos.Y)
		b.Max.X = math.Max(b.Max.X, n.Pos.X)
		b.Max.Y = math.Max(b.Max.Y, n.Pos.Y)
	}
	return b
}
