package lod

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/vanderheijden86/histviz/pkg/config"
	"github.com/vanderheijden86/histviz/pkg/model"
)

func budget(nodes, edges int) config.LoDConfig {
	b := config.DefaultConfig().LoD
	b.BaseNodes = nodes
	b.BaseEdges = edges
	return b
}

var refViewport = model.Viewport{Width: 1280, Height: 800}

func TestLimitsScaleWithViewport(t *testing.T) {
	b := budget(1000, 2000)
	tests := []struct {
		name      string
		vp        model.Viewport
		wantNodes int
	}{
		{"reference", refViewport, 1000},
		{"double area", model.Viewport{Width: 2560, Height: 800}, 2000},
		{"tiny clamps to min", model.Viewport{Width: 10, Height: 10}, 500},
		{"huge clamps to max", model.Viewport{Width: 10000, Height: 10000}, 4000},
		{"degenerate", model.Viewport{}, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, e := Limits(b, tt.vp)
			if n != tt.wantNodes || e != 2*tt.wantNodes {
				t.Errorf("Limits = %d/%d, want %d/%d", n, e, tt.wantNodes, 2*tt.wantNodes)
			}
		})
	}
}

func TestFilterKeepsMostImportant(t *testing.T) {
	nodes := []model.Node{
		{ID: "a", Importance: 1},
		{ID: "b", Importance: 5},
		{ID: "c", Importance: 3},
		{ID: "d", Importance: 5},
	}
	edges := []model.Edge{
		{Source: "a", Target: "b", Weight: 1},
		{Source: "b", Target: "d", Weight: 1},
		{Source: "c", Target: "d", Weight: 1},
	}
	b := budget(3, 100)
	b.MinScale, b.MaxScale = 1, 1
	res := Filter(Input{Nodes: nodes, Edges: edges, Zoom: 1, Viewport: refViewport, Budget: b})

	var ids []string
	for _, n := range res.Nodes {
		ids = append(ids, n.ID)
	}
	if got := strings.Join(ids, ","); got != "b,c,d" {
		t.Errorf("kept nodes %q, want b,c,d in input order", got)
	}
	if len(res.Edges) != 2 {
		t.Fatalf("expected 2 edges after endpoint pruning, got %d", len(res.Edges))
	}
	for _, e := range res.Edges {
		if e.Source == "a" || e.Target == "a" {
			t.Errorf("edge %+v references dropped node", e)
		}
	}
	if res.DroppedNodes != 1 || res.DroppedEdges != 1 {
		t.Errorf("dropped = %d/%d, want 1/1", res.DroppedNodes, res.DroppedEdges)
	}
}

func TestFilterEdgeKindsAndCap(t *testing.T) {
	nodes := []model.Node{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	edges := []model.Edge{
		{Source: "a", Target: "b", Kind: model.EdgeChain, Weight: 1},
		{Source: "b", Target: "c", Kind: model.EdgeTouch, Weight: 4},
		{Source: "a", Target: "c", Kind: model.EdgeTouch, Weight: 2},
		{Source: "c", Target: "a", Kind: "imports", Weight: 9},
	}
	res := Filter(Input{
		Nodes: nodes, Edges: edges, Zoom: 1, Viewport: refViewport,
		Budget:    budget(100, 100),
		EdgeKinds: []string{"touch", "chain"},
		MaxEdges:  2,
	})
	if len(res.Edges) != 2 {
		t.Fatalf("expected 2 edges, got %+v", res.Edges)
	}
	if res.Edges[0].Weight != 4 || res.Edges[1].Weight != 2 {
		t.Errorf("expected heaviest visible edges in input order, got %+v", res.Edges)
	}
}

func TestFlagsFor(t *testing.T) {
	tests := []struct {
		zoom float64
		want Flags
	}{
		{0.1, Flags{}},
		{0.3, Flags{ShowLabels: true}},
		{1.2, Flags{ShowLabels: true, ShowEdgeLabels: true}},
		{2, Flags{ShowLabels: true, ShowEdgeLabels: true, ShowNodeDetails: true}},
	}
	for _, tt := range tests {
		if got := FlagsFor(tt.zoom); got != tt.want {
			t.Errorf("FlagsFor(%v) = %+v, want %+v", tt.zoom, got, tt.want)
		}
	}
}

func TestTruncateLabel(t *testing.T) {
	long := "internal/datasource/sqlite.go"
	tests := []struct {
		zoom float64
		want string
	}{
		{1.0, long},
		{0.8, long},
		{0.6, "internal/datasour…"},
		{0.35, "interna…"},
		{0.1, "in…"},
	}
	for _, tt := range tests {
		if got := TruncateLabel(long, tt.zoom); got != tt.want {
			t.Errorf("TruncateLabel(zoom=%v) = %q, want %q", tt.zoom, got, tt.want)
		}
	}
	if got := TruncateLabel("ab", 0.1); got != "ab" {
		t.Errorf("short labels should be untouched, got %q", got)
	}
	if got := TruncateLabel("日本語のファイル", 0.35); got != "日本語…" {
		t.Errorf("wide runes should count double, got %q", got)
	}
}

func TestFilterIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 60).Draw(t, "nodes")
		nodes := make([]model.Node, n)
		for i := range nodes {
			nodes[i] = model.Node{
				ID:         fmt.Sprintf("n%d", i),
				Label:      strings.Repeat("x", rapid.IntRange(0, 30).Draw(t, "label")),
				Importance: float64(rapid.IntRange(0, 5).Draw(t, "imp")),
			}
		}
		var edges []model.Edge
		if n > 1 {
			m := rapid.IntRange(0, 120).Draw(t, "edges")
			kinds := []model.EdgeKind{model.EdgeChain, model.EdgeTouch, "imports"}
			for i := 0; i < m; i++ {
				s := rapid.IntRange(0, n-1).Draw(t, "s")
				d := rapid.IntRange(0, n-1).Draw(t, "d")
				edges = append(edges, model.Edge{
					Source: nodes[s].ID,
					Target: nodes[d].ID,
					Kind:   rapid.SampledFrom(kinds).Draw(t, "kind"),
					Weight: float64(rapid.IntRange(1, 4).Draw(t, "w")),
				})
			}
		}
		in := Input{
			Nodes:    nodes,
			Edges:    edges,
			Zoom:     rapid.Float64Range(0.05, 3).Draw(t, "zoom"),
			Viewport: refViewport,
			Budget:   budget(rapid.IntRange(1, 40).Draw(t, "bn"), rapid.IntRange(1, 80).Draw(t, "be")),
			MaxEdges: rapid.IntRange(0, 50).Draw(t, "max"),
		}
		if rapid.Bool().Draw(t, "kinds") {
			in.EdgeKinds = []string{"chain", "touch"}
		}
		first := Filter(in)

		again := in
		again.Nodes, again.Edges = first.Nodes, first.Edges
		second := Filter(again)

		if !reflect.DeepEqual(first.Nodes, second.Nodes) {
			t.Fatalf("node set changed on refilter")
		}
		if !reflect.DeepEqual(first.Edges, second.Edges) {
			t.Fatalf("edge set changed on refilter")
		}
		if !reflect.DeepEqual(first.Labels, second.Labels) || first.Flags != second.Flags {
			t.Fatalf("labels or flags changed on refilter")
		}

		kept := make(map[string]bool, len(first.Nodes))
		for _, n := range first.Nodes {
			kept[n.ID] = true
		}
		for _, e := range first.Edges {
			if !kept[e.Source] || !kept[e.Target] {
				t.Fatalf("edge %+v has an endpoint outside the kept set", e)
			}
		}
	})
}
