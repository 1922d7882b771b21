// Package testutil provides deterministic snapshot generators and shared
// assertions for engine tests.
package testutil

import (
	"fmt"
	"math/rand/v2"
	"path"
	"time"

	"github.com/vanderheijden86/histviz/pkg/model"
	"github.com/vanderheijden86/histviz/pkg/normalize"
)

// GeneratorConfig controls history generation.
type GeneratorConfig struct {
	Seed             uint64        // Random seed; the same seed yields the same snapshot
	Commits          int           // Number of commits on the chain
	FilePool         int           // Distinct files commits may touch
	TouchesPerCommit int           // Upper bound of files touched per commit
	Folders          int           // Distinct folders files are spread over
	BaseTime         time.Time     // Timestamp of the first commit
	Step             time.Duration // Time between commits
}

// DefaultConfig returns a config suitable for most tests.
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		Seed:             42,
		Commits:          40,
		FilePool:         60,
		TouchesPerCommit: 4,
		Folders:          6,
		BaseTime:         time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		Step:             time.Hour,
	}
}

// Generator creates snapshot fixtures.
type Generator struct {
	cfg GeneratorConfig
	rng *rand.Rand
}

// New creates a Generator with the given config. Zero fields fall back to
// DefaultConfig.
func New(cfg GeneratorConfig) *Generator {
	def := DefaultConfig()
	if cfg.Commits <= 0 {
		cfg.Commits = def.Commits
	}
	if cfg.FilePool <= 0 {
		cfg.FilePool = def.FilePool
	}
	if cfg.TouchesPerCommit <= 0 {
		cfg.TouchesPerCommit = def.TouchesPerCommit
	}
	if cfg.Folders <= 0 {
		cfg.Folders = def.Folders
	}
	if cfg.BaseTime.IsZero() {
		cfg.BaseTime = def.BaseTime
	}
	if cfg.Step <= 0 {
		cfg.Step = def.Step
	}
	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
}

// NewDefault creates a Generator with default config.
func NewDefault() *Generator {
	return New(DefaultConfig())
}

// History builds a commit chain where each commit touches a few files from
// a shared pool, and each file belongs to a folder via a "contains" edge.
func (g *Generator) History() model.Snapshot {
	var snap model.Snapshot
	files := make([]string, g.cfg.FilePool)
	for f := range files {
		folder := fmt.Sprintf("pkg/mod%d", f%g.cfg.Folders)
		files[f] = path.Join(folder, fmt.Sprintf("file%d.go", f))
	}

	for c := 0; c < g.cfg.Commits; c++ {
		id := fmt.Sprintf("c%03d", c)
		snap.Nodes = append(snap.Nodes, model.Node{
			ID:        id,
			Kind:      model.KindCommit,
			Label:     fmt.Sprintf("commit %d", c),
			Timestamp: g.cfg.BaseTime.Add(time.Duration(c) * g.cfg.Step),
			Size:      float64(1 + g.rng.IntN(200)),
			Community: -1,
		})
		if c > 0 {
			snap.Edges = append(snap.Edges, model.Edge{
				Source: fmt.Sprintf("c%03d", c-1), Target: id, Kind: model.EdgeChain, Weight: 1,
			})
		}
		touched := make(map[int]bool)
		for k := 1 + g.rng.IntN(g.cfg.TouchesPerCommit); k > 0; k-- {
			f := g.rng.IntN(len(files))
			if touched[f] {
				continue
			}
			touched[f] = true
			snap.Edges = append(snap.Edges, model.Edge{
				Source: id, Target: files[f], Kind: model.EdgeTouch, Weight: 1,
			})
		}
	}

	folders := make(map[string]bool)
	for _, f := range files {
		dir := path.Dir(f)
		snap.Nodes = append(snap.Nodes, model.Node{
			ID: f, Kind: model.KindFile, Label: path.Base(f), FolderGroup: dir,
			Size: float64(10 + g.rng.IntN(500)), Community: -1,
		})
		if !folders[dir] {
			folders[dir] = true
			snap.Nodes = append(snap.Nodes, model.Node{
				ID: dir, Kind: model.KindFolder, Label: dir, Community: -1,
			})
		}
		snap.Edges = append(snap.Edges, model.Edge{Source: dir, Target: f, Kind: "contains", Weight: 1})
	}
	return WithImportance(snap)
}

// Random builds n nodes of mixed kinds with m random edges (no self-loops,
// duplicates allowed).
func (g *Generator) Random(n, m int) model.Snapshot {
	kinds := []model.NodeKind{model.KindCommit, model.KindFile, model.KindFolder, model.KindOther}
	edgeKinds := []model.EdgeKind{model.EdgeChain, model.EdgeTouch, "imports"}
	var snap model.Snapshot
	for i := 0; i < n; i++ {
		snap.Nodes = append(snap.Nodes, model.Node{
			ID:        fmt.Sprintf("n%d", i),
			Kind:      kinds[g.rng.IntN(len(kinds))],
			Label:     fmt.Sprintf("node %d", i),
			Timestamp: g.cfg.BaseTime.Add(time.Duration(g.rng.IntN(1000)) * time.Minute),
			Size:      float64(g.rng.IntN(300)),
			Community: -1,
		})
	}
	for i := 0; i < m && n > 1; i++ {
		s := g.rng.IntN(n)
		t := g.rng.IntN(n - 1)
		if t >= s {
			t++
		}
		snap.Edges = append(snap.Edges, model.Edge{
			Source: snap.Nodes[s].ID,
			Target: snap.Nodes[t].ID,
			Kind:   edgeKinds[g.rng.IntN(len(edgeKinds))],
			Weight: 1,
		})
	}
	return WithImportance(snap)
}

// Tree builds a connected tree of n nodes where node i hangs off a random
// earlier node. Edges alternate chain and touch kinds.
func (g *Generator) Tree(n int) model.Snapshot {
	var snap model.Snapshot
	for i := 0; i < n; i++ {
		snap.Nodes = append(snap.Nodes, model.Node{ID: fmt.Sprintf("t%d", i), Kind: model.KindFile, Community: -1})
		if i == 0 {
			continue
		}
		kind := model.EdgeTouch
		if i%2 == 0 {
			kind = model.EdgeChain
		}
		parent := g.rng.IntN(i)
		snap.Edges = append(snap.Edges, model.Edge{
			Source: snap.Nodes[parent].ID, Target: snap.Nodes[i].ID, Kind: kind, Weight: 1,
		})
	}
	return WithImportance(snap)
}

// TwoCliques builds two disjoint complete graphs of size nodes each joined
// by a single bridge edge. Community detection should separate them.
func TwoCliques(size int) model.Snapshot {
	var snap model.Snapshot
	for side, prefix := range []string{"a", "b"} {
		for i := 0; i < size; i++ {
			snap.Nodes = append(snap.Nodes, model.Node{
				ID: fmt.Sprintf("%s%02d", prefix, i), Kind: model.KindFile, Community: -1,
			})
		}
		base := side * size
		for i := 0; i < size; i++ {
			for j := i + 1; j < size; j++ {
				snap.Edges = append(snap.Edges, model.Edge{
					Source: snap.Nodes[base+i].ID, Target: snap.Nodes[base+j].ID,
					Kind: "related", Weight: 1,
				})
			}
		}
	}
	if size > 0 {
		snap.Edges = append(snap.Edges, model.Edge{Source: "a00", Target: "b00", Kind: "related", Weight: 1})
	}
	return WithImportance(snap)
}

// ThreeCommitsTwoFiles is the canonical spiral scenario: commits c1 < c2 < c3
// by time, and files f1, f2 first touched by c2 (f1 also by c3).
func ThreeCommitsTwoFiles() model.Snapshot {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	snap := model.Snapshot{
		Nodes: []model.Node{
			{ID: "c3", Kind: model.KindCommit, Timestamp: base.Add(3 * time.Hour), Community: -1},
			{ID: "f1", Kind: model.KindFile, Label: "main.go", Community: -1},
			{ID: "c1", Kind: model.KindCommit, Timestamp: base.Add(1 * time.Hour), Community: -1},
			{ID: "f2", Kind: model.KindFile, Label: "util.go", Community: -1},
			{ID: "c2", Kind: model.KindCommit, Timestamp: base.Add(2 * time.Hour), Community: -1},
		},
		Edges: []model.Edge{
			{Source: "c1", Target: "c2", Kind: model.EdgeChain, Weight: 1},
			{Source: "c2", Target: "c3", Kind: model.EdgeChain, Weight: 1},
			{Source: "c2", Target: "f1", Kind: model.EdgeTouch, Weight: 1},
			{Source: "f2", Target: "c2", Kind: model.EdgeTouch, Weight: 1},
			{Source: "c3", Target: "f1", Kind: model.EdgeTouch, Weight: 1},
		},
	}
	return WithImportance(snap)
}

// WithImportance fills Importance from size and degree the way the
// normalizer does.
func WithImportance(snap model.Snapshot) model.Snapshot {
	degree := make(map[string]int, len(snap.Nodes))
	for _, e := range snap.Edges {
		degree[e.Source]++
		degree[e.Target]++
	}
	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		n.Importance = normalize.Importance(n.Kind, n.Size, degree[n.ID])
	}
	return snap
}

// Without returns a copy of snap with node id and every edge touching it
// removed.
func Without(snap model.Snapshot, id string) model.Snapshot {
	var out model.Snapshot
	for _, n := range snap.Nodes {
		if n.ID != id {
			out.Nodes = append(out.Nodes, n)
		}
	}
	for _, e := range snap.Edges {
		if e.Source != id && e.Target != id {
			out.Edges = append(out.Edges, e)
		}
	}
	return out
}
