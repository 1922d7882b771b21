package layout

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/vanderheijden86/histviz/pkg/config"
	"github.com/vanderheijden86/histviz/pkg/metrics"
	"github.com/vanderheijden86/histviz/pkg/model"
)

// Spiral is the time-radial layout. Commits sit on an Archimedean spiral
// r = a + b·θ in timestamp order; every other node hangs off the earliest
// commit that touches it as a short outward branch. Placement is a pure
// function of the snapshot, so Tick is a no-op.
type Spiral struct {
	cfg config.SpiralConfig
}

// NewSpiral returns a time-radial layout.
func NewSpiral(cfg config.SpiralConfig) *Spiral {
	if cfg.MaxPerBranch <= 0 {
		cfg.MaxPerBranch = 1
	}
	return &Spiral{cfg: cfg}
}

func (s *Spiral) Mode() string { return config.ModeTimeRadial }

// Tick is a no-op; spiral placement has no dynamics.
func (s *Spiral) Tick(*Graph) TickStats { return TickStats{} }

func (s *Spiral) Converged() bool { return true }

func (s *Spiral) Reheat(float64) {}

// armSpacing returns b. The arm gap widens slowly with history length so
// long histories do not crowd the inner turns.
func (s *Spiral) armSpacing(commits int) float64 {
	return s.cfg.ArmGap / (2 * math.Pi) * (1 + 0.15*math.Log2(1+float64(commits)))
}

// CommitOrder returns commit node indices oldest first. Commits without a
// timestamp follow the timed ones; ties break by id.
func CommitOrder(g *Graph) []int {
	var order []int
	for i, n := range g.Nodes {
		if n.Kind == model.KindCommit {
			order = append(order, i)
		}
	}
	sort.Slice(order, func(a, b int) bool {
		na, nb := g.Nodes[order[a]], g.Nodes[order[b]]
		if na.HasTimestamp() != nb.HasTimestamp() {
			return na.HasTimestamp()
		}
		if !na.Timestamp.Equal(nb.Timestamp) {
			return na.Timestamp.Before(nb.Timestamp)
		}
		return na.ID < nb.ID
	})
	return order
}

// Homes maps each non-commit node index to the index of its home commit:
// the earliest commit linked to it by a touch edge in either direction.
func Homes(g *Graph, order []int) map[int]int {
	rank := make(map[int]int, len(order))
	for r, i := range order {
		rank[i] = r
	}
	homes := make(map[int]int)
	for ei, e := range g.Edges {
		if e.Kind != model.EdgeTouch {
			continue
		}
		a, b := g.EdgeEnds(ei)
		commit, other := a, b
		if g.Nodes[commit].Kind != model.KindCommit {
			commit, other = b, a
		}
		if g.Nodes[commit].Kind != model.KindCommit || g.Nodes[other].Kind == model.KindCommit {
			continue
		}
		if cur, ok := homes[other]; !ok || rank[commit] < rank[cur] {
			homes[other] = commit
		}
	}
	return homes
}

// Place computes every unpinned position from scratch.
func (s *Spiral) Place(g *Graph) {
	defer metrics.Timer(metrics.LayoutPlace)()

	order := CommitOrder(g)
	b := s.armSpacing(len(order))
	type frame struct{ pos, normal, tangent r2.Vec }
	frames := make(map[int]frame, len(order))

	var centroid r2.Vec
	for i, idx := range order {
		theta := float64(i) * s.cfg.AngleStep
		r := s.cfg.InnerRadius + b*theta
		pos := r2.Vec{X: r * math.Cos(theta), Y: r * math.Sin(theta)}
		// d/dθ of (r cos θ, r sin θ) with dr/dθ = b.
		tangent := r2.Unit(r2.Vec{
			X: b*math.Cos(theta) - r*math.Sin(theta),
			Y: b*math.Sin(theta) + r*math.Cos(theta),
		})
		normal := r2.Vec{X: tangent.Y, Y: -tangent.X}
		frames[idx] = frame{pos: pos, normal: normal, tangent: tangent}
		centroid = r2.Add(centroid, pos)
		s.set(g, idx, pos)
	}
	if len(order) > 0 {
		centroid = r2.Scale(1/float64(len(order)), centroid)
	}

	homes := Homes(g, order)
	branches := make(map[int][]int, len(order))
	for i := range g.Nodes {
		if g.Nodes[i].Kind == model.KindCommit {
			continue
		}
		if home, ok := homes[i]; ok {
			branches[home] = append(branches[home], i)
			continue
		}
		s.set(g, i, r2.Add(centroid, Jitter(g.Nodes[i].ID, s.cfg.Jitter)))
	}

	for home, kids := range branches {
		sort.Slice(kids, func(a, b int) bool { return g.Nodes[kids[a]].ID < g.Nodes[kids[b]].ID })
		f := frames[home]
		for k, idx := range kids {
			s.set(g, idx, s.branchPoint(f.pos, f.normal, f.tangent, k))
		}
	}
}

// branchPoint returns the k-th sibling position on a commit's branch.
// Siblings step outward along the normal; after MaxPerBranch a new twig
// column starts, alternating sides of the tangent.
func (s *Spiral) branchPoint(origin, normal, tangent r2.Vec, k int) r2.Vec {
	row := k % s.cfg.MaxPerBranch
	col := k / s.cfg.MaxPerBranch
	out := s.cfg.BranchBase + float64(row)*s.cfg.BranchStep

	lateral := float64((col+1)/2) * s.cfg.TwigGap
	if col%2 == 0 {
		lateral = -lateral
	}
	sway := 0.25 * s.cfg.TwigGap
	if row%2 == 0 {
		sway = -sway
	}
	return r2.Add(origin, r2.Add(r2.Scale(out, normal), r2.Scale(lateral+sway, tangent)))
}

func (s *Spiral) set(g *Graph, i int, p r2.Vec) {
	if g.Nodes[i].Pinned {
		return
	}
	g.Nodes[i].Pos = p
	g.Nodes[i].Vel = r2.Vec{}
	g.sanitize(i)
}

// MaxBranchReach is the farthest a branch node can sit from its home commit.
func (s *Spiral) MaxBranchReach(siblings int) float64 {
	if siblings <= 0 {
		return 0
	}
	rows := min(siblings, s.cfg.MaxPerBranch)
	cols := (siblings + s.cfg.MaxPerBranch - 1) / s.cfg.MaxPerBranch
	out := s.cfg.BranchBase + float64(rows-1)*s.cfg.BranchStep
	lat := float64(cols/2)*s.cfg.TwigGap + 0.25*s.cfg.TwigGap
	return math.Hypot(out, lat)
}
