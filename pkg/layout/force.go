package layout

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/vanderheijden86/histviz/pkg/config"
	"github.com/vanderheijden86/histviz/pkg/debug"
	"github.com/vanderheijden86/histviz/pkg/metrics"
	"github.com/vanderheijden86/histviz/pkg/model"
)

// Force is the iterative spring/repulsion simulation.
//
// Each tick accumulates spring forces along edges, pairwise repulsion,
// a weak pull toward the origin and a collision term, then integrates
// damped velocities scaled by alpha. Alpha cools geometrically, and
// per-tick speed is capped at MaxSpeed*alpha, so a static graph always
// reaches the convergence threshold in a bounded number of ticks.
type Force struct {
	cfg       config.ForceConfig
	minRadius float64
	maxRadius float64
	seed      uint64

	alpha     float64
	converged bool
	ticks     uint64

	forces []r2.Vec
	repel  repeller
	grid   collisionGrid
}

// NewForce returns a force simulation at full heat.
func NewForce(cfg config.ForceConfig, render config.RenderConfig, seed uint64) *Force {
	f := &Force{
		cfg:       cfg,
		minRadius: render.MinRadius,
		maxRadius: render.MaxRadius,
		seed:      seed,
		alpha:     1,
	}
	f.repel = newRepeller(cfg, seed)
	return f
}

func (f *Force) Mode() string { return config.ModeForce }

// Alpha returns the current heat.
func (f *Force) Alpha() float64 { return f.alpha }

func (f *Force) Converged() bool { return f.converged }

// Reheat raises alpha to at least a and resumes ticking.
func (f *Force) Reheat(a float64) {
	if a > f.alpha {
		f.alpha = math.Min(a, 1)
	}
	f.converged = false
}

// Place scatters unpinned nodes on a sunflower around the origin and
// restarts the simulation at full heat.
func (f *Force) Place(g *Graph) {
	defer metrics.Timer(metrics.LayoutPlace)()
	for i := range g.Nodes {
		if g.Nodes[i].Pinned {
			continue
		}
		g.Nodes[i].Pos = phyllotaxis(i, seedSpacing)
		g.Nodes[i].Vel = r2.Vec{}
	}
	f.alpha = 1
	f.converged = false
}

func (f *Force) spring(kind model.EdgeKind) config.SpringConfig {
	switch kind {
	case model.EdgeChain:
		return f.cfg.Chain
	case model.EdgeTouch:
		return f.cfg.Touch
	default:
		return f.cfg.Other
	}
}

// Tick advances the simulation one step. It is a no-op once converged.
func (f *Force) Tick(g *Graph) TickStats {
	if f.converged || g.Len() == 0 {
		f.converged = true
		return TickStats{Alpha: f.alpha}
	}
	defer metrics.Timer(metrics.LayoutTick)()

	n := g.Len()
	if cap(f.forces) < n {
		f.forces = make([]r2.Vec, n)
	}
	forces := f.forces[:n]
	for i := range forces {
		forces[i] = r2.Vec{}
	}

	f.applySprings(g, forces)
	f.repel.apply(g, forces, f.ticks)
	for i := range g.Nodes {
		forces[i] = r2.Sub(forces[i], r2.Scale(f.cfg.Centering, g.Nodes[i].Pos))
	}
	f.grid.apply(g, forces, f.cfg.Collision, f.minRadius, f.maxRadius)

	stats := f.integrate(g, forces)
	f.ticks++
	f.alpha *= f.cfg.AlphaDecay
	if f.alpha < f.cfg.AlphaMin {
		f.alpha = f.cfg.AlphaMin
	}
	if stats.MaxDisplacement < f.cfg.ConvergeThreshold {
		f.converged = true
		debug.Log("force: converged after %d ticks (alpha %.4f)", f.ticks, f.alpha)
	}
	return stats
}

func (f *Force) applySprings(g *Graph, forces []r2.Vec) {
	for ei, e := range g.Edges {
		s, t := g.EdgeEnds(ei)
		d := r2.Sub(g.Nodes[t].Pos, g.Nodes[s].Pos)
		dist := r2.Norm(d)
		if dist < 1e-9 {
			continue
		}
		sp := f.spring(e.Kind)
		pull := r2.Scale(sp.Stiffness*(dist-sp.Rest)/dist, d)
		forces[s] = r2.Add(forces[s], pull)
		forces[t] = r2.Sub(forces[t], pull)
	}
}

func (f *Force) integrate(g *Graph, forces []r2.Vec) TickStats {
	stats := TickStats{Alpha: f.alpha}
	limit := f.cfg.MaxSpeed * f.alpha
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.Pinned {
			n.Vel = r2.Vec{}
			continue
		}
		v := r2.Scale(f.cfg.Damping, r2.Add(n.Vel, r2.Scale(f.alpha, forces[i])))
		if speed := r2.Norm(v); speed > limit {
			v = r2.Scale(limit/speed, v)
		}
		n.Vel = v
		n.Pos = r2.Add(n.Pos, v)
		if g.sanitize(i) {
			stats.Sanitized++
			continue
		}
		if d := r2.Norm(v); d > stats.MaxDisplacement {
			stats.MaxDisplacement = d
		}
	}
	return stats
}

// Tension is the summed magnitude of all spring forces, a measure of how far
// the graph is from its preferred edge lengths.
func (f *Force) Tension(g *Graph) float64 {
	var total float64
	for ei, e := range g.Edges {
		s, t := g.EdgeEnds(ei)
		dist := r2.Norm(r2.Sub(g.Nodes[t].Pos, g.Nodes[s].Pos))
		sp := f.spring(e.Kind)
		total += math.Abs(sp.Stiffness * (dist - sp.Rest))
	}
	return total
}
