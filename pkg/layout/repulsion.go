package layout

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/barneshut"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/vanderheijden86/histviz/pkg/config"
	"github.com/vanderheijden86/histviz/pkg/debug"
)

// repeller accumulates node-node repulsion. Graphs up to ExactLimit nodes
// use exact all-pairs; larger graphs use a Barnes-Hut quadtree, or seeded
// pair sampling when configured. Every mode is reproducible for a given
// seed and tick.
type repeller struct {
	cfg  config.ForceConfig
	seed uint64

	bodies    []body
	particles []barneshut.Particle2
}

// body adapts a node position to barneshut.Particle2.
type body struct {
	pos r2.Vec
	id  string
}

func (b *body) Coord2() r2.Vec { return b.pos }
func (b *body) Mass() float64  { return 1 }

func newRepeller(cfg config.ForceConfig, seed uint64) repeller {
	return repeller{cfg: cfg, seed: seed}
}

func (r *repeller) apply(g *Graph, forces []r2.Vec, tick uint64) {
	n := g.Len()
	switch {
	case n < 2:
	case n <= r.cfg.ExactLimit:
		r.exact(g, forces)
	case r.cfg.Strategy == config.RepulsionSampled:
		r.sampled(g, forces, tick)
	default:
		if err := r.barnesHut(g, forces); err != nil {
			debug.Log("force: barnes-hut unavailable (%v), sampling instead", err)
			r.sampled(g, forces, tick)
		}
	}
}

// pair returns the repulsive force on a from b, where d = pos(a) - pos(b).
// Magnitude is Repulsion/(d²+Softening). Coincident nodes are separated
// along a direction derived from their ids.
func (r *repeller) pair(d r2.Vec, a, b string) r2.Vec {
	d2 := r2.Norm2(d)
	if d2 < 1e-12 {
		d = r2.Sub(Jitter(a, 1), Jitter(b, 1))
		if r2.Norm2(d) < 1e-12 {
			d = r2.Vec{X: 1}
		}
		d = r2.Unit(d)
		return r2.Scale(r.cfg.Repulsion/r.cfg.Softening, d)
	}
	dist := math.Sqrt(d2)
	return r2.Scale(r.cfg.Repulsion/((d2+r.cfg.Softening)*dist), d)
}

func (r *repeller) exact(g *Graph, forces []r2.Vec) {
	nodes := g.Nodes
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			f := r.pair(r2.Sub(nodes[i].Pos, nodes[j].Pos), nodes[i].ID, nodes[j].ID)
			forces[i] = r2.Add(forces[i], f)
			forces[j] = r2.Sub(forces[j], f)
		}
	}
}

func (r *repeller) barnesHut(g *Graph, forces []r2.Vec) error {
	n := g.Len()
	if cap(r.bodies) < n {
		r.bodies = make([]body, n)
		r.particles = make([]barneshut.Particle2, n)
	}
	r.bodies = r.bodies[:n]
	r.particles = r.particles[:n]
	for i := range g.Nodes {
		r.bodies[i] = body{pos: g.Nodes[i].Pos, id: g.Nodes[i].ID}
		r.particles[i] = &r.bodies[i]
	}
	plane, err := barneshut.NewPlane(r.particles)
	if err != nil {
		return err
	}
	for i := range r.bodies {
		forces[i] = r2.Add(forces[i], plane.ForceOn(&r.bodies[i], r.cfg.Theta, r.softRepulsion))
	}
	return nil
}

// softRepulsion is a barneshut.Force2. v points from p1 toward p2 (or an
// aggregate centre of mass m2), so the repulsive force is along -v.
func (r *repeller) softRepulsion(p1, p2 barneshut.Particle2, m1, m2 float64, v r2.Vec) r2.Vec {
	if p2 != nil && p1 == p2 {
		return r2.Vec{}
	}
	d2 := r2.Norm2(v)
	if d2 < 1e-12 {
		return r2.Vec{}
	}
	return r2.Scale(-r.cfg.Repulsion*m1*m2/((d2+r.cfg.Softening)*math.Sqrt(d2)), v)
}

// sampled approximates repulsion with SampleSize random partners per node,
// scaled up to estimate the full sum. The generator is reseeded from the
// configured seed and the tick number, so runs are reproducible.
func (r *repeller) sampled(g *Graph, forces []r2.Vec, tick uint64) {
	n := g.Len()
	k := r.cfg.SampleSize
	if k <= 0 {
		k = 16
	}
	if k > n-1 {
		k = n - 1
	}
	rng := rand.New(rand.NewPCG(r.seed, tick))
	scale := float64(n-1) / float64(k)
	for i := range g.Nodes {
		for s := 0; s < k; s++ {
			j := rng.IntN(n - 1)
			if j >= i {
				j++
			}
			f := r.pair(r2.Sub(g.Nodes[i].Pos, g.Nodes[j].Pos), g.Nodes[i].ID, g.Nodes[j].ID)
			forces[i] = r2.Add(forces[i], r2.Scale(scale, f))
		}
	}
}
