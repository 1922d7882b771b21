package layout

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// collisionPad is the gap kept between node boundaries.
const collisionPad = 2

type cellKey struct{ x, y int }

// collisionGrid buckets nodes into square cells at least one maximum node
// diameter wide, so overlapping pairs are always in the same or an adjacent
// cell.
type collisionGrid struct {
	cells map[cellKey][]int
	radii []float64
}

func (c *collisionGrid) apply(g *Graph, forces []r2.Vec, strength, minR, maxR float64) {
	if strength <= 0 || g.Len() < 2 {
		return
	}
	if c.cells == nil {
		c.cells = make(map[cellKey][]int)
	}
	clear(c.cells)
	if cap(c.radii) < g.Len() {
		c.radii = make([]float64, g.Len())
	}
	radii := c.radii[:g.Len()]

	size := 2*maxR + collisionPad
	key := func(p r2.Vec) cellKey {
		return cellKey{int(math.Floor(p.X / size)), int(math.Floor(p.Y / size))}
	}
	for i := range g.Nodes {
		radii[i] = NodeRadius(g.Nodes[i].Importance, minR, maxR)
		k := key(g.Nodes[i].Pos)
		c.cells[k] = append(c.cells[k], i)
	}

	for i := range g.Nodes {
		pi := g.Nodes[i].Pos
		k := key(pi)
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				for _, j := range c.cells[cellKey{k.x + dx, k.y + dy}] {
					if j <= i {
						continue
					}
					d := r2.Sub(pi, g.Nodes[j].Pos)
					dist := r2.Norm(d)
					overlap := radii[i] + radii[j] + collisionPad - dist
					if overlap <= 0 {
						continue
					}
					var dir r2.Vec
					if dist < 1e-9 {
						dir = r2.Sub(Jitter(g.Nodes[i].ID, 1), Jitter(g.Nodes[j].ID, 1))
						if r2.Norm2(dir) < 1e-12 {
							dir = r2.Vec{X: 1}
						}
						dir = r2.Unit(dir)
					} else {
						dir = r2.Scale(1/dist, d)
					}
					push := r2.Scale(strength*overlap/2, dir)
					forces[i] = r2.Add(forces[i], push)
					forces[j] = r2.Sub(forces[j], push)
				}
			}
		}
	}
}
