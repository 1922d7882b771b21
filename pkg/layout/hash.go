package layout

import (
	"encoding/binary"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"lukechampine.com/blake3"
)

// HashUnit maps (id, salt) to a stable value in [0, 1).
func HashUnit(id string, salt byte) float64 {
	buf := make([]byte, 0, len(id)+1)
	buf = append(buf, salt)
	buf = append(buf, id...)
	sum := blake3.Sum256(buf)
	return float64(binary.LittleEndian.Uint64(sum[:8])>>11) / (1 << 53)
}

// Jitter returns a stable offset of length at most radius for id. Nodes in
// the same region get different offsets, and the same id always gets the
// same one.
func Jitter(id string, radius float64) r2.Vec {
	angle := 2 * math.Pi * HashUnit(id, 'a')
	dist := radius * math.Sqrt(HashUnit(id, 'r'))
	return r2.Vec{X: dist * math.Cos(angle), Y: dist * math.Sin(angle)}
}

// phyllotaxis returns the i-th point of a sunflower arrangement, the seed
// placement used when nothing is positioned yet.
func phyllotaxis(i int, spacing float64) r2.Vec {
	const golden = math.Pi * (3 - 2.23606797749979) // pi * (3 - sqrt 5)
	r := spacing * math.Sqrt(0.5+float64(i))
	a := float64(i) * golden
	return r2.Vec{X: r * math.Cos(a), Y: r * math.Sin(a)}
}

// NodeRadius maps importance onto a sprite radius clamped to [min, max].
// Collision and rendering share it so bodies match what is drawn.
func NodeRadius(importance, min, max float64) float64 {
	if importance <= 0 || math.IsNaN(importance) {
		return min
	}
	r := min + 2.2*math.Sqrt(importance)
	if math.IsInf(r, 1) || r > max {
		return max
	}
	if r < min {
		return min
	}
	return r
}
