package testutil

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/vanderheijden86/histviz/pkg/model"
)

// AssertFinitePositions verifies every node has a finite position.
func AssertFinitePositions(t testing.TB, nodes []model.Node) {
	t.Helper()
	for _, n := range nodes {
		if !model.Finite(n.Pos) {
			t.Errorf("node %s has non-finite position %v", n.ID, n.Pos)
		}
	}
}

// AssertNoDanglingEdges verifies every edge references a node in nodes.
func AssertNoDanglingEdges(t testing.TB, nodes []model.Node, edges []model.Edge) {
	t.Helper()
	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = true
	}
	for _, e := range edges {
		if !ids[e.Source] || !ids[e.Target] {
			t.Errorf("edge %s->%s references a missing node", e.Source, e.Target)
		}
	}
}

// AssertNoDuplicateIDs verifies all node ids are unique.
func AssertNoDuplicateIDs(t testing.TB, nodes []model.Node) {
	t.Helper()
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.ID] {
			t.Errorf("duplicate node id: %s", n.ID)
		}
		seen[n.ID] = true
	}
}

// AssertNear verifies got is within tol of want.
func AssertNear(t testing.TB, got, want r2.Vec, tol float64) {
	t.Helper()
	if d := r2.Norm(r2.Sub(got, want)); d > tol || math.IsNaN(d) {
		t.Errorf("position %v is %.4f away from %v (tolerance %.4f)", got, d, want, tol)
	}
}

// FindNode returns the node with id, failing the test when absent.
func FindNode(t testing.TB, nodes []model.Node, id string) model.Node {
	t.Helper()
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("node %s not found", id)
	return model.Node{}
}
