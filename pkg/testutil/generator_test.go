package testutil

import (
	"reflect"
	"testing"

	"github.com/vanderheijden86/histviz/pkg/model"
)

func TestHistoryIsValidAndDeterministic(t *testing.T) {
	a := NewDefault().History()
	b := NewDefault().History()

	if err := a.Validate(); err != nil {
		t.Fatalf("History produced invalid snapshot: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("same seed produced different histories")
	}

	var commits, chains int
	for _, n := range a.Nodes {
		if n.Kind == model.KindCommit {
			commits++
		}
		if n.Importance <= 0 {
			t.Errorf("node %s has no importance", n.ID)
		}
	}
	for _, e := range a.Edges {
		if e.Kind == model.EdgeChain {
			chains++
		}
	}
	if commits != 40 || chains != 39 {
		t.Errorf("expected 40 commits and 39 chain edges, got %d/%d", commits, chains)
	}
}

func TestRandomHasNoSelfLoops(t *testing.T) {
	snap := NewDefault().Random(30, 200)
	if len(snap.Nodes) != 30 || len(snap.Edges) != 200 {
		t.Fatalf("unexpected sizes %d/%d", len(snap.Nodes), len(snap.Edges))
	}
	for _, e := range snap.Edges {
		if e.Source == e.Target {
			t.Errorf("self-loop on %s", e.Source)
		}
	}
	AssertNoDanglingEdges(t, snap.Nodes, snap.Edges)
}

func TestTreeIsConnected(t *testing.T) {
	snap := NewDefault().Tree(50)
	if len(snap.Edges) != 49 {
		t.Fatalf("tree of 50 should have 49 edges, got %d", len(snap.Edges))
	}
	if err := snap.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestTwoCliques(t *testing.T) {
	snap := TwoCliques(5)
	if len(snap.Nodes) != 10 {
		t.Fatalf("expected 10 nodes, got %d", len(snap.Nodes))
	}
	// two K5 (10 edges each) plus the bridge
	if len(snap.Edges) != 21 {
		t.Errorf("expected 21 edges, got %d", len(snap.Edges))
	}
}

func TestWithout(t *testing.T) {
	snap := ThreeCommitsTwoFiles()
	out := Without(snap, "f1")
	for _, n := range out.Nodes {
		if n.ID == "f1" {
			t.Fatal("f1 still present")
		}
	}
	for _, e := range out.Edges {
		if e.Source == "f1" || e.Target == "f1" {
			t.Fatalf("edge %+v still references f1", e)
		}
	}
	if len(snap.Nodes) != 5 {
		t.Error("Without modified its input")
	}
}
