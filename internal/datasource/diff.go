package datasource

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vanderheijden86/histviz/pkg/model"
)

// SnapshotDiff summarizes what changed between two loads of a source.
type SnapshotDiff struct {
	Added        []string
	Removed      []string
	EdgesAdded   int
	EdgesRemoved int
	CountA       int
	CountB       int
}

// Empty reports whether the node and edge sets are identical.
func (d SnapshotDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && d.EdgesAdded == 0 && d.EdgesRemoved == 0
}

// Summary returns a one-paragraph description of the change.
func (d SnapshotDiff) Summary() string {
	if d.Empty() {
		return fmt.Sprintf("no changes (%d nodes)", d.CountB)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d -> %d nodes: +%d -%d; edges +%d -%d",
		d.CountA, d.CountB, len(d.Added), len(d.Removed), d.EdgesAdded, d.EdgesRemoved)
	if n := len(d.Added); n > 0 && n <= 5 {
		fmt.Fprintf(&sb, "\n  added: %s", strings.Join(d.Added, ", "))
	}
	if n := len(d.Removed); n > 0 && n <= 5 {
		fmt.Fprintf(&sb, "\n  removed: %s", strings.Join(d.Removed, ", "))
	}
	return sb.String()
}

// Diff compares two snapshots by node id and edge key.
func Diff(a, b model.Snapshot) SnapshotDiff {
	d := SnapshotDiff{CountA: len(a.Nodes), CountB: len(b.Nodes)}
	inA := make(map[string]bool, len(a.Nodes))
	for _, n := range a.Nodes {
		inA[n.ID] = true
	}
	inB := make(map[string]bool, len(b.Nodes))
	for _, n := range b.Nodes {
		inB[n.ID] = true
		if !inA[n.ID] {
			d.Added = append(d.Added, n.ID)
		}
	}
	for _, n := range a.Nodes {
		if !inB[n.ID] {
			d.Removed = append(d.Removed, n.ID)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)

	edgesA := make(map[string]bool, len(a.Edges))
	for _, e := range a.Edges {
		edgesA[e.Key()] = true
	}
	edgesB := make(map[string]bool, len(b.Edges))
	for _, e := range b.Edges {
		edgesB[e.Key()] = true
		if !edgesA[e.Key()] {
			d.EdgesAdded++
		}
	}
	for k := range edgesA {
		if !edgesB[k] {
			d.EdgesRemoved++
		}
	}
	return d
}
