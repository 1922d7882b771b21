// Package normalize converts loosely-typed node/edge records into the
// canonical model.Snapshot.
//
// Records arriving from graph stores differ in field naming (from/to versus
// source/target, labels arrays versus a type string, numeric versus string
// ids). Normalize resolves all of that once, so every later stage switches on
// model.NodeKind and trusts that edges reference real nodes. Records that
// cannot be resolved are dropped; partial graphs are expected input.
package normalize

import (
	"io"
	"math"
	"path"
	"strings"

	"github.com/goccy/go-json"

	"github.com/vanderheijden86/histviz/pkg/debug"
	"github.com/vanderheijden86/histviz/pkg/metrics"
	"github.com/vanderheijden86/histviz/pkg/model"
)

// Record is one raw node or edge object.
type Record map[string]any

// RawSnapshot is the undecoded form of a snapshot.
type RawSnapshot struct {
	Nodes []Record
	Edges []Record
}

// edgeListKeys are the top-level names accepted for the edge array.
var edgeListKeys = []string{"edges", "links", "relationships", "rels"}

// Decode reads a JSON document of the form {"nodes": [...], "edges": [...]}.
func Decode(r io.Reader) (RawSnapshot, error) {
	defer metrics.Timer(metrics.Decode)()

	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return RawSnapshot{}, err
	}
	raw := RawSnapshot{Nodes: records(doc["nodes"])}
	for _, k := range edgeListKeys {
		if v, ok := doc[k]; ok {
			raw.Edges = append(raw.Edges, records(v)...)
		}
	}
	return raw, nil
}

// FromJSON decodes and normalizes in one step.
func FromJSON(r io.Reader) (model.Snapshot, error) {
	raw, err := Decode(r)
	if err != nil {
		return model.Snapshot{}, err
	}
	return Normalize(raw), nil
}

func records(v any) []Record {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Record(m))
		}
	}
	return out
}

// Normalize resolves raw records into a snapshot. It has no side effects.
func Normalize(raw RawSnapshot) model.Snapshot {
	defer metrics.Timer(metrics.Normalize)()

	snap := model.Snapshot{Nodes: make([]model.Node, 0, len(raw.Nodes))}
	index := make(map[string]int, len(raw.Nodes))
	var droppedNodes, droppedEdges int

	for _, rec := range raw.Nodes {
		n, ok := node(rec)
		if !ok {
			droppedNodes++
			continue
		}
		if _, dup := index[n.ID]; dup {
			droppedNodes++
			continue
		}
		index[n.ID] = len(snap.Nodes)
		snap.Nodes = append(snap.Nodes, n)
	}

	degree := make([]int, len(snap.Nodes))
	seen := make(map[string]struct{}, len(raw.Edges))
	snap.Edges = make([]model.Edge, 0, len(raw.Edges))
	for _, rec := range raw.Edges {
		src := endpoint(rec, sourceKeys)
		tgt := endpoint(rec, targetKeys)
		si, okS := index[src]
		ti, okT := index[tgt]
		if !okS || !okT || src == tgt {
			droppedEdges++
			continue
		}
		e := model.Edge{
			Source: src,
			Target: tgt,
			Kind:   edgeKind(rec, snap.Nodes[si].Kind, snap.Nodes[ti].Kind),
			Weight: weight(rec),
		}
		if _, dup := seen[e.Key()]; dup {
			continue
		}
		seen[e.Key()] = struct{}{}
		degree[si]++
		degree[ti]++
		snap.Edges = append(snap.Edges, e)
	}

	for i := range snap.Nodes {
		snap.Nodes[i].Importance = Importance(snap.Nodes[i].Kind, snap.Nodes[i].Size, degree[i])
	}

	debug.LogIf(droppedNodes+droppedEdges > 0,
		"normalize: kept %d nodes, %d edges; dropped %d nodes, %d edges",
		len(snap.Nodes), len(snap.Edges), droppedNodes, droppedEdges)
	return snap
}

// Importance is the degree-weighted size score used for LoD ranking and
// sprite radius.
func Importance(kind model.NodeKind, size float64, degree int) float64 {
	if size < 0 || math.IsNaN(size) || math.IsInf(size, 0) {
		size = 0
	}
	score := (1 + math.Log1p(size)) * (1 + math.Log1p(float64(degree)))
	if kind == model.KindCommit {
		score *= 1.25
	}
	return score
}

func node(rec Record) (model.Node, bool) {
	id := lookupString(rec, idKeys...)
	if id == "" {
		return model.Node{}, false
	}
	n := model.Node{
		ID:        id,
		Kind:      nodeKind(rec),
		Community: -1,
	}
	n.Label = label(rec, id)
	if v, ok := lookup(rec, timeKeys...); ok {
		n.Timestamp = toTime(v)
	}
	if v, ok := lookup(rec, sizeKeys...); ok {
		if f, ok := toFloat(v); ok && f > 0 {
			n.Size = f
		}
	}
	n.FolderGroup = folderGroup(rec, id, n.Kind)
	return n, true
}

func nodeKind(rec Record) model.NodeKind {
	if v, ok := lookup(rec, kindKeys...); ok {
		if k, ok := kindAlias(toString(v)); ok {
			return k
		}
	}
	if v, ok := lookup(rec, "labels"); ok {
		for _, l := range stringList(v) {
			if k, ok := kindAlias(l); ok {
				return k
			}
		}
	}
	if v, ok := lookup(rec, "label"); ok {
		if k, ok := kindAlias(toString(v)); ok {
			return k
		}
	}
	return model.KindOther
}

func kindAlias(s string) (model.NodeKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "commit", "changeset", "revision":
		return model.KindCommit, true
	case "file", "blob", "document":
		return model.KindFile, true
	case "folder", "directory", "dir", "tree", "package":
		return model.KindFolder, true
	}
	return model.KindOther, false
}

func label(rec Record, id string) string {
	for _, k := range labelKeys {
		v, ok := lookup(rec, k)
		if !ok {
			continue
		}
		s := toString(v)
		if k == "label" {
			if _, isKind := kindAlias(s); isKind {
				continue
			}
		}
		if k == "message" {
			s, _, _ = strings.Cut(s, "\n")
			s = strings.TrimSpace(s)
		}
		if s != "" {
			return s
		}
	}
	return id
}

func folderGroup(rec Record, id string, kind model.NodeKind) string {
	if s := lookupString(rec, folderKeys...); s != "" {
		return s
	}
	if kind != model.KindFile && kind != model.KindFolder {
		return ""
	}
	p := lookupString(rec, "path")
	if p == "" {
		p = id
	}
	if !strings.Contains(p, "/") {
		return ""
	}
	dir := path.Dir(strings.TrimSuffix(p, "/"))
	if dir == "." {
		return ""
	}
	return dir
}

// IsEdge reports whether rec names both a source and a target, the test
// line-oriented sources use for untagged records.
func (r Record) IsEdge() bool {
	return endpoint(r, sourceKeys) != "" && endpoint(r, targetKeys) != ""
}

func endpoint(rec Record, keys []string) string {
	v, ok := lookup(rec, keys...)
	if !ok {
		return ""
	}
	return toString(v)
}

func edgeKind(rec Record, src, tgt model.NodeKind) model.EdgeKind {
	raw := strings.ToLower(lookupString(rec, edgeKindKeys...))
	switch raw {
	case "touch", "touches", "modifies", "modified", "changes", "changed":
		return model.EdgeTouch
	case "chain", "parent", "next", "follows", "precedes", "child_of":
		return model.EdgeChain
	case "":
		switch {
		case src == model.KindCommit && tgt == model.KindCommit:
			return model.EdgeChain
		case src == model.KindCommit && (tgt == model.KindFile || tgt == model.KindFolder),
			tgt == model.KindCommit && (src == model.KindFile || src == model.KindFolder):
			return model.EdgeTouch
		default:
			return model.EdgeRelated
		}
	}
	return model.EdgeKind(raw)
}

func weight(rec Record) float64 {
	v, ok := lookup(rec, weightKeys...)
	if !ok {
		return 1
	}
	f, ok := toFloat(v)
	if !ok || f <= 0 {
		return 1
	}
	return f
}
