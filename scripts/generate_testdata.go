//go:build ignore

// generate_testdata.go writes synthetic histories for benchmarking hv.
// Usage: go run scripts/generate_testdata.go [-dir testdata/benchmark]
//
// Creates small, medium, large and huge .jsonl histories, one tagged
// record per line, readable with hv -source.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/vanderheijden86/histviz/pkg/model"
	"github.com/vanderheijden86/histviz/pkg/testutil"
)

type datasetSpec struct {
	name    string
	commits int
	files   int
}

var datasets = []datasetSpec{
	{"small", 100, 150},
	{"medium", 1000, 1200},
	{"large", 5000, 4000},
	{"huge", 20000, 12000},
}

func main() {
	dir := flag.String("dir", "testdata/benchmark", "Output directory")
	flag.Parse()

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
		os.Exit(1)
	}
	for _, ds := range datasets {
		gen := testutil.New(testutil.GeneratorConfig{
			Seed:             uint64(ds.commits),
			Commits:          ds.commits,
			FilePool:         ds.files,
			TouchesPerCommit: 6,
			Folders:          max(4, ds.files/40),
			Step:             37 * time.Minute,
		})
		snap := gen.History()
		path := filepath.Join(*dir, ds.name+".jsonl")
		if err := writeJSONL(path, snap); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("%-7s %6d nodes %7d edges -> %s\n", ds.name, len(snap.Nodes), len(snap.Edges), path)
	}
}

func writeJSONL(path string, snap model.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, n := range snap.Nodes {
		rec := map[string]any{"type": "node", "id": n.ID, "kind": n.Kind.String(), "name": n.Label, "size": n.Size}
		if n.HasTimestamp() {
			rec["timestamp"] = n.Timestamp.Format(time.RFC3339)
		}
		if n.FolderGroup != "" {
			rec["folder"] = n.FolderGroup
		}
		if err := enc.Encode(rec); err != nil {
			f.Close()
			return err
		}
	}
	for _, e := range snap.Edges {
		rec := map[string]any{"type": "edge", "source": e.Source, "target": e.Target, "kind": string(e.Kind), "weight": e.Weight}
		if err := enc.Encode(rec); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
