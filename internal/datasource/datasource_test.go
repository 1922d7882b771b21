package datasource

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/vanderheijden86/histviz/pkg/model"
	"github.com/vanderheijden86/histviz/pkg/testutil"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), "{}")
	writeFile(t, filepath.Join(dir, "b.JSONL"), "")
	writeFile(t, filepath.Join(dir, "c.db"), "")
	writeFile(t, filepath.Join(dir, "noext"), sqliteHeader+"rest")
	writeFile(t, filepath.Join(dir, "notes.txt"), "hello")
	if err := os.MkdirAll(filepath.Join(dir, "repo", ".git"), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := map[string]SourceType{
		"a.json":  SourceTypeJSON,
		"b.JSONL": SourceTypeJSONL,
		"c.db":    SourceTypeSQLite,
		"noext":   SourceTypeSQLite,
		"repo":    SourceTypeGit,
	}
	for name, want := range tests {
		src, err := Detect(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("Detect(%s): %v", name, err)
			continue
		}
		if src.Type != want {
			t.Errorf("Detect(%s) = %s, want %s", name, src.Type, want)
		}
	}

	for _, name := range []string{"notes.txt", "."} {
		if _, err := Detect(filepath.Join(dir, name)); !errors.Is(err, ErrUnknownSource) {
			t.Errorf("Detect(%s) error = %v, want ErrUnknownSource", name, err)
		}
	}
	if _, err := Detect(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("missing file detected")
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	writeFile(t, path, `{
		"nodes": [
			{"id": "c1", "type": "commit", "timestamp": "2024-06-01T00:00:00Z"},
			{"id": 7, "labels": ["File"], "properties": {"path": "src/main.go"}}
		],
		"links": [
			{"from": "c1", "to": 7},
			{"from": "c1", "to": "ghost"}
		]
	}`)
	snap, err := Load(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Nodes) != 2 || len(snap.Edges) != 1 {
		t.Fatalf("got %d nodes, %d edges", len(snap.Nodes), len(snap.Edges))
	}
	if e := snap.Edges[0]; e.Target != "7" || e.Kind != model.EdgeTouch {
		t.Errorf("edge = %+v", e)
	}
	testutil.AssertNoDanglingEdges(t, snap.Nodes, snap.Edges)
}

func TestLoadJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	writeFile(t, path, strings.Join([]string{
		`{"type":"node","id":"c1","kind":"commit"}`,
		`{"type":"node","id":"c2","kind":"commit"}`,
		`# comment`,
		``,
		`{"id":"f1","kind":"file","path":"pkg/f1.go"}`,
		`{"type":"edge","source":"c1","target":"c2","kind":"chain"}`,
		`{"source":"c2","target":"f1"}`,
		`{not json`,
	}, "\n"))

	snap, err := Load(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Nodes) != 3 || len(snap.Edges) != 2 {
		t.Fatalf("got %d nodes, %d edges; want 3, 2", len(snap.Nodes), len(snap.Edges))
	}
	if n := testutil.FindNode(t, snap.Nodes, "c1"); n.Kind != model.KindCommit {
		t.Errorf("tagged node kind = %v, want commit", n.Kind)
	}
	if n := testutil.FindNode(t, snap.Nodes, "f1"); n.FolderGroup != "pkg" {
		t.Errorf("folder group = %q", n.FolderGroup)
	}
}

func TestLoadSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		`CREATE TABLE nodes (id TEXT, kind TEXT, name TEXT, size INTEGER, committed_at TEXT)`,
		`CREATE TABLE edges (source TEXT, target TEXT, relation TEXT, weight REAL)`,
		`INSERT INTO nodes VALUES ('c1','commit','first',3,'2024-06-01T10:00:00Z')`,
		`INSERT INTO nodes VALUES ('a.go','file','a.go',120,NULL)`,
		`INSERT INTO edges VALUES ('c1','a.go','touch',2.5)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	db.Close()

	snap, err := Load(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Nodes) != 2 || len(snap.Edges) != 1 {
		t.Fatalf("got %d nodes, %d edges", len(snap.Nodes), len(snap.Edges))
	}
	c1 := testutil.FindNode(t, snap.Nodes, "c1")
	if !c1.HasTimestamp() || c1.Label != "first" || c1.Size != 3 {
		t.Errorf("c1 = %+v", c1)
	}
	if snap.Edges[0].Weight != 2.5 {
		t.Errorf("weight = %v", snap.Edges[0].Weight)
	}
}

func TestLoadSQLiteWithoutEdgesTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{`CREATE TABLE nodes (id TEXT)`, `INSERT INTO nodes VALUES ('x')`} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	db.Close()

	snap, err := Load(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Nodes) != 1 || len(snap.Edges) != 0 {
		t.Errorf("got %d nodes, %d edges", len(snap.Nodes), len(snap.Edges))
	}
}

// gitFixture builds a three-commit repository:
//
//	c1 "init":   main.go, pkg/util/util.go
//	c2 "docs":   pkg/util/util.go, docs/readme.md
//	c3 "tweak":  main.go
func gitFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	steps := []struct {
		msg   string
		files map[string]string
	}{
		{"init\n\nlonger body", map[string]string{"main.go": "package main", "pkg/util/util.go": "package util"}},
		{"docs", map[string]string{"pkg/util/util.go": "package util // v2", "docs/readme.md": "# hi"}},
		{"tweak", map[string]string{"main.go": "package main // v2"}},
	}
	for i, s := range steps {
		for name, content := range s.files {
			writeFile(t, filepath.Join(dir, name), content)
			if _, err := wt.Add(name); err != nil {
				t.Fatal(err)
			}
		}
		sig := &object.Signature{Name: "dev", Email: "dev@example.com", When: base.Add(time.Duration(i) * time.Hour)}
		if _, err := wt.Commit(s.msg, &git.CommitOptions{Author: sig, Committer: sig}); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func countKinds(snap model.Snapshot) (nodes map[model.NodeKind]int, edges map[model.EdgeKind]int) {
	nodes = make(map[model.NodeKind]int)
	edges = make(map[model.EdgeKind]int)
	for _, n := range snap.Nodes {
		nodes[n.Kind]++
	}
	for _, e := range snap.Edges {
		edges[e.Kind]++
	}
	return nodes, edges
}

func TestLoadGit(t *testing.T) {
	snap, err := Load(gitFixture(t), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := snap.Validate(); err != nil {
		t.Fatal(err)
	}
	nodes, edges := countKinds(snap)
	if nodes[model.KindCommit] != 3 || nodes[model.KindFile] != 3 || nodes[model.KindFolder] != 3 {
		t.Errorf("node kinds = %v", nodes)
	}
	if edges[model.EdgeChain] != 2 || edges[model.EdgeTouch] != 5 || edges["contains"] != 3 {
		t.Errorf("edge kinds = %v", edges)
	}

	var first model.Node
	for _, n := range snap.Nodes {
		if n.Kind == model.KindCommit && n.Label == "init" {
			first = n
		}
	}
	if !first.Timestamp.Equal(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("init commit = %+v", first)
	}
	if n := testutil.FindNode(t, snap.Nodes, "pkg/util/util.go"); n.FolderGroup != "pkg/util" || n.Label != "util.go" {
		t.Errorf("util.go = %+v", n)
	}
}

func TestLoadGitOptions(t *testing.T) {
	repo := gitFixture(t)

	snap, err := Load(repo, Options{MaxCommits: 2})
	if err != nil {
		t.Fatal(err)
	}
	nodes, edges := countKinds(snap)
	if nodes[model.KindCommit] != 2 || edges[model.EdgeChain] != 1 {
		t.Errorf("MaxCommits=2: nodes %v edges %v", nodes, edges)
	}

	snap, err = Load(repo, Options{Exclude: []string{"docs/**"}})
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range snap.Nodes {
		if strings.HasPrefix(n.ID, "docs") {
			t.Errorf("excluded path %s loaded", n.ID)
		}
	}

	snap, err = Load(repo, Options{Include: []string{"**/*.go"}})
	if err != nil {
		t.Fatal(err)
	}
	if nodes, _ := countKinds(snap); nodes[model.KindFile] != 2 {
		t.Errorf("Include *.go kept %d files", nodes[model.KindFile])
	}

	if _, err := Load(repo, Options{Include: []string{"[unclosed"}}); err == nil {
		t.Error("invalid pattern accepted")
	}
	if _, err := Load(repo, Options{Ref: "no-such-branch"}); err == nil {
		t.Error("unknown ref accepted")
	}
	if _, err := Load(repo, Options{Ref: "master"}); err != nil {
		t.Errorf("default branch: %v", err)
	}
}

func TestDiff(t *testing.T) {
	a := testutil.ThreeCommitsTwoFiles()
	b := testutil.Without(a, "f1")
	b.Nodes = append(b.Nodes, model.Node{ID: "f9"})

	d := Diff(a, b)
	if len(d.Added) != 1 || d.Added[0] != "f9" || len(d.Removed) != 1 || d.Removed[0] != "f1" {
		t.Errorf("diff = %+v", d)
	}
	if d.EdgesRemoved != 2 || d.EdgesAdded != 0 {
		t.Errorf("edge delta +%d -%d", d.EdgesAdded, d.EdgesRemoved)
	}
	if !strings.Contains(d.Summary(), "removed: f1") {
		t.Errorf("summary: %s", d.Summary())
	}
	if !Diff(a, a).Empty() {
		t.Error("self-diff not empty")
	}
}
