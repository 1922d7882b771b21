package datasource

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/vanderheijden86/histviz/pkg/debug"
	"github.com/vanderheijden86/histviz/pkg/model"
	"github.com/vanderheijden86/histviz/pkg/normalize"
)

// LoadGit turns the history of the repository at repoPath into records.
//
// Every commit becomes a commit node linked to each loaded parent by a
// chain edge (parent to child). Each path a commit changed becomes a file
// node with a touch edge from the commit; directories become folder nodes
// joined to their children by contains edges.
func LoadGit(repoPath string, opts Options) (normalize.RawSnapshot, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return normalize.RawSnapshot{}, fmt.Errorf("opening repository: %w", err)
	}
	tip, err := resolveTip(repo, opts.Ref)
	if err != nil {
		return normalize.RawSnapshot{}, err
	}
	for _, p := range append(append([]string(nil), opts.Include...), opts.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return normalize.RawSnapshot{}, fmt.Errorf("invalid path pattern %q", p)
		}
	}

	iter, err := repo.Log(&git.LogOptions{From: tip.Hash})
	if err != nil {
		return normalize.RawSnapshot{}, fmt.Errorf("walking history: %w", err)
	}
	defer iter.Close()

	b := newHistoryBuilder(opts)
	err = iter.ForEach(func(c *object.Commit) error {
		if opts.MaxCommits > 0 && len(b.commits) >= opts.MaxCommits {
			return storer.ErrStop
		}
		return b.addCommit(c)
	})
	if err != nil {
		return normalize.RawSnapshot{}, err
	}
	raw := b.build()
	debug.Log("datasource: git %s: %d commits, %d files", repoPath, len(b.commits), len(b.files))
	return raw, nil
}

// resolveTip resolves ref the way a user would type it: branch, then tag,
// then hash. Empty ref means HEAD.
func resolveTip(repo *git.Repository, ref string) (*object.Commit, error) {
	if ref == "" {
		head, err := repo.Head()
		if err != nil {
			return nil, fmt.Errorf("resolving HEAD: %w", err)
		}
		return repo.CommitObject(head.Hash())
	}
	for _, name := range []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(ref),
		plumbing.NewTagReferenceName(ref),
	} {
		r, err := repo.Reference(name, true)
		if err != nil {
			continue
		}
		if c, err := repo.CommitObject(r.Hash()); err == nil {
			return c, nil
		}
		// annotated tag
		if tag, err := repo.TagObject(r.Hash()); err == nil {
			return tag.Commit()
		}
	}
	c, err := repo.CommitObject(plumbing.NewHash(ref))
	if err != nil {
		return nil, fmt.Errorf("resolving ref %q: not a branch, tag, or commit hash", ref)
	}
	return c, nil
}

type gitCommit struct {
	id      string
	subject string
	when    time.Time
	author  string
	parents []string
	touched []string
}

type historyBuilder struct {
	opts    Options
	commits []gitCommit
	files   map[string]int // path -> touch count
}

func newHistoryBuilder(opts Options) *historyBuilder {
	return &historyBuilder{opts: opts, files: make(map[string]int)}
}

// keep applies Include and Exclude to a repository path.
func (b *historyBuilder) keep(p string) bool {
	if len(b.opts.Include) > 0 {
		matched := false
		for _, pat := range b.opts.Include {
			if ok, _ := doublestar.Match(pat, p); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, pat := range b.opts.Exclude {
		if ok, _ := doublestar.Match(pat, p); ok {
			return false
		}
	}
	return true
}

func (b *historyBuilder) addCommit(c *object.Commit) error {
	touched, err := changedPaths(c)
	if err != nil {
		return fmt.Errorf("diffing %s: %w", c.Hash.String()[:8], err)
	}
	gc := gitCommit{
		id:      c.Hash.String(),
		subject: firstLine(c.Message),
		when:    c.Committer.When,
		author:  c.Author.Name,
	}
	for _, h := range c.ParentHashes {
		gc.parents = append(gc.parents, h.String())
	}
	for _, p := range touched {
		if b.keep(p) {
			gc.touched = append(gc.touched, p)
			b.files[p]++
		}
	}
	b.commits = append(b.commits, gc)
	return nil
}

// changedPaths lists paths that differ from the first parent. A root
// commit touches every file in its tree.
func changedPaths(c *object.Commit) ([]string, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, err
	}
	var paths []string
	if c.NumParents() == 0 {
		err := tree.Files().ForEach(func(f *object.File) error {
			paths = append(paths, f.Name)
			return nil
		})
		return paths, err
	}
	parent, err := c.Parent(0)
	if err != nil {
		return nil, err
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return nil, err
	}
	changes, err := parentTree.Diff(tree)
	if err != nil {
		return nil, err
	}
	for _, ch := range changes {
		name := ch.To.Name
		if name == "" {
			name = ch.From.Name
		}
		paths = append(paths, name)
	}
	sort.Strings(paths)
	return paths, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// build emits records. Folder ids carry a trailing slash so a folder can
// never collide with a file of the same name.
func (b *historyBuilder) build() normalize.RawSnapshot {
	var raw normalize.RawSnapshot
	loaded := make(map[string]bool, len(b.commits))
	for _, c := range b.commits {
		loaded[c.id] = true
	}

	for _, c := range b.commits {
		raw.Nodes = append(raw.Nodes, normalize.Record{
			"id":        c.id,
			"kind":      model.KindCommit.String(),
			"name":      c.subject,
			"author":    c.author,
			"timestamp": c.when.UTC().Format(time.RFC3339),
			"size":      float64(len(c.touched)),
		})
		for _, p := range c.parents {
			if loaded[p] {
				raw.Edges = append(raw.Edges, normalize.Record{"source": p, "target": c.id, "kind": string(model.EdgeChain)})
			}
		}
		for _, f := range c.touched {
			raw.Edges = append(raw.Edges, normalize.Record{"source": c.id, "target": f, "kind": string(model.EdgeTouch)})
		}
	}

	files := make([]string, 0, len(b.files))
	for f := range b.files {
		files = append(files, f)
	}
	sort.Strings(files)
	folders := make(map[string]bool)
	for _, f := range files {
		dir := path.Dir(f)
		raw.Nodes = append(raw.Nodes, normalize.Record{
			"id":     f,
			"kind":   model.KindFile.String(),
			"name":   path.Base(f),
			"folder": folderOf(dir),
			"size":   float64(b.files[f]),
		})
		child := f
		for dir != "." && dir != "/" {
			raw.Edges = append(raw.Edges, normalize.Record{"source": dir + "/", "target": child, "kind": "contains"})
			if folders[dir] {
				break
			}
			folders[dir] = true
			raw.Nodes = append(raw.Nodes, normalize.Record{
				"id":     dir + "/",
				"kind":   model.KindFolder.String(),
				"name":   dir,
				"folder": folderOf(path.Dir(dir)),
			})
			child, dir = dir+"/", path.Dir(dir)
		}
	}
	return raw
}

func folderOf(dir string) string {
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}
