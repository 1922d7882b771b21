// Package datasource loads history snapshots from disk. It detects the
// kind of source at a path, reads it into raw records, and hands them to
// the normalizer, so every source yields the same canonical snapshot.
package datasource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SourceType identifies the kind of data source.
type SourceType string

const (
	SourceTypeJSON   SourceType = "json"
	SourceTypeJSONL  SourceType = "jsonl"
	SourceTypeSQLite SourceType = "sqlite"
	SourceTypeGit    SourceType = "git"
)

// ErrUnknownSource is returned for paths no reader understands.
var ErrUnknownSource = errors.New("unrecognised source")

// DataSource describes a source on disk.
type DataSource struct {
	Type    SourceType `json:"type"`
	Path    string     `json:"path"`
	ModTime time.Time  `json:"mod_time"`
	Size    int64      `json:"size"`
}

// String returns a human-readable description of the source.
func (s DataSource) String() string {
	return fmt.Sprintf("%s (%s, mod=%s, %d bytes)", s.Path, s.Type, s.ModTime.Format(time.RFC3339), s.Size)
}

// Options tune how a source is read.
type Options struct {
	// MaxCommits caps the git history walked from the tip; 0 walks all.
	MaxCommits int
	// Ref is the branch, tag or hash to start from; empty uses HEAD.
	Ref string
	// Include and Exclude are doublestar globs over repository paths.
	// Empty Include keeps every path.
	Include []string
	Exclude []string
}

// Detect classifies the source at path. Directories are git repositories
// when they contain .git; files are classified by extension, falling back
// to sniffing the SQLite header.
func Detect(path string) (DataSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return DataSource{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return DataSource{}, fmt.Errorf("stat source: %w", err)
	}
	src := DataSource{Path: abs, ModTime: info.ModTime(), Size: info.Size()}

	if info.IsDir() {
		if _, err := os.Stat(filepath.Join(abs, ".git")); err != nil {
			return src, fmt.Errorf("%w: %s is a directory without .git", ErrUnknownSource, abs)
		}
		src.Type = SourceTypeGit
		return src, nil
	}

	switch strings.ToLower(filepath.Ext(abs)) {
	case ".json":
		src.Type = SourceTypeJSON
	case ".jsonl", ".ndjson":
		src.Type = SourceTypeJSONL
	case ".db", ".sqlite", ".sqlite3":
		src.Type = SourceTypeSQLite
	default:
		if isSQLiteFile(abs) {
			src.Type = SourceTypeSQLite
		} else {
			return src, fmt.Errorf("%w: %s", ErrUnknownSource, abs)
		}
	}
	return src, nil
}

const sqliteHeader = "SQLite format 3\x00"

func isSQLiteFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, len(sqliteHeader))
	if _, err := f.Read(buf); err != nil {
		return false
	}
	return string(buf) == sqliteHeader
}
