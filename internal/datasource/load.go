package datasource

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/vanderheijden86/histviz/pkg/debug"
	"github.com/vanderheijden86/histviz/pkg/metrics"
	"github.com/vanderheijden86/histviz/pkg/model"
	"github.com/vanderheijden86/histviz/pkg/normalize"
)

// Load detects the source at path and returns its normalized snapshot.
func Load(path string, opts Options) (model.Snapshot, error) {
	src, err := Detect(path)
	if err != nil {
		return model.Snapshot{}, err
	}
	raw, err := LoadRaw(src, opts)
	if err != nil {
		return model.Snapshot{}, err
	}
	return normalize.Normalize(raw), nil
}

// LoadRaw reads src into raw records, dispatching on its type.
func LoadRaw(src DataSource, opts Options) (normalize.RawSnapshot, error) {
	defer metrics.Timer(metrics.SourceLoad)()
	defer debug.LogEnterExit("datasource.Load " + string(src.Type))()

	switch src.Type {
	case SourceTypeJSON:
		f, err := os.Open(src.Path)
		if err != nil {
			return normalize.RawSnapshot{}, err
		}
		defer f.Close()
		raw, err := normalize.Decode(f)
		if err != nil {
			return raw, fmt.Errorf("decoding %s: %w", src.Path, err)
		}
		return raw, nil

	case SourceTypeJSONL:
		return loadJSONL(src.Path)

	case SourceTypeSQLite:
		r, err := NewSQLiteReader(src)
		if err != nil {
			return normalize.RawSnapshot{}, fmt.Errorf("failed to open SQLite source %s: %w", src.Path, err)
		}
		defer r.Close()
		return r.Load()

	case SourceTypeGit:
		return LoadGit(src.Path, opts)

	default:
		return normalize.RawSnapshot{}, fmt.Errorf("%w: type %q", ErrUnknownSource, src.Type)
	}
}

// maxLineSize bounds one JSONL record.
const maxLineSize = 16 * 1024 * 1024

// loadJSONL reads one record per line. A "type" of "node" or "edge" tags the
// record explicitly and is stripped so it is not read as a node kind;
// untagged records are edges when they name both endpoints. Malformed lines
// are skipped.
func loadJSONL(path string) (normalize.RawSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return normalize.RawSnapshot{}, err
	}
	defer f.Close()

	var raw normalize.RawSnapshot
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line, bad := 0, 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 || text[0] == '#' {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(text))
		dec.UseNumber()
		var rec normalize.Record
		if err := dec.Decode(&rec); err != nil {
			bad++
			debug.Log("datasource: %s:%d: %v", path, line, err)
			continue
		}

		tag, _ := rec["type"].(string)
		switch strings.ToLower(tag) {
		case "node":
			delete(rec, "type")
			raw.Nodes = append(raw.Nodes, rec)
		case "edge", "link", "relationship":
			delete(rec, "type")
			raw.Edges = append(raw.Edges, rec)
		default:
			if rec.IsEdge() {
				raw.Edges = append(raw.Edges, rec)
			} else {
				raw.Nodes = append(raw.Nodes, rec)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return raw, fmt.Errorf("reading %s: %w", path, err)
	}
	debug.LogIf(bad > 0, "datasource: skipped %d malformed lines in %s", bad, path)
	return raw, nil
}
