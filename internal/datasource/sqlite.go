package datasource

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vanderheijden86/histviz/pkg/debug"
	"github.com/vanderheijden86/histviz/pkg/normalize"
)

// SQLiteReader reads a snapshot stored as two tables, nodes and edges.
// Columns are read by name and passed to the normalizer as-is, so any
// column naming it understands works.
type SQLiteReader struct {
	db   *sql.DB
	path string
}

// NewSQLiteReader opens a SQLite database for reading.
func NewSQLiteReader(source DataSource) (*SQLiteReader, error) {
	if source.Type != SourceTypeSQLite {
		return nil, fmt.Errorf("source is not SQLite: %s", source.Type)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", source.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
	} {
		if _, err := db.Exec(pragma); err != nil {
			debug.Log("datasource: %s: %v", pragma, err)
		}
	}
	return &SQLiteReader{db: db, path: source.Path}, nil
}

// Close closes the database connection.
func (r *SQLiteReader) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Load reads every row of nodes and edges. A missing edges table yields a
// node-only snapshot; a missing nodes table is an error.
func (r *SQLiteReader) Load() (normalize.RawSnapshot, error) {
	var raw normalize.RawSnapshot
	nodes, err := r.table("nodes")
	if err != nil {
		return raw, fmt.Errorf("reading nodes from %s: %w", r.path, err)
	}
	raw.Nodes = nodes

	ok, err := r.hasTable("edges")
	if err != nil {
		return raw, err
	}
	if ok {
		if raw.Edges, err = r.table("edges"); err != nil {
			return raw, fmt.Errorf("reading edges from %s: %w", r.path, err)
		}
	}
	return raw, nil
}

func (r *SQLiteReader) hasTable(name string) (bool, error) {
	var n int
	err := r.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspecting schema: %w", err)
	}
	return n > 0, nil
}

// table reads every row of name into records keyed by column name. The
// name is one of two constants, never user input.
func (r *SQLiteReader) table(name string) ([]normalize.Record, error) {
	rows, err := r.db.Query("SELECT * FROM " + name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []normalize.Record
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(normalize.Record, len(cols))
		for i, c := range cols {
			if v := sqlValue(vals[i]); v != nil {
				rec[c] = v
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", name, err)
	}
	return out, nil
}

// sqlValue converts driver values to the scalar types the normalizer reads.
func sqlValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int64:
		return float64(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return x
	}
}
