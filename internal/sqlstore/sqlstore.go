// Package sqlstore is a database/sql journal for the in-memory document
// store. Documents are kept as msgpack blobs keyed by path.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"github.com/BioHazard786/findit/internal/store"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Journal implements store.Journal.
type Journal struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and creates the documents table.
func Open(ctx context.Context, driver, dsn string) (*Journal, error) {
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	j := &Journal{db: db, driver: driver}
	if err := j.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) init(ctx context.Context) error {
	if j.driver == DriverSQLite {
		// A single connection keeps writes serialized.
		j.db.SetMaxOpenConns(1)
		if _, err := j.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			log.Warn().Err(err).Msg("couldn't enable WAL mode")
		}
		if _, err := j.db.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil {
			log.Warn().Err(err).Msg("couldn't set busy timeout")
		}
	}

	blob := "BLOB"
	if j.driver == DriverPostgres {
		blob = "BYTEA"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			path TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			seq BIGINT NOT NULL,
			fields ` + blob + ` NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS documents_collection_seq ON documents (collection, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Put upserts a document record.
func (j *Journal) Put(ctx context.Context, rec store.Record) error {
	blob, err := msgpack.Marshal(map[string]any(rec.Fields))
	if err != nil {
		return fmt.Errorf("encode %s: %w", rec.Path, err)
	}

	query := j.rebind(`INSERT INTO documents (path, collection, seq, fields, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET fields = excluded.fields, updated_at = excluded.updated_at`)
	_, err = j.db.ExecContext(ctx, query, rec.Path, rec.Collection, rec.Seq, blob, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Path, err)
	}
	return nil
}

// Load returns every record ordered by insertion sequence.
func (j *Journal) Load(ctx context.Context) ([]store.Record, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT path, collection, seq, fields FROM documents ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var (
			rec  store.Record
			blob []byte
		)
		if err := rows.Scan(&rec.Path, &rec.Collection, &rec.Seq, &blob); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		var fields map[string]any
		if err := msgpack.Unmarshal(blob, &fields); err != nil {
			return nil, fmt.Errorf("decode %s: %w", rec.Path, err)
		}
		rec.Fields = normalize(fields)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// rebind rewrites ? placeholders for drivers that use $n.
func (j *Journal) rebind(query string) string {
	if j.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// normalize turns decoded nested maps back into store.Fields.
func normalize(m map[string]any) store.Fields {
	out := make(store.Fields, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalize(t)
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	}
	return v
}
