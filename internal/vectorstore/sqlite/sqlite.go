// Package sqlite persists a vector index in a single SQLite database file.
//
// The database is written once into a temp file next to the target and
// renamed into place, so the file at the index location is always a
// complete index. Loaded indexes are searched in memory.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	_ "modernc.org/sqlite" // SQLite driver

	"mentor/internal/apperr"
	"mentor/internal/vectorstore"
	"mentor/internal/vectorstore/memory"
)

const formatVersion = 1

var header = []byte("SQLite format 3\x00")

var (
	_ vectorstore.Backend = Backend{}
	_ vectorstore.Index   = (*Index)(nil)
)

const schema = `
CREATE TABLE meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE documents (
	seq         INTEGER PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	text        TEXT NOT NULL,
	source_file TEXT NOT NULL,
	row_index   INTEGER NOT NULL,
	columns     TEXT NOT NULL,
	embedding   BLOB NOT NULL
);`

// Backend creates and loads SQLite indexes.
type Backend struct{}

func (Backend) Name() string { return "sqlite" }

// Exists reports whether location holds a finished index.
func (Backend) Exists(location string) (bool, error) {
	f, err := os.Open(location)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return false, nil
		}
		return false, apperr.Wrap(err, apperr.CodeIndexLoadCorrupt, "opening index", apperr.FieldPath(location))
	}
	head := make([]byte, len(header))
	_, err = io.ReadFull(f, head)
	_ = f.Close()
	if err != nil || !bytes.Equal(head, header) {
		return false, apperr.New(apperr.CodeIndexLoadCorrupt, "file is not a SQLite database", apperr.FieldPath(location))
	}

	db, err := open(location)
	if err != nil {
		return false, apperr.Wrap(err, apperr.CodeIndexLoadCorrupt, "opening index", apperr.FieldPath(location))
	}
	defer db.Close()

	var status string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key = 'status'`).Scan(&status); err != nil {
		return false, apperr.Wrap(err, apperr.CodeIndexLoadCorrupt, "reading index status", apperr.FieldPath(location))
	}
	if status != "ready" {
		return false, apperr.New(apperr.CodeIndexLoadCorrupt,
			fmt.Sprintf("index status is %q", status), apperr.FieldPath(location))
	}
	return true, nil
}

func (Backend) Load(ctx context.Context, location string, want vectorstore.Compat) (vectorstore.Index, error) {
	idx, err := load(ctx, location, want)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Recode(err, apperr.CodeIndexLoadCorrupt, "loading index", apperr.FieldPath(location))
	}
	return idx, nil
}

func (Backend) Create(location string, model string) vectorstore.Index {
	return &Index{Storage: memory.NewStorage(0), location: location, model: model}
}

// Remove deletes the database and any journal files left beside it.
func (Backend) Remove(location string) error {
	for _, p := range []string{location, location + "-journal", location + "-wal", location + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Index is an in-memory index that persists to a SQLite database.
type Index struct {
	*memory.Storage
	location string
	model    string
}

func (x *Index) Model() string { return x.model }

// Persist writes every document to a fresh database and renames it over the
// location.
func (x *Index) Persist(ctx context.Context) error {
	if err := x.persist(ctx); err != nil {
		return apperr.Wrap(err, apperr.CodeIndexPersistFailure, "persisting index", apperr.FieldPath(x.location))
	}
	return nil
}

func (x *Index) persist(ctx context.Context) (err error) {
	dir := filepath.Dir(x.location)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(x.location)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = Backend{}.Remove(tmpPath)
		}
	}()

	// The rollback journal is deleted on commit, leaving a single file to rename.
	db, err := sql.Open("sqlite", tmpPath+"?_pragma=journal_mode(DELETE)&_pragma=synchronous(FULL)")
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	if err := x.write(ctx, db); err != nil {
		_ = db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	if err := os.Rename(tmpPath, x.location); err != nil {
		return err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func (x *Index) write(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (seq, id, text, source_file, row_index, columns, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	docs, vecs := x.Entries()
	for i, d := range docs {
		cols, err := json.Marshal(d.Metadata.Columns)
		if err != nil {
			return fmt.Errorf("encoding columns of %s: %w", d.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, i, d.ID, d.Text, d.Metadata.SourceFile, d.Metadata.RowIndex,
			string(cols), float32SliceToBytes(vecs[i])); err != nil {
			return fmt.Errorf("inserting document %s: %w", d.ID, err)
		}
	}

	meta := [][2]string{
		{"format_version", strconv.Itoa(formatVersion)},
		{"dimension", strconv.Itoa(x.Dimension())},
		{"model", x.model},
		{"count", strconv.Itoa(len(docs))},
		{"status", "ready"},
	}
	for _, kv := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			return fmt.Errorf("writing meta %s: %w", kv[0], err)
		}
	}
	return tx.Commit()
}

func load(ctx context.Context, location string, want vectorstore.Compat) (*Index, error) {
	if _, err := os.Stat(location); err != nil {
		return nil, err
	}
	db, err := open(location)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	meta, err := readMeta(ctx, db)
	if err != nil {
		return nil, err
	}
	if meta["status"] != "ready" {
		return nil, fmt.Errorf("index status is %q", meta["status"])
	}
	if v := meta["format_version"]; v != strconv.Itoa(formatVersion) {
		return nil, fmt.Errorf("unsupported index format version %q", v)
	}
	dimension, err := strconv.Atoi(meta["dimension"])
	if err != nil {
		return nil, fmt.Errorf("invalid dimension %q", meta["dimension"])
	}
	count, err := strconv.Atoi(meta["count"])
	if err != nil {
		return nil, fmt.Errorf("invalid count %q", meta["count"])
	}
	model := meta["model"]
	if want.Dimension > 0 && dimension != want.Dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: index has %d, embedder produces %d", dimension, want.Dimension)
	}
	if want.Model != "" && model != "" && model != want.Model {
		return nil, fmt.Errorf("embedding model mismatch: index built with %q, embedder is %q", model, want.Model)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, text, source_file, row_index, columns, embedding
		FROM documents ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]vectorstore.Document, 0, count)
	vecs := make([][]float32, 0, count)
	for rows.Next() {
		var (
			d    vectorstore.Document
			cols string
			blob []byte
		)
		if err := rows.Scan(&d.ID, &d.Text, &d.Metadata.SourceFile, &d.Metadata.RowIndex, &cols, &blob); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cols), &d.Metadata.Columns); err != nil {
			return nil, fmt.Errorf("decoding columns of %s: %w", d.ID, err)
		}
		if len(blob) != dimension*4 {
			return nil, fmt.Errorf("embedding of %s has %d bytes, want %d", d.ID, len(blob), dimension*4)
		}
		docs = append(docs, d)
		vecs = append(vecs, bytesToFloat32Slice(blob))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(docs) != count {
		return nil, fmt.Errorf("index has %d documents, meta records %d", len(docs), count)
	}

	core := memory.NewStorage(dimension)
	if err := core.Add(docs, vecs); err != nil {
		return nil, err
	}
	return &Index{Storage: core, location: location, model: model}, nil
}

func open(location string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", location+"?_pragma=busy_timeout(5000)&_pragma=query_only(true)")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func readMeta(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
