// Package flatfile persists a vector index as a single CBOR snapshot file.
package flatfile

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/fxamacker/cbor/v2"

	"mentor/internal/apperr"
	"mentor/internal/vectorstore"
	"mentor/internal/vectorstore/memory"
)

const formatVersion = 1

// magic prefixes every snapshot so that foreign files are never decoded.
var magic = []byte("MENTORIDX\n")

var (
	_ vectorstore.Backend = Backend{}
	_ vectorstore.Index   = (*Index)(nil)
)

type snapshot struct {
	Version   int                    `cbor:"version"`
	Model     string                 `cbor:"model"`
	Dimension int                    `cbor:"dimension"`
	Documents []vectorstore.Document `cbor:"documents"`
	Vectors   [][]float32            `cbor:"vectors"`
}

// Backend creates and loads flat snapshot indexes.
type Backend struct{}

func (Backend) Name() string { return "flatfile" }

// Exists reports whether location holds a snapshot. Snapshots only ever
// appear at location through an atomic rename, so presence implies the
// write completed.
func (Backend) Exists(location string) (bool, error) {
	f, err := os.Open(location)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return false, nil
		}
		return false, apperr.Wrap(err, apperr.CodeIndexLoadCorrupt, "opening index", apperr.FieldPath(location))
	}
	defer f.Close()

	head := make([]byte, len(magic))
	if _, err := io.ReadFull(f, head); err != nil || !bytes.Equal(head, magic) {
		return false, apperr.New(apperr.CodeIndexLoadCorrupt, "file is not a flatfile index", apperr.FieldPath(location))
	}
	return true, nil
}

func (Backend) Load(ctx context.Context, location string, want vectorstore.Compat) (vectorstore.Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeIndexLoadCorrupt, "reading index", apperr.FieldPath(location))
	}
	if !bytes.HasPrefix(data, magic) {
		return nil, apperr.New(apperr.CodeIndexLoadCorrupt, "file is not a flatfile index", apperr.FieldPath(location))
	}
	var snap snapshot
	if err := cbor.Unmarshal(data[len(magic):], &snap); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeIndexLoadCorrupt, "decoding index", apperr.FieldPath(location))
	}
	if snap.Version != formatVersion {
		return nil, apperr.New(apperr.CodeIndexLoadCorrupt,
			fmt.Sprintf("unsupported index format version %d", snap.Version), apperr.FieldPath(location))
	}
	if err := checkCompat(snap.Dimension, snap.Model, want); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeIndexLoadCorrupt, "incompatible index", apperr.FieldPath(location))
	}

	core := memory.NewStorage(snap.Dimension)
	if err := core.Add(snap.Documents, snap.Vectors); err != nil {
		return nil, apperr.Recode(err, apperr.CodeIndexLoadCorrupt, "rebuilding index", apperr.FieldPath(location))
	}
	return &Index{Storage: core, location: location, model: snap.Model}, nil
}

func (Backend) Create(location string, model string) vectorstore.Index {
	return &Index{Storage: memory.NewStorage(0), location: location, model: model}
}

func (Backend) Remove(location string) error {
	if err := os.Remove(location); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Index is an in-memory index that persists to a snapshot file.
type Index struct {
	*memory.Storage
	location string
	model    string
}

func (x *Index) Model() string { return x.model }

// Persist writes the snapshot to a temp file in the target directory and
// renames it over the location.
func (x *Index) Persist(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	docs, vecs := x.Entries()
	snap := snapshot{
		Version:   formatVersion,
		Model:     x.model,
		Dimension: x.Dimension(),
		Documents: docs,
		Vectors:   vecs,
	}
	if err := writeAtomic(x.location, func(w io.Writer) error {
		if _, err := w.Write(magic); err != nil {
			return err
		}
		return cbor.NewEncoder(w).Encode(snap)
	}); err != nil {
		return apperr.Wrap(err, apperr.CodeIndexPersistFailure, "persisting index", apperr.FieldPath(x.location))
	}
	return nil
}

func writeAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = write(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems do not support fsync on directories.
	_ = d.Sync()
	return nil
}

func checkCompat(dimension int, model string, want vectorstore.Compat) error {
	if want.Dimension > 0 && dimension != want.Dimension {
		return fmt.Errorf("embedding dimension mismatch: index has %d, embedder produces %d", dimension, want.Dimension)
	}
	if want.Model != "" && model != "" && model != want.Model {
		return fmt.Errorf("embedding model mismatch: index built with %q, embedder is %q", model, want.Model)
	}
	return nil
}
