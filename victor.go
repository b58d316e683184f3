// Package victor is an embedded vector database: one append-only file
// (victor.bin) holding magnitude-quantized embeddings, scanned linearly at
// query time with no approximate-nearest-neighbor index to maintain or
// persist. See internal/codec for the wire format, internal/store for the
// file lifecycle, and internal/query for the ranking scan.
package victor

import (
	"context"
	"log/slog"

	"github.com/victor-db/victor/internal/codec"
	verrors "github.com/victor-db/victor/internal/errors"
	"github.com/victor-db/victor/internal/query"
	"github.com/victor-db/victor/internal/storage"
	"github.com/victor-db/victor/internal/store"
)

// Result is one ranked match returned by Search. Distance is squared
// Euclidean distance (not its square root): cheaper to compute and
// ordering-equivalent, and what the fused distance loop naturally
// produces.
type Result struct {
	Content  string
	Tags     []string
	Distance float32
}

// Info is read-only introspection about an open Db.
type Info struct {
	// Dimension is the embedding length established by the first insert,
	// or 0 if the database has never had a record.
	Dimension int
	// RecordCount is the number of records currently stored.
	RecordCount int
	// SizeBytes is the current size of victor.bin.
	SizeBytes int64
}

// Db is one open embedded vector database.
type Db struct {
	store   *store.Store
	backend storage.Backend
	logger  *slog.Logger
}

// Open opens (creating if necessary) a database rooted at the host
// filesystem directory root. A second process opening the same root
// concurrently fails fast instead of racing the first.
func Open(root string, opts ...Option) (*Db, error) {
	hostfs, err := storage.NewHostFS(root)
	if err != nil {
		return nil, err
	}
	return openBackend(hostfs, buildOptions(opts))
}

// OpenBackend opens a database over a caller-supplied storage backend,
// for example internal/storage.NewOPFS in a browser wasm build.
func OpenBackend(backend storage.Backend, opts ...Option) (*Db, error) {
	return openBackend(backend, buildOptions(opts))
}

func openBackend(backend storage.Backend, o *Options) (*Db, error) {
	cached, err := storage.NewCachingBackend(backend, o.handleCacheSize)
	if err != nil {
		return nil, err
	}

	s, err := store.Open(context.Background(), cached, store.Options{
		ChunkSize:    o.streamChunkSize,
		RepairPolicy: store.RepairPolicy(o.repairPolicy),
		Logger:       o.logger,
	})
	if err != nil {
		return nil, err
	}

	return &Db{store: s, backend: cached, logger: o.logger}, nil
}

// Insert appends one record: its content, embedding, and optional tags.
// The first call establishes the database's dimension; every call after
// must supply an embedding of that same length.
func (db *Db) Insert(ctx context.Context, content string, embedding []float64, tags []string) error {
	return db.store.Insert(ctx, codec.Record{Content: content, Tags: tags, Embedding: embedding})
}

// Search returns up to k records nearest to embedding, restricted to
// those whose tag set is a superset of requiredTags, nearest first. An
// empty requiredTags admits every record. If fewer than k records are
// admissible, fewer are returned; this is not an error.
func (db *Db) Search(ctx context.Context, embedding []float64, requiredTags []string, k int) ([]Result, error) {
	if dim, ok := db.store.Dimension(); ok && len(embedding) != dim {
		return nil, verrors.DimensionMismatch(dim, len(embedding))
	}

	q := make([]float32, len(embedding))
	for i, v := range embedding {
		q[i] = float32(v)
	}

	raw, err := query.Search(ctx, db.store, q, requiredTags, k)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(raw))
	for i, r := range raw {
		results[i] = Result{Content: r.Content, Tags: r.Tags, Distance: r.Distance}
	}
	return results, nil
}

// Clear removes every record, resetting the database to its freshly
// opened state. Clearing an already-empty database succeeds and leaves
// it empty.
func (db *Db) Clear(ctx context.Context) error {
	return db.store.Clear(ctx)
}

// Info reports the database's current dimension, record count, and
// backing-file size.
func (db *Db) Info(ctx context.Context) (Info, error) {
	i, err := db.store.Info(ctx)
	if err != nil {
		return Info{}, err
	}
	return Info{Dimension: i.Dimension, RecordCount: i.RecordCount, SizeBytes: i.SizeBytes}, nil
}

// Close releases the underlying storage backend, including any
// process-exclusive lock held on a host filesystem root.
func (db *Db) Close() error {
	return db.backend.Close()
}
