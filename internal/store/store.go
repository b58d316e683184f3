// Package store owns the single append-only records file (victor.bin):
// establishing the database's embedding dimension from the first insert,
// appending new records, and streaming existing ones back to callers
// (principally the query engine) without ever holding the whole file's
// records in memory at once. It mirrors the teacher's vector store in
// shape — a mutex-guarded struct with Stats-style introspection and
// slog.Warn on non-fatal cleanup — generalized to the single linear-scan
// file this spec calls for instead of an HNSW graph.
package store

import (
	stderrors "errors"
	"log/slog"
	"math"
	"sync"

	"context"

	"github.com/victor-db/victor/internal/codec"
	verrors "github.com/victor-db/victor/internal/errors"
	"github.com/victor-db/victor/internal/storage"
)

// recordsFile is the one file a Store ever reads or writes.
const recordsFile = "victor.bin"

// DefaultChunkSize bounds how many bytes a streaming scan pulls from the
// backend at a time before trying to parse another record out of its
// buffer.
const DefaultChunkSize = 64 * 1024

// RepairPolicy controls what Open does when it finds a truncated record at
// the end of victor.bin (the signature of a write that was interrupted
// mid-append).
type RepairPolicy int

const (
	// RepairRefuse leaves the truncated tail in place and puts the Store
	// into a read-only state: Insert is refused with a CorruptDatabase
	// error, and every subsequent scan rediscovers the same corruption,
	// until Clear resets the file. This is the default — nothing is ever
	// silently repaired.
	RepairRefuse RepairPolicy = iota
	// RepairTruncate removes the incomplete tail record once, at Open,
	// before any read or write is served.
	RepairTruncate
)

// Options configures a Store. A zero-value Options is valid: ChunkSize
// defaults to DefaultChunkSize and Logger to slog.Default().
type Options struct {
	ChunkSize    int
	RepairPolicy RepairPolicy
	Logger       *slog.Logger
}

// Info is read-only introspection about an open Store.
type Info struct {
	Dimension   int
	RecordCount int
	SizeBytes   int64
}

// Store is the single-file append-only record log.
type Store struct {
	mu       sync.RWMutex
	backend  storage.Backend
	handle   storage.Handle
	opts     Options
	dim      int
	count    int
	readOnly bool
	corrupt  *int64
}

// Open scans the records file behind backend, establishing the dimension
// and record count already present, and applies opts.RepairPolicy if a
// truncated tail is found.
func Open(ctx context.Context, backend storage.Backend, opts Options) (*Store, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h, err := backend.OpenOrCreate(ctx, recordsFile)
	if err != nil {
		return nil, err
	}

	s := &Store{backend: backend, handle: h, opts: opts}

	lastGood, err := streamRecords(ctx, h, opts.ChunkSize, func(offset int64, rec codec.Packed) error {
		if s.dim == 0 {
			s.dim = rec.Dim()
		} else if rec.Dim() != s.dim {
			return verrors.CorruptDatabase(offset, "embedding dimension changed within the records file")
		}
		s.count++
		return nil
	})
	if err == nil {
		return s, nil
	}

	offset, isCorrupt := verrors.Offset(err)
	if !isCorrupt {
		return nil, err
	}

	switch opts.RepairPolicy {
	case RepairTruncate:
		if terr := h.Truncate(ctx, lastGood); terr != nil {
			return nil, terr
		}
		opts.Logger.Warn("truncated corrupt tail record", slog.Int64("byte_offset", lastGood))
		return s, nil
	default:
		s.readOnly = true
		s.corrupt = &offset
		opts.Logger.Warn("records file ends in a truncated record; opened read-only", slog.Int64("byte_offset", offset))
		return s, nil
	}
}

// Insert validates and appends one record, establishing the database's
// dimension if this is the first record.
func (s *Store) Insert(ctx context.Context, rec codec.Record) error {
	if err := ctx.Err(); err != nil {
		return verrors.Cancelled("insert cancelled before it started")
	}
	if len(rec.Embedding) == 0 {
		return verrors.InvalidEmbedding("embedding must not be empty")
	}
	for _, v := range rec.Embedding {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return verrors.InvalidEmbedding("embedding must not contain NaN or infinite components")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly {
		return verrors.CorruptDatabase(*s.corrupt, "database is read-only after detecting a corrupt tail; call Clear to reset")
	}
	if s.dim == 0 {
		s.dim = len(rec.Embedding)
	} else if len(rec.Embedding) != s.dim {
		return verrors.DimensionMismatch(s.dim, len(rec.Embedding))
	}

	if err := s.handle.Append(ctx, codec.Encode(rec)); err != nil {
		return err
	}
	s.count++
	return nil
}

// IterRecords streams every record currently in the file to visit, in
// file order, stopping at the first error visit returns or the first
// corruption the scan itself discovers.
func (s *Store) IterRecords(ctx context.Context, visit func(offset int64, rec codec.Packed) error) error {
	s.mu.RLock()
	h := s.handle
	chunkSize := s.opts.ChunkSize
	s.mu.RUnlock()

	_, err := streamRecords(ctx, h, chunkSize, visit)
	return err
}

// Dimension returns the database's established embedding dimension, and
// false if no record has been inserted yet.
func (s *Store) Dimension() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim, s.dim != 0
}

// ReadOnly reports whether a detected tail corruption is blocking writes.
func (s *Store) ReadOnly() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readOnly
}

// Info returns current dimension, record count, and file size.
func (s *Store) Info(ctx context.Context) (Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size, err := s.handle.Size(ctx)
	if err != nil {
		return Info{}, err
	}
	return Info{Dimension: s.dim, RecordCount: s.count, SizeBytes: size}, nil
}

// Clear removes every record, resetting the database to its freshly
// opened state (dimension unestablished, read-only cleared).
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return verrors.Cancelled("clear cancelled before it started")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.handle.Close(); err != nil {
		return err
	}
	if err := s.backend.Remove(ctx, recordsFile); err != nil {
		return err
	}
	h, err := s.backend.OpenOrCreate(ctx, recordsFile)
	if err != nil {
		return err
	}

	removed := s.count
	s.handle = h
	s.dim = 0
	s.count = 0
	s.readOnly = false
	s.corrupt = nil
	s.opts.Logger.Info("cleared database", slog.Int("records_removed", removed))
	return nil
}

// Close releases the underlying handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle.Close()
}

// streamRecords pulls chunkSize-sized reads from h, growing an in-memory
// buffer only as far as needed to parse the next record, and calls visit
// for each one in order. It returns the file offset of the last
// successfully parsed record boundary (useful as a truncation point) and
// any error — a codec.ErrUnsupportedMagnitude or a short tail at EOF both
// surface as a CorruptDatabase error at the offset where framing broke.
func streamRecords(ctx context.Context, h storage.Handle, chunkSize int, visit func(offset int64, rec codec.Packed) error) (int64, error) {
	size, err := h.Size(ctx)
	if err != nil {
		return 0, err
	}

	var buf []byte
	var fileOffset int64 // file offset that buf[0] corresponds to
	var readOffset int64 // how far into the file chunks have been pulled

	for {
		if err := ctx.Err(); err != nil {
			return fileOffset, verrors.Cancelled("scan cancelled mid-stream")
		}

		rec, n, perr := codec.Parse(buf)
		if perr == nil {
			if verr := visit(fileOffset, rec); verr != nil {
				return fileOffset, verr
			}
			buf = buf[n:]
			fileOffset += int64(n)
			continue
		}

		if stderrors.Is(perr, codec.ErrUnsupportedMagnitude) {
			return fileOffset, verrors.CorruptDatabase(fileOffset, "record header has an unsupported magnitude")
		}
		if !stderrors.Is(perr, codec.ErrShortBuffer) {
			return fileOffset, verrors.Storage("failed to parse record", perr)
		}

		if readOffset >= size {
			if len(buf) == 0 {
				return fileOffset, nil
			}
			return fileOffset, verrors.CorruptDatabase(fileOffset, "records file ends in a truncated record")
		}

		length := int64(chunkSize)
		if readOffset+length > size {
			length = size - readOffset
		}
		chunk, err := h.ReadRange(ctx, readOffset, length)
		if err != nil {
			return fileOffset, err
		}
		buf = append(buf, chunk...)
		readOffset += int64(len(chunk))
	}
}
