package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	verrors "github.com/victor-db/victor/internal/errors"
)

// lockFileName is the advisory cross-process lock taken for the lifetime of
// a HostFS backend, so a second process opening the same root fails fast
// with a Storage error instead of producing the undefined results the
// concurrency model warns about when two processes share one file.
const lockFileName = ".victor.lock"

// HostFS is the Backend implementation over a conventional filesystem
// directory. Every operation is synchronous underneath; the context.Context
// parameters exist only for API uniformity with the asynchronous
// origin-private-directory backend and for cancellation checks between
// syscalls.
type HostFS struct {
	root string
	lock *flock.Flock
}

// NewHostFS opens root as a storage backend, creating it if necessary and
// taking an exclusive advisory lock to guard against a second process
// opening the same root concurrently (§5: unsupported, but worth failing
// loudly on rather than corrupting silently).
func NewHostFS(root string) (*HostFS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, verrors.Storage("failed to create root directory", err)
	}

	lk := flock.New(filepath.Join(root, lockFileName))
	ok, err := lk.TryLock()
	if err != nil {
		return nil, verrors.Storage("failed to acquire root lock", err)
	}
	if !ok {
		return nil, verrors.Storage("root directory is locked by another process", nil)
	}

	return &HostFS{root: root, lock: lk}, nil
}

// Close releases the process-exclusive lock on root.
func (b *HostFS) Close() error {
	if err := b.lock.Unlock(); err != nil {
		return verrors.Storage("failed to release root lock", err)
	}
	return nil
}

func (b *HostFS) path(name string) string {
	return filepath.Join(b.root, name)
}

// OpenOrCreate implements Backend.
func (b *HostFS) OpenOrCreate(ctx context.Context, name string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, verrors.Cancelled("open cancelled before it started")
	}
	f, err := os.OpenFile(b.path(name), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, verrors.Storage("failed to open "+name, err)
	}
	return &hostfsHandle{f: f, path: b.path(name)}, nil
}

// Remove implements Backend.
func (b *HostFS) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return verrors.Cancelled("remove cancelled before it started")
	}
	if err := os.Remove(b.path(name)); err != nil && !os.IsNotExist(err) {
		return verrors.Storage("failed to remove "+name, err)
	}
	return nil
}

var _ Backend = (*HostFS)(nil)

type hostfsHandle struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	closed bool
}

func (h *hostfsHandle) ReadAll(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, verrors.Cancelled("read cancelled before it started")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	size, err := h.sizeLocked()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := h.f.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, verrors.Storage("failed to read "+h.path, err)
	}
	return buf, nil
}

func (h *hostfsHandle) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, verrors.Cancelled("read cancelled before it started")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	buf := make([]byte, length)
	n, err := h.f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, verrors.Storage("failed to read "+h.path, err)
	}
	return buf[:n], nil
}

func (h *hostfsHandle) Append(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return verrors.Cancelled("append cancelled before it started")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	size, err := h.sizeLocked()
	if err != nil {
		return err
	}
	if _, err := h.f.WriteAt(p, size); err != nil {
		return verrors.Storage("failed to append to "+h.path, err)
	}
	if err := h.f.Sync(); err != nil {
		return verrors.Storage("failed to durably append to "+h.path, err)
	}
	return nil
}

func (h *hostfsHandle) Truncate(ctx context.Context, size int64) error {
	if err := ctx.Err(); err != nil {
		return verrors.Cancelled("truncate cancelled before it started")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.f.Truncate(size); err != nil {
		return verrors.Storage("failed to truncate "+h.path, err)
	}
	return h.f.Sync()
}

func (h *hostfsHandle) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, verrors.Cancelled("stat cancelled before it started")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sizeLocked()
}

func (h *hostfsHandle) sizeLocked() (int64, error) {
	info, err := h.f.Stat()
	if err != nil {
		return 0, verrors.Storage("failed to stat "+h.path, err)
	}
	return info.Size(), nil
}

func (h *hostfsHandle) RandomAccess() bool { return true }

// Close is idempotent: a handle may be closed once directly (e.g. by a
// store resetting itself) and again via a CachingBackend's eviction
// callback for the same underlying file.
func (h *hostfsHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.f.Close(); err != nil {
		return verrors.Storage("failed to close "+h.path, err)
	}
	return nil
}

var _ Handle = (*hostfsHandle)(nil)
