// Package storage defines the minimal directory+file capability the store
// needs, and provides two implementations: one over a host filesystem
// (hostfs.go), one over a browser origin-private directory handle
// (opfs.go, built only for GOOS=js GOARCH=wasm). Every
// operation takes a context.Context and is expressed as potentially
// suspending, even though the host backend's I/O is synchronous underneath
// — this keeps the store polymorphic over both backends with no further
// plumbing, per the storage abstraction's uniform object shape.
package storage

import "context"

// DefaultHandleCacheSize bounds the number of open file handles a Backend
// keeps warm across repeated OpenOrCreate calls against the same root.
const DefaultHandleCacheSize = 8

// Handle is one named file within a Backend's root.
type Handle interface {
	// ReadAll returns the file's full contents.
	ReadAll(ctx context.Context) ([]byte, error)

	// ReadRange returns up to length bytes starting at offset. Fewer bytes
	// are returned if the file ends first; this is not an error. Backends
	// that only offer whole-file reads (the origin-private directory case)
	// satisfy this by reading the whole file on every call and slicing, at
	// the acknowledged cost documented on RandomAccess.
	ReadRange(ctx context.Context, offset int64, length int64) ([]byte, error)

	// Append writes p at the current end of the file. It returns only
	// after the write is durable.
	Append(ctx context.Context, p []byte) error

	// Truncate shrinks the file to size bytes. Used only by the opt-in
	// tail-repair policy after a crashed write is detected.
	Truncate(ctx context.Context, size int64) error

	// Size returns the file's current length in bytes.
	Size(ctx context.Context) (int64, error)

	// RandomAccess reports whether ReadRange is backed by true
	// random-access reads (true for the host filesystem) or by a
	// whole-file read plus an in-memory slice (false for the
	// origin-private directory backend). The store does not consult it:
	// its streaming scan reads in fixed-size chunks either way, and the
	// value never changes correctness.
	RandomAccess() bool

	// Close releases any resources held for the lifetime of the handle.
	Close() error
}

// Backend is the directory-level capability: obtain handles by name, and
// remove them.
type Backend interface {
	// OpenOrCreate returns the handle for name, creating an empty file if
	// one doesn't already exist. Idempotent.
	OpenOrCreate(ctx context.Context, name string) (Handle, error)

	// Remove deletes the file named name if present. No error if absent.
	Remove(ctx context.Context, name string) error

	// Close releases backend-wide resources (e.g. a held process lock).
	Close() error
}
