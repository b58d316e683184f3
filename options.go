package victor

import (
	"log/slog"

	"github.com/victor-db/victor/internal/storage"
	"github.com/victor-db/victor/internal/store"
)

// RepairPolicy controls how Open handles a records file whose last record
// is truncated — the signature of a write that was interrupted before it
// completed.
type RepairPolicy int

const (
	// RepairRefuse leaves a truncated tail in place and puts the Db into a
	// read-only state until Clear is called. This is the default: nothing
	// is ever silently repaired.
	RepairRefuse RepairPolicy = RepairPolicy(store.RepairRefuse)
	// RepairTruncate removes the incomplete tail record once, at Open,
	// before any read or write is served.
	RepairTruncate RepairPolicy = RepairPolicy(store.RepairTruncate)
)

// Options configures Open. The zero value is never used directly: Open
// starts from buildOptions' defaults and applies the With* options below.
type Options struct {
	logger          *slog.Logger
	streamChunkSize int
	handleCacheSize int
	repairPolicy    RepairPolicy
}

// Option mutates an Options during Open.
type Option func(*Options)

// WithLogger routes Victor's diagnostics through l instead of
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.logger = l }
}

// WithStreamChunkSize sets how many bytes a streaming scan pulls from the
// backend at a time.
func WithStreamChunkSize(n int) Option {
	return func(o *Options) { o.streamChunkSize = n }
}

// WithHandleCacheSize bounds how many open file handles the storage
// backend keeps warm.
func WithHandleCacheSize(n int) Option {
	return func(o *Options) { o.handleCacheSize = n }
}

// WithTailRepairPolicy overrides the default RepairRefuse policy.
func WithTailRepairPolicy(p RepairPolicy) Option {
	return func(o *Options) { o.repairPolicy = p }
}

func buildOptions(opts []Option) *Options {
	o := &Options{
		logger:          slog.Default(),
		streamChunkSize: store.DefaultChunkSize,
		handleCacheSize: storage.DefaultHandleCacheSize,
		repairPolicy:    RepairRefuse,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
