package store

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/munindb/munin/pkg/bloblog"
)

// BlobStoreConfig holds configuration for the blob store.
type BlobStoreConfig struct {
	// DataDir is the directory holding the blob log and, when a persistent
	// index is used, the index database.
	DataDir string

	// BlockSize is the blob log framing block size. Must stay constant for
	// the lifetime of a data directory.
	BlockSize int

	// FsyncInterval batches log fsyncs; 0 syncs on every write.
	FsyncInterval time.Duration

	// IndexPath, when set, stores the key index in a pebble database at
	// this path instead of rebuilding an in-memory index on every open.
	IndexPath string

	// Resync is the reader recovery policy applied while scanning the log
	// on open.
	Resync bloblog.ResyncPolicy

	Logger  bloblog.Logger
	Metrics *bloblog.Metrics
}

func (c *BlobStoreConfig) ensureDefaults() {
	if c.Logger == nil {
		c.Logger = bloblog.DefaultLogger()
	}
}

// RecoveryResult reports what Open found while scanning the log.
type RecoveryResult struct {
	// EntriesScanned is the number of log entries decoded, tombstones
	// included.
	EntriesScanned uint64
	// LiveKeys is the number of keys in the index after the scan.
	LiveKeys int
	// Tombstones is the number of deletion markers seen.
	Tombstones uint64
	// CorruptionEvents counts damaged records skipped or aborted on.
	CorruptionEvents int
	// TruncatedBytes is how much torn tail was cut off the log, 0 when the
	// file was clean.
	TruncatedBytes int64
	// Sealed reports whether the log ended in a valid footer.
	Sealed bool
	// RecoveryTime is how long the scan took.
	RecoveryTime time.Duration
}

// StoreStats holds statistics about the store.
type StoreStats struct {
	Keys     int
	DataSize int64
	Sealed   bool
}

// Errors returned by the blob store.
var (
	ErrKeyNotFound = errors.New("store: key not found")
	ErrInvalidKey  = errors.New("store: invalid key")
	ErrNotOpen     = errors.New("store: not open")
	ErrSealed      = errors.New("store: log is sealed")
)
