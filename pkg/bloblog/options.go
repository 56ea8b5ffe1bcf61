package bloblog

import (
	"log"
	"os"
	"time"

	"github.com/munindb/munin/pkg/blobfmt"
)

// Logger is the minimal logging surface the reader and writer need. The
// default implementation writes to the standard library logger; callers
// plug in their own to integrate with an application log.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type defaultLogger struct {
	l *log.Logger
}

func (d *defaultLogger) Infof(format string, args ...interface{})  { d.l.Printf(format, args...) }
func (d *defaultLogger) Errorf(format string, args ...interface{}) { d.l.Printf(format, args...) }

// DefaultLogger returns a Logger backed by the standard library log package.
func DefaultLogger() Logger {
	return &defaultLogger{l: log.New(os.Stderr, "[bloblog] ", log.LstdFlags)}
}

// ResyncPolicy controls how the reader reacts when it loses the record
// boundary (garbage where a record header was expected).
type ResyncPolicy int

const (
	// ResyncAbort stops the scan at the first desynchronization. Default.
	ResyncAbort ResyncPolicy = iota
	// ResyncScan searches forward byte by byte for the next plausible
	// record boundary and resumes there.
	ResyncScan
)

// ReaderOptions configures a sequential Reader. The zero value is usable.
type ReaderOptions struct {
	// BlockSize is the framing block size the file was written with.
	// Defaults to blobfmt.DefaultBlockSize.
	BlockSize int

	// Resync selects the recovery policy after a lost record boundary.
	Resync ResyncPolicy

	// RequireSealed makes a missing footer an error instead of a clean
	// "not yet sealed" end.
	RequireSealed bool

	Logger  Logger
	Metrics *Metrics
}

func (o *ReaderOptions) ensureDefaults() {
	if o.BlockSize <= 0 {
		o.BlockSize = blobfmt.DefaultBlockSize
	}
	if o.Logger == nil {
		o.Logger = DefaultLogger()
	}
}

// WriterConfig configures a blob log Writer.
type WriterConfig struct {
	// FilePath is the blob log file to create or append to.
	FilePath string

	// BlockSize is the framing block size. Defaults to
	// blobfmt.DefaultBlockSize. Must match the readers of this file.
	BlockSize int

	// Compression is recorded in the file header and otherwise opaque:
	// payloads are written as given.
	Compression blobfmt.CompressionType

	// ExpectedTTLRange and ExpectedTimeRange are the header's optional
	// range guesses, written when the file is created.
	ExpectedTTLRange  *blobfmt.Range
	ExpectedTimeRange *blobfmt.Range

	// FsyncInterval batches fsyncs; 0 syncs on every append.
	FsyncInterval time.Duration

	// BufferSize is the write buffer size. Defaults to 64 KiB.
	BufferSize int

	Logger  Logger
	Metrics *Metrics
}

func (c *WriterConfig) ensureDefaults() {
	if c.BlockSize <= 0 {
		c.BlockSize = blobfmt.DefaultBlockSize
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 64 * 1024
	}
	if c.Logger == nil {
		c.Logger = DefaultLogger()
	}
}

// AppendOptions carries the per-blob metadata for Writer.Append.
type AppendOptions struct {
	// TTL is the absolute expiration of the blob; 0 means it never expires.
	TTL uint64
	// Timestamp is the blob's write time; 0 leaves the record untimestamped.
	Timestamp uint64
	// SeqNum is the engine-assigned sequence number, folded into the
	// footer's sequence range.
	SeqNum uint64
}
