package bloblog

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/munindb/munin/pkg/blobfmt"
)

// Writer appends logical blobs to a blob log file, fragmenting them across
// framing blocks as needed, and seals the file with a footer. Records never
// cross a block boundary: a blob that does not fit in the space left in the
// current block is split into a First record filling the block, zero or
// more Middle records and a Last record. Tail gaps too small for a record
// header are zero padded.
type Writer struct {
	file   *os.File
	writer *bufio.Writer
	config WriterConfig

	fsyncTimer *time.Timer
	mutex      sync.Mutex

	offset int64
	sealed bool

	blobCount uint64
	ttlRange  *blobfmt.Range
	timeRange *blobfmt.Range
	seqRange  *blobfmt.Range
}

// NewWriter opens (or creates) the blob log file at config.FilePath. A new
// file gets a Header; an existing file is appended to, its header left
// untouched.
func NewWriter(config WriterConfig) (*Writer, error) {
	config.ensureDefaults()

	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0750); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if _, err := file.Seek(0, 2); err != nil {
		file.Close()
		return nil, err
	}

	w := &Writer{
		file:   file,
		writer: bufio.NewWriterSize(file, config.BufferSize),
		config: config,
		offset: stat.Size(),
	}

	if w.offset == 0 {
		header := blobfmt.NewHeader(config.Compression)
		header.TTLRange = config.ExpectedTTLRange
		header.TimeRange = config.ExpectedTimeRange
		if err := w.writeAll(header.Encode()); err != nil {
			file.Close()
			return nil, err
		}
		if err := w.sync(); err != nil {
			file.Close()
			return nil, err
		}
	}

	if config.FsyncInterval > 0 {
		w.fsyncTimer = time.AfterFunc(config.FsyncInterval, func() {
			w.mutex.Lock()
			defer w.mutex.Unlock()
			if err := w.sync(); err != nil {
				w.config.Logger.Errorf("background fsync failed: %v", err)
			}
		})
	}

	return w, nil
}

// Append writes one logical blob and returns the file offset of its first
// physical record. The offset is what the surrounding engine indexes.
func (w *Writer) Append(key, blob []byte, opts AppendOptions) (int64, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.sealed {
		return 0, errors.New("bloblog: writer is sealed")
	}
	// A record header plus the key must leave room for at least one payload
	// byte inside a block, or fragmentation cannot make progress.
	if blobfmt.RecordHeaderSize+len(key)+1 > w.config.BlockSize {
		return 0, errors.Newf("bloblog: key of %d bytes does not fit a %d byte block", len(key), w.config.BlockSize)
	}

	ttl := blobfmt.NoTTL
	subType := blobfmt.SubTypeRegular
	if opts.TTL != 0 {
		ttl = opts.TTL
		subType = blobfmt.SubTypeTTL
	} else if opts.Timestamp != 0 {
		subType = blobfmt.SubTypeTimestamp
	}

	need := blobfmt.RecordHeaderSize + len(key) + len(blob)
	space := w.blockRemaining()
	if need > space && space < blobfmt.RecordHeaderSize+len(key)+1 {
		if err := w.pad(space); err != nil {
			return 0, err
		}
		space = w.config.BlockSize
	}

	recordOffset := w.offset
	hdr := blobfmt.RecordHeader{
		TTL:       ttl,
		Timestamp: opts.Timestamp,
		SubType:   subType,
	}

	if need <= space {
		hdr.Type = blobfmt.RecordFull
		hdr.BlobLen = uint64(len(blob))
		if err := w.writeRecord(hdr, key, blob); err != nil {
			return 0, err
		}
	} else {
		// First fills the current block and declares the logical length.
		hdr.Type = blobfmt.RecordFirst
		hdr.BlobLen = uint64(len(blob))
		first := space - blobfmt.RecordHeaderSize - len(key)
		if err := w.writeRecord(hdr, key, blob[:first]); err != nil {
			return 0, err
		}
		rest := blob[first:]
		capacity := w.config.BlockSize - blobfmt.RecordHeaderSize - len(key)
		for len(rest) > capacity {
			hdr.Type = blobfmt.RecordMiddle
			hdr.BlobLen = uint64(capacity)
			if err := w.writeRecord(hdr, key, rest[:capacity]); err != nil {
				return 0, err
			}
			rest = rest[capacity:]
		}
		hdr.Type = blobfmt.RecordLast
		hdr.BlobLen = uint64(len(rest))
		if err := w.writeRecord(hdr, key, rest); err != nil {
			return 0, err
		}
	}

	w.blobCount++
	if subType == blobfmt.SubTypeTTL {
		w.ttlRange = extendRange(w.ttlRange, ttl)
	}
	if opts.Timestamp != 0 {
		w.timeRange = extendRange(w.timeRange, opts.Timestamp)
	}
	w.seqRange = extendRange(w.seqRange, opts.SeqNum)

	if err := w.maybeSync(); err != nil {
		return 0, err
	}
	return recordOffset, nil
}

// Seal flushes outstanding records, writes the footer and syncs. The writer
// rejects further appends afterwards.
func (w *Writer) Seal() (*blobfmt.Footer, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.sealed {
		return nil, errors.New("bloblog: writer is already sealed")
	}
	footer := &blobfmt.Footer{
		BlobCount: w.blobCount,
		TTLRange:  w.ttlRange,
		TimeRange: w.timeRange,
	}
	if w.seqRange != nil {
		footer.SeqRange = *w.seqRange
	}
	if err := w.writeAll(footer.Encode()); err != nil {
		return nil, err
	}
	if err := w.sync(); err != nil {
		return nil, err
	}
	w.sealed = true
	w.config.Metrics.sealed()
	return footer, nil
}

// Sync forces buffered records to disk.
func (w *Writer) Sync() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.sync()
}

// Close flushes, syncs and closes the file. It does not seal.
func (w *Writer) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.fsyncTimer != nil {
		w.fsyncTimer.Stop()
	}
	if err := w.sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Size returns the current file size in bytes.
func (w *Writer) Size() int64 {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.offset
}

// Path returns the file path.
func (w *Writer) Path() string {
	return w.config.FilePath
}

// BlobCount returns the number of logical blobs appended so far.
func (w *Writer) BlobCount() uint64 {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.blobCount
}

func (w *Writer) blockRemaining() int {
	return w.config.BlockSize - int(w.offset%int64(w.config.BlockSize))
}

func (w *Writer) writeRecord(hdr blobfmt.RecordHeader, key, payload []byte) error {
	data := blobfmt.EncodeRecord(hdr, key, payload)
	if err := w.writeAll(data); err != nil {
		return err
	}
	w.config.Metrics.recordWritten(hdr.Type, len(data))
	return nil
}

func (w *Writer) pad(n int) error {
	return w.writeAll(make([]byte, n))
}

func (w *Writer) writeAll(data []byte) error {
	n, err := w.writer.Write(data)
	w.offset += int64(n)
	return err
}

func (w *Writer) maybeSync() error {
	if w.config.FsyncInterval == 0 {
		return w.sync()
	}
	if w.fsyncTimer != nil {
		w.fsyncTimer.Reset(w.config.FsyncInterval)
	}
	return nil
}

func (w *Writer) sync() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

func extendRange(r *blobfmt.Range, v uint64) *blobfmt.Range {
	if r == nil {
		return &blobfmt.Range{Min: v, Max: v}
	}
	r.Extend(v)
	return r
}
