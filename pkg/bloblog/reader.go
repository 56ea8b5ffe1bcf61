package bloblog

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/munindb/munin/pkg/blobfmt"
)

// Entry is one logical blob reconstructed from a blob log file: a Full
// record, or a First/Middle/Last fragment run reassembled in order.
type Entry struct {
	Key  []byte
	Blob []byte

	// TTL is the entry's absolute expiration, blobfmt.NoTTL when absent.
	TTL uint64
	// Timestamp is the entry's write time, 0 when absent.
	Timestamp uint64
	// SeqNum is the entry's ordinal position in the file. The format does
	// not store per-record sequence numbers; the footer's sequence range
	// lets the surrounding engine map ordinals back to its own numbering.
	SeqNum uint64
	// Offset is the file offset of the entry's first physical record.
	Offset int64
}

// HasTTL reports whether the entry carries an expiration.
func (e *Entry) HasTTL() bool {
	return e.TTL != blobfmt.NoTTL
}

// Expired reports whether the entry's TTL has passed at the given time.
func (e *Entry) Expired(now uint64) bool {
	return e.HasTTL() && e.TTL <= now
}

type readerState int

const (
	stateAwaitingHeader readerState = iota
	stateReadingRecords
	stateSealed
	stateTruncated
)

// fragRun is the reassembly state for one in-flight fragment run. It lives
// only inside the Reader; codecs stay stateless.
type fragRun struct {
	open     bool
	key      []byte
	buf      []byte
	expected uint64
	offset   int64
	ttl      uint64
	ts       uint64
}

// Reader sequentially scans one blob log file and yields its logical
// entries, validating checksums and framing as it goes. Errors carry the
// byte offset at which they occurred; after a record-scoped error the
// reader is left resynchronized at the next record boundary (or in a
// terminal state for file-scoped errors), so callers choose between
// aborting, skipping damaged entries, or stopping at the last good offset.
//
// A Reader owns its cursor and reassembly state and must not be shared
// across goroutines without external serialization.
type Reader struct {
	src  io.ReaderAt
	size int64
	opts ReaderOptions

	state    readerState
	pos      int64
	lastGood int64

	header *blobfmt.Header
	footer *blobfmt.Footer
	frag   fragRun

	entryCount uint64
	obsTTL     *blobfmt.Range
	obsTime    *blobfmt.Range
	warnings   []string
}

// NewReader creates a Reader over src, whose total length must be given so
// the reader can distinguish a clean end of stream from a truncation.
func NewReader(src io.ReaderAt, size int64, opts ReaderOptions) *Reader {
	opts.ensureDefaults()
	return &Reader{src: src, size: size, opts: opts}
}

// FileReader is a Reader that owns its file handle.
type FileReader struct {
	*Reader
	file *os.File
}

// OpenFileReader opens path and returns a Reader over its current contents.
func OpenFileReader(path string, opts ReaderOptions) (*FileReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &FileReader{
		Reader: NewReader(file, stat.Size(), opts),
		file:   file,
	}, nil
}

// Close closes the underlying file.
func (fr *FileReader) Close() error {
	return fr.file.Close()
}

// Header returns the decoded file header, reading it if necessary.
func (r *Reader) Header() (blobfmt.Header, error) {
	if r.header == nil {
		if err := r.readHeader(); err != nil {
			return blobfmt.Header{}, err
		}
	}
	return *r.header, nil
}

// Footer returns the decoded footer, or nil if the file is not sealed or
// the end of the stream has not been reached yet.
func (r *Reader) Footer() *blobfmt.Footer {
	return r.footer
}

// Sealed reports whether the scan ended at a valid footer.
func (r *Reader) Sealed() bool {
	return r.state == stateSealed
}

// Offset returns the reader's current byte position.
func (r *Reader) Offset() int64 {
	return r.pos
}

// LastGoodOffset returns the position just past the last cleanly decoded
// entry. Truncating a crash-torn file here yields a well-formed log.
func (r *Reader) LastGoodOffset() int64 {
	return r.lastGood
}

// EntryCount returns the number of entries yielded so far.
func (r *Reader) EntryCount() uint64 {
	return r.entryCount
}

// Warnings returns non-fatal findings, such as a footer whose counts do not
// match the records actually seen.
func (r *Reader) Warnings() []string {
	return r.warnings
}

// Next returns the next logical entry. It returns io.EOF when the stream is
// exhausted, after which Sealed and Footer report how the file ended. A
// record-scoped error (payload checksum, fragment mismatch) leaves the
// reader positioned to continue; calling Next again resumes the scan.
func (r *Reader) Next() (*Entry, error) {
	switch r.state {
	case stateSealed, stateTruncated:
		return nil, io.EOF
	case stateAwaitingHeader:
		if err := r.readHeader(); err != nil {
			return nil, err
		}
	}

	for {
		remaining := r.size - r.pos

		// A sealed file ends in a footer: exactly FooterSize bytes left and
		// the magic number in front. Anything else falls through to record
		// parsing.
		if remaining == blobfmt.FooterSize {
			isFooter, err := r.peekMagic()
			if err != nil {
				return nil, r.fail(err)
			}
			if isFooter {
				return nil, r.finishSealed()
			}
		}

		// A footer cut short by a crash: the magic number in front but
		// fewer than FooterSize bytes behind it.
		if remaining < blobfmt.FooterSize && remaining >= 4 {
			isFooter, err := r.peekMagic()
			if err != nil {
				return nil, r.fail(err)
			}
			if isFooter {
				r.state = stateTruncated
				err := errors.Wrapf(blobfmt.ErrTruncated, "offset %d: footer has %d of %d bytes",
					r.pos, remaining, blobfmt.FooterSize)
				r.opts.Metrics.corruption(err)
				return nil, err
			}
		}

		if remaining == 0 {
			return nil, r.finishUnsealed()
		}

		blockEnd := r.blockEnd()

		// Tail of block too small for a record header: must be zero padding.
		if blockEnd-r.pos < blobfmt.RecordHeaderSize {
			if err := r.skipPadding(blockEnd); err != nil {
				return nil, r.desync(err)
			}
			continue
		}

		if remaining < blobfmt.RecordHeaderSize {
			r.state = stateTruncated
			err := errors.Wrapf(blobfmt.ErrTruncated, "offset %d: %d trailing bytes, record needs %d",
				r.pos, remaining, blobfmt.RecordHeaderSize)
			r.opts.Metrics.corruption(err)
			return nil, err
		}

		hdrBuf, err := r.readAt(r.pos, blobfmt.RecordHeaderSize)
		if err != nil {
			return nil, r.fail(err)
		}

		// A fully zeroed header marks padding or preallocated space; skip
		// to the next block boundary.
		if allZero(hdrBuf) {
			if err := r.skipPadding(blockEnd); err != nil {
				return nil, r.desync(err)
			}
			continue
		}

		hdr, err := blobfmt.DecodeRecordHeader(hdrBuf)
		if err != nil {
			return nil, r.desync(errors.Wrapf(err, "offset %d", r.pos))
		}

		entry, err := r.consumeRecord(hdr, blockEnd)
		if entry != nil || err != nil {
			return entry, err
		}
	}
}

// ReadEntryAt decodes the single logical entry whose first physical record
// starts at off. This is the point-lookup path for an engine that indexed
// the offset returned by Writer.Append.
func (r *Reader) ReadEntryAt(off int64) (*Entry, error) {
	sub := NewReader(r.src, r.size, r.opts)
	sub.state = stateReadingRecords
	sub.pos = off
	sub.lastGood = off
	entry, err := sub.Next()
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *Reader) readHeader() error {
	if r.size < blobfmt.HeaderSize {
		r.state = stateTruncated
		err := errors.Wrapf(blobfmt.ErrTruncated, "file is %d bytes, header needs %d", r.size, blobfmt.HeaderSize)
		r.opts.Metrics.corruption(err)
		return err
	}
	buf, err := r.readAt(0, blobfmt.HeaderSize)
	if err != nil {
		return r.fail(err)
	}
	header, err := blobfmt.DecodeHeader(buf)
	if err != nil {
		return r.fail(errors.Wrapf(err, "offset 0"))
	}
	r.header = &header
	r.pos = blobfmt.HeaderSize
	r.lastGood = r.pos
	r.state = stateReadingRecords
	return nil
}

// consumeRecord reads one physical record's body and advances the fragment
// state machine. It returns (nil, nil) when the record was a fragment that
// did not complete an entry yet.
func (r *Reader) consumeRecord(hdr blobfmt.RecordHeader, blockEnd int64) (*Entry, error) {
	recStart := r.pos
	dataOff := recStart + blobfmt.RecordHeaderSize + int64(hdr.KeyLen)

	var payloadLen int64
	switch hdr.Type {
	case blobfmt.RecordFirst:
		// First records are framed by the block: their payload always runs
		// to the boundary, while BlobLen declares the logical total.
		payloadLen = blockEnd - dataOff
		if payloadLen <= 0 {
			return nil, r.desync(errors.Wrapf(blobfmt.ErrRecordSyncLost,
				"offset %d: first fragment header overruns its block", recStart))
		}
	default:
		if hdr.BlobLen > uint64(r.size) {
			return nil, r.desync(errors.Wrapf(blobfmt.ErrRecordSyncLost,
				"offset %d: record declares %d payload bytes in a %d byte file", recStart, hdr.BlobLen, r.size))
		}
		payloadLen = int64(hdr.BlobLen)
		if dataOff+payloadLen > blockEnd {
			return nil, r.desync(errors.Wrapf(blobfmt.ErrRecordSyncLost,
				"offset %d: %s record of %d bytes crosses block boundary", recStart, hdr.Type, payloadLen))
		}
	}

	if dataOff+payloadLen > r.size {
		r.state = stateTruncated
		r.discardRun("file ends mid-record")
		err := errors.Wrapf(blobfmt.ErrTruncated, "offset %d: record extends to %d, file ends at %d",
			recStart, dataOff+payloadLen, r.size)
		r.opts.Metrics.corruption(err)
		return nil, err
	}

	body, err := r.readAt(recStart+blobfmt.RecordHeaderSize, int(int64(hdr.KeyLen)+payloadLen))
	if err != nil {
		return nil, r.fail(err)
	}
	key, payload, err := blobfmt.DecodeRecordBody(hdr, int(payloadLen), body)
	if err != nil {
		// The record extent is known, so skip it and stay in sync.
		r.pos = dataOff + payloadLen
		r.discardRun("payload checksum failure inside fragment run")
		err = errors.Wrapf(err, "offset %d", recStart)
		r.opts.Metrics.corruption(err)
		return nil, err
	}

	r.pos = dataOff + payloadLen
	r.opts.Metrics.recordRead(hdr.Type)

	switch hdr.Type {
	case blobfmt.RecordFull:
		if r.frag.open {
			// Leave the cursor on this record so the next call yields it.
			r.pos = recStart
			return nil, r.overlap(recStart, "full record for %q while reassembling %q", key, r.frag.key)
		}
		return r.yield(&Entry{
			Key:       append([]byte(nil), key...),
			Blob:      append([]byte(nil), payload...),
			TTL:       hdr.TTL,
			Timestamp: hdr.Timestamp,
			Offset:    recStart,
		}), nil

	case blobfmt.RecordFirst:
		if r.frag.open {
			r.pos = recStart
			return nil, r.overlap(recStart, "new fragment run for %q while reassembling %q", key, r.frag.key)
		}
		r.frag = fragRun{
			open:     true,
			key:      append([]byte(nil), key...),
			buf:      append([]byte(nil), payload...),
			expected: hdr.BlobLen,
			offset:   recStart,
			ttl:      hdr.TTL,
			ts:       hdr.Timestamp,
		}
		return nil, nil

	case blobfmt.RecordMiddle, blobfmt.RecordLast:
		if !r.frag.open {
			return nil, r.syncLost(recStart, "%s fragment with no run open", hdr.Type)
		}
		if !bytes.Equal(key, r.frag.key) {
			runKey := r.frag.key
			r.frag = fragRun{}
			return nil, r.overlap(recStart, "%s fragment for %q inside run for %q", hdr.Type, key, runKey)
		}
		r.frag.buf = append(r.frag.buf, payload...)
		if hdr.Type == blobfmt.RecordMiddle {
			if uint64(len(r.frag.buf)) >= r.frag.expected {
				return nil, r.fragmentMismatch(recStart)
			}
			return nil, nil
		}
		if uint64(len(r.frag.buf)) != r.frag.expected {
			return nil, r.fragmentMismatch(recStart)
		}
		entry := &Entry{
			Key:       r.frag.key,
			Blob:      r.frag.buf,
			TTL:       r.frag.ttl,
			Timestamp: r.frag.ts,
			Offset:    r.frag.offset,
		}
		r.frag = fragRun{}
		return r.yield(entry), nil
	}
	// DecodeRecordHeader rejects unknown types.
	return nil, r.desync(errors.Wrapf(blobfmt.ErrBadRecordType, "offset %d: type %d", recStart, hdr.Type))
}

func (r *Reader) yield(entry *Entry) *Entry {
	entry.SeqNum = r.entryCount
	r.entryCount++
	r.lastGood = r.pos
	if entry.HasTTL() {
		r.obsTTL = extendRange(r.obsTTL, entry.TTL)
	}
	if entry.Timestamp != 0 {
		r.obsTime = extendRange(r.obsTime, entry.Timestamp)
	}
	r.opts.Metrics.entryYielded()
	return entry
}

func (r *Reader) finishSealed() error {
	buf, err := r.readAt(r.pos, blobfmt.FooterSize)
	if err != nil {
		return r.fail(err)
	}
	footer, err := blobfmt.DecodeFooter(buf)
	if err != nil {
		return r.fail(errors.Wrapf(err, "offset %d", r.pos))
	}
	if r.frag.open {
		r.warn("sealed file leaves fragment run for %q unterminated, %d of %d bytes read",
			r.frag.key, len(r.frag.buf), r.frag.expected)
		r.frag = fragRun{}
	}
	r.footer = &footer
	r.pos = r.size
	r.lastGood = r.size
	r.state = stateSealed
	r.crossCheckFooter()
	return io.EOF
}

func (r *Reader) finishUnsealed() error {
	r.state = stateTruncated
	if r.frag.open {
		err := errors.Wrapf(blobfmt.ErrTruncated,
			"offset %d: stream ends inside fragment run for %q, %d of %d bytes read",
			r.size, r.frag.key, len(r.frag.buf), r.frag.expected)
		r.frag = fragRun{}
		r.opts.Metrics.corruption(err)
		return err
	}
	if r.opts.RequireSealed {
		return errors.Wrapf(blobfmt.ErrTruncated, "offset %d: file has no footer", r.size)
	}
	return io.EOF
}

// crossCheckFooter compares the footer's summary against what the scan saw.
// Mismatches are warnings, not errors: the footer may predate a crash
// during the last appends.
func (r *Reader) crossCheckFooter() {
	f := r.footer
	if f.BlobCount != r.entryCount {
		r.warn("footer declares %d blobs, stream yielded %d", f.BlobCount, r.entryCount)
	}
	if f.TTLRange != nil && r.obsTTL != nil &&
		(r.obsTTL.Min < f.TTLRange.Min || r.obsTTL.Max > f.TTLRange.Max) {
		r.warn("entries' ttl span [%d,%d] exceeds footer range [%d,%d]",
			r.obsTTL.Min, r.obsTTL.Max, f.TTLRange.Min, f.TTLRange.Max)
	}
	if f.TimeRange != nil && r.obsTime != nil &&
		(r.obsTime.Min < f.TimeRange.Min || r.obsTime.Max > f.TimeRange.Max) {
		r.warn("entries' timestamp span [%d,%d] exceeds footer range [%d,%d]",
			r.obsTime.Min, r.obsTime.Max, f.TimeRange.Min, f.TimeRange.Max)
	}
}

// desync handles garbage at an expected record boundary according to the
// resync policy. It returns the error to surface; under ResyncScan the
// cursor has been moved to the next plausible boundary first.
func (r *Reader) desync(err error) error {
	r.opts.Metrics.corruption(err)
	r.discardRun("record boundary lost inside fragment run")
	if r.opts.Resync == ResyncScan {
		if next, ok := r.scanForward(r.pos + 1); ok {
			r.opts.Logger.Infof("resynchronized at offset %d after: %v", next, err)
			r.pos = next
			return err
		}
	}
	r.state = stateTruncated
	return err
}

// scanForward searches byte by byte for the next position that decodes as a
// valid record header, honoring block framing. It also stops at a valid
// footer position.
func (r *Reader) scanForward(from int64) (int64, bool) {
	for c := from; c+blobfmt.RecordHeaderSize <= r.size; c++ {
		blockEnd := r.blockEndAt(c)
		if blockEnd-c < blobfmt.RecordHeaderSize {
			c = blockEnd - 1
			continue
		}
		buf, err := r.readAt(c, blobfmt.RecordHeaderSize)
		if err != nil {
			return 0, false
		}
		if _, err := blobfmt.DecodeRecordHeader(buf); err == nil {
			return c, true
		}
		if r.size-c == blobfmt.FooterSize {
			if magic, err := r.readAt(c, 4); err == nil && bytes.Equal(magic, magicBytes()) {
				return c, true
			}
		}
	}
	return 0, false
}

func (r *Reader) overlap(off int64, format string, args ...interface{}) error {
	err := errors.Wrapf(blobfmt.ErrOverlappingFragments, "offset %d: "+format, append([]interface{}{off}, args...)...)
	r.frag = fragRun{}
	r.opts.Metrics.corruption(err)
	return err
}

func (r *Reader) syncLost(off int64, format string, args ...interface{}) error {
	err := errors.Wrapf(blobfmt.ErrRecordSyncLost, "offset %d: "+format, append([]interface{}{off}, args...)...)
	r.opts.Metrics.corruption(err)
	return err
}

func (r *Reader) fragmentMismatch(off int64) error {
	err := errors.Wrapf(blobfmt.ErrFragmentLength,
		"offset %d: run for %q accumulated %d bytes, first record declared %d",
		off, r.frag.key, len(r.frag.buf), r.frag.expected)
	r.frag = fragRun{}
	r.opts.Metrics.corruption(err)
	return err
}

// fail puts the reader in its terminal truncated state for file-scoped
// errors.
func (r *Reader) fail(err error) error {
	r.state = stateTruncated
	r.opts.Metrics.corruption(err)
	return err
}

func (r *Reader) discardRun(reason string) {
	if r.frag.open {
		r.warn("discarding fragment run for %q at offset %d: %s", r.frag.key, r.frag.offset, reason)
		r.frag = fragRun{}
	}
}

// skipPadding verifies the bytes up to end are zeros and skips them.
func (r *Reader) skipPadding(end int64) error {
	if end > r.size {
		end = r.size
	}
	pad, err := r.readAt(r.pos, int(end-r.pos))
	if err != nil {
		return err
	}
	if !allZero(pad) {
		return errors.Wrapf(blobfmt.ErrRecordSyncLost, "offset %d: nonzero bytes in block padding", r.pos)
	}
	r.pos = end
	return nil
}

func (r *Reader) peekMagic() (bool, error) {
	buf, err := r.readAt(r.pos, 4)
	if err != nil {
		return false, err
	}
	return bytes.Equal(buf, magicBytes()), nil
}

func (r *Reader) blockEnd() int64 {
	return r.blockEndAt(r.pos)
}

func (r *Reader) blockEndAt(pos int64) int64 {
	bs := int64(r.opts.BlockSize)
	return (pos/bs + 1) * bs
}

func (r *Reader) readAt(off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := r.src.ReadAt(buf, off); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(blobfmt.ErrTruncated, "offset %d: short read of %d bytes", off, n)
		}
		return nil, err
	}
	return buf, nil
}

func (r *Reader) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.warnings = append(r.warnings, msg)
	r.opts.Logger.Infof("%s", msg)
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func magicBytes() []byte {
	return []byte{
		byte(blobfmt.MagicNumber & 0xFF),
		byte((blobfmt.MagicNumber >> 8) & 0xFF),
		byte((blobfmt.MagicNumber >> 16) & 0xFF),
		byte((blobfmt.MagicNumber >> 24) & 0xFF),
	}
}
