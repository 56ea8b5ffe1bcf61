package bloblog

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/munindb/munin/pkg/blobfmt"
)

// craftLog writes a file assembled from raw format pieces, for tests that
// need byte-level control a well-behaved Writer will not give them.
func craftLog(t *testing.T, parts ...[]byte) string {
	t.Helper()
	path := tmpLog(t)
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(p)
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))
	return path
}

func encodeHeader(t *testing.T) []byte {
	t.Helper()
	header := blobfmt.NewHeader(blobfmt.CompressionNone)
	return header.Encode()
}

func encodeRec(rt blobfmt.RecordType, blobLen uint64, key, payload []byte) []byte {
	return blobfmt.EncodeRecord(blobfmt.RecordHeader{
		BlobLen: blobLen,
		TTL:     blobfmt.NoTTL,
		Type:    rt,
	}, key, payload)
}

func openReader(t *testing.T, path string, opts ReaderOptions) *FileReader {
	t.Helper()
	r, err := OpenFileReader(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestReader_SealedSingleRecord(t *testing.T) {
	path := tmpLog(t)
	w, err := NewWriter(WriterConfig{FilePath: path})
	require.NoError(t, err)
	blob := bytes.Repeat([]byte("v"), 500)
	_, err = w.Append([]byte("k1"), blob, AppendOptions{SeqNum: 10})
	require.NoError(t, err)
	_, err = w.Seal()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := openReader(t, path, ReaderOptions{})

	entry, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("k1"), entry.Key)
	assert.Equal(t, blob, entry.Blob)
	assert.Equal(t, int64(blobfmt.HeaderSize), entry.Offset)
	assert.Equal(t, uint64(0), entry.SeqNum)
	assert.False(t, entry.HasTTL())

	_, err = r.Next()
	require.Equal(t, io.EOF, err)
	assert.True(t, r.Sealed())
	require.NotNil(t, r.Footer())
	assert.Equal(t, uint64(1), r.Footer().BlobCount)
	assert.Equal(t, blobfmt.Range{Min: 10, Max: 10}, r.Footer().SeqRange)
	assert.Empty(t, r.Warnings())
	assert.Equal(t, uint64(1), r.EntryCount())
	assert.Equal(t, int64(blobfmt.HeaderSize+blobfmt.RecordHeaderSize+2+500), r.LastGoodOffset())
}

func TestReader_TruncatedFooter(t *testing.T) {
	path := tmpLog(t)
	w, err := NewWriter(WriterConfig{FilePath: path})
	require.NoError(t, err)
	_, err = w.Append([]byte("k1"), bytes.Repeat([]byte("v"), 500), AppendOptions{})
	require.NoError(t, err)
	_, err = w.Seal()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Chop the last 10 bytes off the footer, as a crash mid-seal would.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	short := craftLog(t, data[:len(data)-10])

	r := openReader(t, short, ReaderOptions{})

	entry, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("k1"), entry.Key)
	good := r.LastGoodOffset()

	_, err = r.Next()
	require.ErrorIs(t, err, blobfmt.ErrTruncated)
	assert.False(t, r.Sealed())
	assert.Nil(t, r.Footer())
	assert.Equal(t, good, r.LastGoodOffset())

	// Terminal: the reader does not resurrect.
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReader_TruncatedMidRecord(t *testing.T) {
	path := tmpLog(t)
	w, err := NewWriter(WriterConfig{FilePath: path})
	require.NoError(t, err)
	_, err = w.Append([]byte("k1"), bytes.Repeat([]byte("v"), 500), AppendOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	short := craftLog(t, data[:300])

	r := openReader(t, short, ReaderOptions{})
	_, err = r.Next()
	require.ErrorIs(t, err, blobfmt.ErrTruncated)
	assert.Equal(t, uint64(0), r.EntryCount())
	assert.Equal(t, int64(blobfmt.HeaderSize), r.LastGoodOffset())
}

func TestReader_FragmentedRoundTrip(t *testing.T) {
	const blockSize = 256
	path := tmpLog(t)
	w, err := NewWriter(WriterConfig{FilePath: path, BlockSize: blockSize})
	require.NoError(t, err)

	big := bytes.Repeat([]byte("0123456789"), 100)
	offA, err := w.Append([]byte("a"), []byte("small"), AppendOptions{SeqNum: 1})
	require.NoError(t, err)
	offBig, err := w.Append([]byte("big"), big, AppendOptions{SeqNum: 2})
	require.NoError(t, err)
	offZ, err := w.Append([]byte("z"), []byte("tail"), AppendOptions{SeqNum: 3})
	require.NoError(t, err)
	_, err = w.Seal()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := openReader(t, path, ReaderOptions{BlockSize: blockSize})

	e1, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), e1.Key)
	assert.Equal(t, []byte("small"), e1.Blob)
	assert.Equal(t, offA, e1.Offset)

	e2, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("big"), e2.Key)
	assert.Equal(t, big, e2.Blob)
	assert.Equal(t, offBig, e2.Offset)

	e3, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("z"), e3.Key)
	assert.Equal(t, offZ, e3.Offset)

	_, err = r.Next()
	require.Equal(t, io.EOF, err)
	assert.True(t, r.Sealed())
	assert.Equal(t, uint64(3), r.Footer().BlobCount)
	assert.Equal(t, blobfmt.Range{Min: 1, Max: 3}, r.Footer().SeqRange)
	assert.Empty(t, r.Warnings())
}

func TestReader_ReadEntryAt(t *testing.T) {
	const blockSize = 256
	path := tmpLog(t)
	w, err := NewWriter(WriterConfig{FilePath: path, BlockSize: blockSize})
	require.NoError(t, err)

	big := bytes.Repeat([]byte("B"), 700)
	offA, err := w.Append([]byte("a"), []byte("alpha"), AppendOptions{})
	require.NoError(t, err)
	offBig, err := w.Append([]byte("big"), big, AppendOptions{})
	require.NoError(t, err)
	_, err = w.Seal()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := openReader(t, path, ReaderOptions{BlockSize: blockSize})

	entry, err := r.ReadEntryAt(offBig)
	require.NoError(t, err)
	assert.Equal(t, []byte("big"), entry.Key)
	assert.Equal(t, big, entry.Blob)

	entry, err = r.ReadEntryAt(offA)
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), entry.Blob)

	// Point lookups do not disturb the sequential scan.
	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, offA, first.Offset)
}

func TestReader_TTLAndTimestamp(t *testing.T) {
	path := tmpLog(t)
	w, err := NewWriter(WriterConfig{FilePath: path})
	require.NoError(t, err)
	_, err = w.Append([]byte("t"), []byte("expiring"), AppendOptions{TTL: 500})
	require.NoError(t, err)
	_, err = w.Append([]byte("s"), []byte("stamped"), AppendOptions{Timestamp: 1234})
	require.NoError(t, err)
	_, err = w.Seal()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := openReader(t, path, ReaderOptions{})

	e1, err := r.Next()
	require.NoError(t, err)
	require.True(t, e1.HasTTL())
	assert.Equal(t, uint64(500), e1.TTL)
	assert.False(t, e1.Expired(400))
	assert.True(t, e1.Expired(500))

	e2, err := r.Next()
	require.NoError(t, err)
	assert.False(t, e2.HasTTL())
	assert.Equal(t, uint64(1234), e2.Timestamp)

	_, err = r.Next()
	require.Equal(t, io.EOF, err)
	footer := r.Footer()
	require.NotNil(t, footer)
	assert.Equal(t, &blobfmt.Range{Min: 500, Max: 500}, footer.TTLRange)
	assert.Equal(t, &blobfmt.Range{Min: 1234, Max: 1234}, footer.TimeRange)
	assert.Empty(t, r.Warnings())
}

func TestReader_UnsealedEndsCleanly(t *testing.T) {
	path := tmpLog(t)
	w, err := NewWriter(WriterConfig{FilePath: path})
	require.NoError(t, err)
	_, err = w.Append([]byte("k"), []byte("v"), AppendOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := openReader(t, path, ReaderOptions{})
	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	require.Equal(t, io.EOF, err)
	assert.False(t, r.Sealed())
	assert.Nil(t, r.Footer())
}

func TestReader_RequireSealed(t *testing.T) {
	path := tmpLog(t)
	w, err := NewWriter(WriterConfig{FilePath: path})
	require.NoError(t, err)
	_, err = w.Append([]byte("k"), []byte("v"), AppendOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := openReader(t, path, ReaderOptions{RequireSealed: true})
	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, blobfmt.ErrTruncated)
}

func TestReader_PayloadCorruptionSkipsRecord(t *testing.T) {
	path := tmpLog(t)
	w, err := NewWriter(WriterConfig{FilePath: path})
	require.NoError(t, err)
	_, err = w.Append([]byte("k1"), []byte("first"), AppendOptions{})
	require.NoError(t, err)
	off2, err := w.Append([]byte("k2"), []byte("second"), AppendOptions{})
	require.NoError(t, err)
	_, err = w.Append([]byte("k3"), []byte("third"), AppendOptions{})
	require.NoError(t, err)
	_, err = w.Seal()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[off2+blobfmt.RecordHeaderSize+2] ^= 0xFF // first payload byte of k2
	require.NoError(t, os.WriteFile(path, data, 0600))

	metrics := NewMetrics(prometheus.NewRegistry())
	r := openReader(t, path, ReaderOptions{Metrics: metrics})

	e1, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("k1"), e1.Key)

	// The damaged record is reported and skipped; the scan stays in sync.
	_, err = r.Next()
	require.ErrorIs(t, err, blobfmt.ErrPayloadChecksum)

	e3, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("k3"), e3.Key)

	_, err = r.Next()
	require.Equal(t, io.EOF, err)
	assert.True(t, r.Sealed())
	// Footer says three blobs, only two survived.
	assert.Len(t, r.Warnings(), 1)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.entriesYielded))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.corruptionEvents))
}

func TestReader_HeaderCorruptionAborts(t *testing.T) {
	path := tmpLog(t)
	w, err := NewWriter(WriterConfig{FilePath: path})
	require.NoError(t, err)
	_, err = w.Append([]byte("k1"), []byte("first"), AppendOptions{})
	require.NoError(t, err)
	off2, err := w.Append([]byte("k2"), []byte("second"), AppendOptions{})
	require.NoError(t, err)
	_, err = w.Append([]byte("k3"), []byte("third"), AppendOptions{})
	require.NoError(t, err)
	_, err = w.Seal()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[off2+2] ^= 0xFF // inside k2's fixed header
	require.NoError(t, os.WriteFile(path, data, 0600))

	r := openReader(t, path, ReaderOptions{})
	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	require.ErrorIs(t, err, blobfmt.ErrHeaderChecksum)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
	assert.False(t, r.Sealed())
}

func TestReader_HeaderCorruptionResyncScan(t *testing.T) {
	path := tmpLog(t)
	w, err := NewWriter(WriterConfig{FilePath: path})
	require.NoError(t, err)
	_, err = w.Append([]byte("k1"), []byte("first"), AppendOptions{})
	require.NoError(t, err)
	off2, err := w.Append([]byte("k2"), []byte("second"), AppendOptions{})
	require.NoError(t, err)
	_, err = w.Append([]byte("k3"), []byte("third"), AppendOptions{})
	require.NoError(t, err)
	_, err = w.Seal()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[off2+2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0600))

	r := openReader(t, path, ReaderOptions{Resync: ResyncScan})
	e1, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("k1"), e1.Key)

	_, err = r.Next()
	require.ErrorIs(t, err, blobfmt.ErrHeaderChecksum)

	// The scan found the next record boundary; k2 is lost, k3 survives.
	e3, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("k3"), e3.Key)

	_, err = r.Next()
	require.Equal(t, io.EOF, err)
	assert.True(t, r.Sealed())
	assert.NotEmpty(t, r.Warnings())
}

func TestReader_FragmentLengthMismatch(t *testing.T) {
	const blockSize = 128
	// First declares 100 logical bytes; the run only delivers 41+30.
	first := encodeRec(blobfmt.RecordFirst, 100, []byte("k"), bytes.Repeat([]byte("f"), 41))
	last := encodeRec(blobfmt.RecordLast, 30, []byte("k"), bytes.Repeat([]byte("l"), 30))
	path := craftLog(t, encodeHeader(t), first, last)

	r := openReader(t, path, ReaderOptions{BlockSize: blockSize})
	_, err := r.Next()
	require.ErrorIs(t, err, blobfmt.ErrFragmentLength)
	assert.Equal(t, uint64(0), r.EntryCount())
	assert.Equal(t, int64(blobfmt.HeaderSize), r.LastGoodOffset())

	// The run is discarded, no partial entry leaks out.
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReader_OverlappingFragmentRuns(t *testing.T) {
	const blockSize = 128
	// A run for "k" never closes; a second run for "q" starts and completes.
	firstK := encodeRec(blobfmt.RecordFirst, 100, []byte("k"), bytes.Repeat([]byte("f"), 41))
	firstQ := encodeRec(blobfmt.RecordFirst, 105, []byte("q"), bytes.Repeat([]byte("q"), 85))
	lastQ := encodeRec(blobfmt.RecordLast, 20, []byte("q"), bytes.Repeat([]byte("Q"), 20))
	path := craftLog(t, encodeHeader(t), firstK, firstQ, lastQ)

	r := openReader(t, path, ReaderOptions{BlockSize: blockSize})

	_, err := r.Next()
	require.ErrorIs(t, err, blobfmt.ErrOverlappingFragments)

	// The cursor was left on the offending First, so the new run is readable.
	entry, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("q"), entry.Key)
	assert.Equal(t, append(bytes.Repeat([]byte("q"), 85), bytes.Repeat([]byte("Q"), 20)...), entry.Blob)
	assert.Equal(t, int64(blockSize), entry.Offset)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReader_OrphanFragment(t *testing.T) {
	middle := encodeRec(blobfmt.RecordMiddle, 10, []byte("k"), bytes.Repeat([]byte("m"), 10))
	path := craftLog(t, encodeHeader(t), middle)

	r := openReader(t, path, ReaderOptions{})
	_, err := r.Next()
	require.ErrorIs(t, err, blobfmt.ErrRecordSyncLost)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReader_SkipsZeroPadding(t *testing.T) {
	const blockSize = 160
	// Block 0 holds the file header plus one record, then 71 bytes of zeros,
	// enough to look like a (zeroed) record header. Block 1 holds a record.
	rec1 := encodeRec(blobfmt.RecordFull, 2, []byte("a"), []byte("xy"))
	pad := make([]byte, blockSize-blobfmt.HeaderSize-len(rec1))
	rec2 := encodeRec(blobfmt.RecordFull, 3, []byte("b"), []byte("end"))
	path := craftLog(t, encodeHeader(t), rec1, pad, rec2)

	r := openReader(t, path, ReaderOptions{BlockSize: blockSize})

	e1, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), e1.Key)

	e2, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), e2.Key)
	assert.Equal(t, int64(blockSize), e2.Offset)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReader_NonZeroPaddingLosesSync(t *testing.T) {
	const blockSize = 160
	rec1 := encodeRec(blobfmt.RecordFull, 2, []byte("a"), []byte("xy"))
	pad := make([]byte, blockSize-blobfmt.HeaderSize-len(rec1))
	pad[3] = 0x7F
	rec2 := encodeRec(blobfmt.RecordFull, 3, []byte("b"), []byte("end"))
	path := craftLog(t, encodeHeader(t), rec1, pad, rec2)

	r := openReader(t, path, ReaderOptions{BlockSize: blockSize, Resync: ResyncScan})

	_, err := r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	require.Error(t, err)

	// Resync lands on the record at the next block boundary.
	e2, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), e2.Key)
}

func TestReader_BadMagic(t *testing.T) {
	header := encodeHeader(t)
	header[0] ^= 0xFF
	path := craftLog(t, header)

	r := openReader(t, path, ReaderOptions{})
	_, err := r.Next()
	require.ErrorIs(t, err, blobfmt.ErrBadMagic)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReader_FileShorterThanHeader(t *testing.T) {
	path := craftLog(t, []byte("too short"))

	r := openReader(t, path, ReaderOptions{})
	_, err := r.Header()
	require.ErrorIs(t, err, blobfmt.ErrTruncated)
}

func TestReader_EmptySealedFile(t *testing.T) {
	path := tmpLog(t)
	w, err := NewWriter(WriterConfig{FilePath: path})
	require.NoError(t, err)
	_, err = w.Seal()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := openReader(t, path, ReaderOptions{})
	_, err = r.Next()
	require.Equal(t, io.EOF, err)
	assert.True(t, r.Sealed())
	assert.Equal(t, uint64(0), r.Footer().BlobCount)
}

func TestReader_CorruptionErrorsCarryOffset(t *testing.T) {
	middle := encodeRec(blobfmt.RecordMiddle, 10, []byte("k"), bytes.Repeat([]byte("m"), 10))
	path := craftLog(t, encodeHeader(t), middle)

	r := openReader(t, path, ReaderOptions{})
	_, err := r.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offset 44")
	assert.True(t, blobfmt.IsCorruption(err))
	assert.True(t, errors.Is(err, blobfmt.ErrRecordSyncLost))
}
