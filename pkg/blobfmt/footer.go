package blobfmt

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Footer is the fixed epilogue written once when a blob log file is sealed.
// A file still being appended to has none; readers treat its absence as
// "not yet sealed".
type Footer struct {
	// BlobCount is the number of logical blobs in the file.
	BlobCount uint64

	// TTLRange and TimeRange bound the TTL-bearing and timestamped records
	// actually written; nil when no such record exists.
	TTLRange  *Range
	TimeRange *Range

	// SeqRange bounds the sequence numbers of the file's records. Always
	// present.
	SeqRange Range
}

// HasTTL reports whether the footer carries a TTL range.
func (f *Footer) HasTTL() bool { return f.TTLRange != nil }

// HasTimestamp reports whether the footer carries a timestamp range.
func (f *Footer) HasTimestamp() bool { return f.TimeRange != nil }

// Encode serializes the footer into exactly FooterSize bytes.
func (f *Footer) Encode() []byte {
	buf := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(buf[0:4], MagicNumber)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(presenceFlags(f.TTLRange, f.TimeRange)))
	binary.LittleEndian.PutUint64(buf[8:16], f.BlobCount)
	putRange(buf[16:32], f.TTLRange)
	putRange(buf[32:48], f.TimeRange)
	binary.LittleEndian.PutUint64(buf[48:56], f.SeqRange.Min)
	binary.LittleEndian.PutUint64(buf[56:64], f.SeqRange.Max)
	return buf
}

// DecodeFooter parses a Footer from the first FooterSize bytes of b.
func DecodeFooter(b []byte) (Footer, error) {
	var f Footer
	if len(b) < FooterSize {
		return f, errors.Wrapf(ErrTruncated, "footer needs %d bytes, have %d", FooterSize, len(b))
	}
	if magic := binary.LittleEndian.Uint32(b[0:4]); magic != MagicNumber {
		return f, errors.Wrapf(ErrBadMagic, "got %#x, want %#x", magic, MagicNumber)
	}
	flags := byte(binary.LittleEndian.Uint32(b[4:8]))
	f.BlobCount = binary.LittleEndian.Uint64(b[8:16])
	if flags&flagHasTTLRange != 0 {
		f.TTLRange = getRange(b[16:32])
	}
	if flags&flagHasTimeRange != 0 {
		f.TimeRange = getRange(b[32:48])
	}
	f.SeqRange.Min = binary.LittleEndian.Uint64(b[48:56])
	f.SeqRange.Max = binary.LittleEndian.Uint64(b[56:64])
	if !f.SeqRange.Valid() {
		return Footer{}, errors.Wrapf(ErrRangeInvalid, "footer sequence range [%d,%d]", f.SeqRange.Min, f.SeqRange.Max)
	}
	if f.TTLRange != nil && !f.TTLRange.Valid() {
		return Footer{}, errors.Wrapf(ErrRangeInvalid, "footer ttl range [%d,%d]", f.TTLRange.Min, f.TTLRange.Max)
	}
	if f.TimeRange != nil && !f.TimeRange.Valid() {
		return Footer{}, errors.Wrapf(ErrRangeInvalid, "footer timestamp range [%d,%d]", f.TimeRange.Min, f.TimeRange.Max)
	}
	return f, nil
}

// String renders the footer in a human readable form.
func (f *Footer) String() string {
	s := fmt.Sprintf("blobs=%d seq=[%d,%d]", f.BlobCount, f.SeqRange.Min, f.SeqRange.Max)
	if f.TTLRange != nil {
		s += fmt.Sprintf(" ttl=[%d,%d]", f.TTLRange.Min, f.TTLRange.Max)
	}
	if f.TimeRange != nil {
		s += fmt.Sprintf(" time=[%d,%d]", f.TimeRange.Min, f.TimeRange.Max)
	}
	return s
}
