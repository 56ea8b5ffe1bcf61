package blobfmt

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// Header is the fixed prologue of a blob log file. The magic number is not
// stored here: Encode writes MagicNumber and DecodeHeader rejects anything
// else.
type Header struct {
	Version     uint32
	Compression CompressionType

	// TTLRange and TimeRange are the writer's guesses at the TTL and
	// timestamp bounds of the file's records. nil means the file carries no
	// such bound, which is distinct from a [0,0] range.
	TTLRange  *Range
	TimeRange *Range
}

// NewHeader returns a Header at the current format version.
func NewHeader(compression CompressionType) Header {
	return Header{Version: FormatVersion, Compression: compression}
}

// HasTTL reports whether the header carries a TTL range.
func (h *Header) HasTTL() bool { return h.TTLRange != nil }

// HasTimestamp reports whether the header carries a timestamp range.
func (h *Header) HasTimestamp() bool { return h.TimeRange != nil }

// Encode serializes the header into exactly HeaderSize bytes.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], MagicNumber)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	buf[8] = byte(h.Compression)
	buf[9] = presenceFlags(h.TTLRange, h.TimeRange)
	// buf[10:12] reserved, zero.
	putRange(buf[12:28], h.TTLRange)
	putRange(buf[28:44], h.TimeRange)
	return buf
}

// DecodeHeader parses a Header from the first HeaderSize bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, errors.Wrapf(ErrTruncated, "header needs %d bytes, have %d", HeaderSize, len(b))
	}
	if magic := binary.LittleEndian.Uint32(b[0:4]); magic != MagicNumber {
		return h, errors.Wrapf(ErrBadMagic, "got %#x, want %#x", magic, MagicNumber)
	}
	h.Version = binary.LittleEndian.Uint32(b[4:8])
	h.Compression = CompressionType(b[8])
	flags := b[9]
	if flags&flagHasTTLRange != 0 {
		h.TTLRange = getRange(b[12:28])
	}
	if flags&flagHasTimeRange != 0 {
		h.TimeRange = getRange(b[28:44])
	}
	if h.TTLRange != nil && !h.TTLRange.Valid() {
		return Header{}, errors.Wrapf(ErrRangeInvalid, "header ttl range [%d,%d]", h.TTLRange.Min, h.TTLRange.Max)
	}
	if h.TimeRange != nil && !h.TimeRange.Valid() {
		return Header{}, errors.Wrapf(ErrRangeInvalid, "header timestamp range [%d,%d]", h.TimeRange.Min, h.TimeRange.Max)
	}
	return h, nil
}

func presenceFlags(ttl, ts *Range) byte {
	var flags byte
	if ttl != nil {
		flags |= flagHasTTLRange
	}
	if ts != nil {
		flags |= flagHasTimeRange
	}
	return flags
}

// putRange writes r into 16 bytes of dst, zeros when absent.
func putRange(dst []byte, r *Range) {
	if r == nil {
		return
	}
	binary.LittleEndian.PutUint64(dst[0:8], r.Min)
	binary.LittleEndian.PutUint64(dst[8:16], r.Max)
}

func getRange(src []byte) *Range {
	return &Range{
		Min: binary.LittleEndian.Uint64(src[0:8]),
		Max: binary.LittleEndian.Uint64(src[8:16]),
	}
}
