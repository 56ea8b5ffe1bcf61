package blobfmt

import (
	"hash/crc32"
	"math"
)

// MagicNumber identifies a Munin blob log file. It appears at the start of
// the Header and the Footer; any other value is rejected as ErrBadMagic.
const MagicNumber uint32 = 0x626C6F67 // "blog"

// FormatVersion is the current blob log format version.
const FormatVersion uint32 = 1

// Fixed structure sizes in bytes. These are part of the wire format.
const (
	HeaderSize       = 44
	RecordHeaderSize = 42
	FooterSize       = 64
)

// NoTTL is the sentinel TTL value meaning "this record never expires".
const NoTTL uint64 = math.MaxUint64

// DefaultBlockSize is the default framing block size. Records never cross
// a block boundary; see the bloblog package for the framing rules.
const DefaultBlockSize = 32 * 1024

// RecordType describes how a physical record relates to a logical blob.
type RecordType uint8

const (
	// RecordFull is a complete blob in a single record.
	RecordFull RecordType = 0
	// RecordFirst opens a fragment run and declares the logical blob length.
	RecordFirst RecordType = 1
	// RecordMiddle continues a fragment run.
	RecordMiddle RecordType = 2
	// RecordLast closes a fragment run.
	RecordLast RecordType = 3

	maxRecordType = RecordLast
)

// String returns a short name for the record type.
func (t RecordType) String() string {
	switch t {
	case RecordFull:
		return "full"
	case RecordFirst:
		return "first"
	case RecordMiddle:
		return "middle"
	case RecordLast:
		return "last"
	}
	return "invalid"
}

// RecordSubType marks which of the record's optional fields are meaningful.
type RecordSubType uint8

const (
	// SubTypeRegular carries neither a TTL nor a timestamp of interest.
	SubTypeRegular RecordSubType = 0
	// SubTypeTTL marks the TTL field as meaningful.
	SubTypeTTL RecordSubType = 1
	// SubTypeTimestamp marks the timestamp field as meaningful.
	SubTypeTimestamp RecordSubType = 2

	maxRecordSubType = SubTypeTimestamp
)

// CompressionType identifies the compression applied to blob payloads. The
// value is opaque to this package: it is stored in the Header and passed
// through, never interpreted.
type CompressionType uint8

// CompressionNone means payloads are stored uncompressed.
const CompressionNone CompressionType = 0

// Range is a closed [Min, Max] interval of unsigned 64-bit values. Optional
// ranges are modeled as *Range: nil means absent, which is distinct from a
// present [0,0] range.
type Range struct {
	Min uint64
	Max uint64
}

// Valid reports whether the range is well formed.
func (r Range) Valid() bool {
	return r.Min <= r.Max
}

// Extend grows the range to include v.
func (r *Range) Extend(v uint64) {
	if v < r.Min {
		r.Min = v
	}
	if v > r.Max {
		r.Max = v
	}
}

// Presence flag bits shared by the Header and Footer encodings.
const (
	flagHasTTLRange  = 1 << 0
	flagHasTimeRange = 1 << 1
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the CRC32-C checksum used throughout the format.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

func checksumUpdate(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, castagnoli, data)
}
