package blobfmt

import "github.com/cockroachdb/errors"

// Decode errors. Callers should match with errors.Is: decode functions and
// the bloblog reader wrap these sentinels with positional context.
var (
	// ErrTruncated is returned when a buffer is too short for the structure
	// being decoded. If the source file is still being written this may
	// resolve by waiting for more bytes; otherwise it marks the point where
	// a crash cut the file short.
	ErrTruncated = errors.New("blobfmt: truncated input")

	// ErrBadMagic is returned when the magic number field does not hold
	// MagicNumber. The file is not a blob log, or the format has drifted.
	ErrBadMagic = errors.New("blobfmt: bad magic number")

	// ErrHeaderChecksum is returned when a record's fixed header fails its
	// checksum.
	ErrHeaderChecksum = errors.New("blobfmt: record header checksum mismatch")

	// ErrPayloadChecksum is returned when a record's key+payload bytes fail
	// their checksum.
	ErrPayloadChecksum = errors.New("blobfmt: record payload checksum mismatch")

	// ErrBadRecordType is returned when a record header carries an unknown
	// type or subtype despite a valid checksum.
	ErrBadRecordType = errors.New("blobfmt: unknown record type")

	// ErrFragmentLength is reported when a fragment run's accumulated
	// payload does not match the logical length declared by its First
	// record.
	ErrFragmentLength = errors.New("blobfmt: fragment length mismatch")

	// ErrOverlappingFragments is reported when a new blob begins while a
	// fragment run is still open, or a fragment arrives for a different key.
	ErrOverlappingFragments = errors.New("blobfmt: overlapping fragment runs")

	// ErrRecordSyncLost is reported when bytes at an expected record
	// boundary parse as neither a record nor a footer.
	ErrRecordSyncLost = errors.New("blobfmt: record boundary lost")

	// ErrRangeInvalid is returned when a decoded range has min > max.
	ErrRangeInvalid = errors.New("blobfmt: invalid range")
)

// IsCorruption reports whether err indicates damaged or foreign bytes, as
// opposed to a clean truncation.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrBadMagic) ||
		errors.Is(err, ErrHeaderChecksum) ||
		errors.Is(err, ErrPayloadChecksum) ||
		errors.Is(err, ErrBadRecordType) ||
		errors.Is(err, ErrFragmentLength) ||
		errors.Is(err, ErrOverlappingFragments) ||
		errors.Is(err, ErrRecordSyncLost) ||
		errors.Is(err, ErrRangeInvalid)
}
