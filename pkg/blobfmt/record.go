package blobfmt

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// Record header byte offsets.
const (
	recKeyLenOff     = 0
	recBlobLenOff    = 4
	recTTLOff        = 12
	recTimestampOff  = 20
	recTypeOff       = 28
	recSubTypeOff    = 29
	recReservedOff   = 30
	recHeaderCRCOff  = 34
	recPayloadCRCOff = 38
)

// RecordHeader is the decoded fixed portion of a record. The key and
// payload bytes follow it on disk and are handled by DecodeRecordBody.
type RecordHeader struct {
	// KeyLen is the number of key bytes following the header.
	KeyLen uint32
	// BlobLen is the payload length of this record for Full, Middle and
	// Last records, and the logical total blob length for First records.
	BlobLen uint64
	// TTL is the record's expiration, NoTTL if the record never expires.
	// Meaningful only when SubType is SubTypeTTL.
	TTL uint64
	// Timestamp is the record's write time. Meaningful only when SubType is
	// SubTypeTimestamp, recorded regardless.
	Timestamp uint64
	Type      RecordType
	SubType   RecordSubType
	// HeaderCRC covers the header bytes preceding it; PayloadCRC covers the
	// key and payload of this physical record.
	HeaderCRC  uint32
	PayloadCRC uint32
}

// HasTTL reports whether the record carries a meaningful expiration.
func (h *RecordHeader) HasTTL() bool {
	return h.SubType == SubTypeTTL && h.TTL != NoTTL
}

// EncodeRecord serializes one physical record: the fixed header with both
// checksums computed, followed by key and payload. hdr.HeaderCRC and
// hdr.PayloadCRC are ignored on input. For fragment records the payload is
// the bytes assigned to that fragment, not the whole blob; the caller sets
// hdr.BlobLen accordingly.
func EncodeRecord(hdr RecordHeader, key, payload []byte) []byte {
	buf := make([]byte, RecordHeaderSize+len(key)+len(payload))
	binary.LittleEndian.PutUint32(buf[recKeyLenOff:], uint32(len(key)))
	binary.LittleEndian.PutUint64(buf[recBlobLenOff:], hdr.BlobLen)
	binary.LittleEndian.PutUint64(buf[recTTLOff:], hdr.TTL)
	binary.LittleEndian.PutUint64(buf[recTimestampOff:], hdr.Timestamp)
	buf[recTypeOff] = byte(hdr.Type)
	buf[recSubTypeOff] = byte(hdr.SubType)
	// buf[recReservedOff:recHeaderCRCOff] reserved, zero.
	binary.LittleEndian.PutUint32(buf[recHeaderCRCOff:], Checksum(buf[:recHeaderCRCOff]))
	payloadCRC := checksumUpdate(Checksum(key), payload)
	binary.LittleEndian.PutUint32(buf[recPayloadCRCOff:], payloadCRC)
	copy(buf[RecordHeaderSize:], key)
	copy(buf[RecordHeaderSize+len(key):], payload)
	return buf
}

// DecodeRecordHeader parses and validates the fixed 42-byte record header.
// The payload checksum is not verified here; the payload bytes are not yet
// available at this point.
func DecodeRecordHeader(b []byte) (RecordHeader, error) {
	var h RecordHeader
	if len(b) < RecordHeaderSize {
		return h, errors.Wrapf(ErrTruncated, "record header needs %d bytes, have %d", RecordHeaderSize, len(b))
	}
	stored := binary.LittleEndian.Uint32(b[recHeaderCRCOff:recPayloadCRCOff])
	if actual := Checksum(b[:recHeaderCRCOff]); actual != stored {
		return h, errors.Wrapf(ErrHeaderChecksum, "stored %#x, computed %#x", stored, actual)
	}
	h.KeyLen = binary.LittleEndian.Uint32(b[recKeyLenOff:])
	h.BlobLen = binary.LittleEndian.Uint64(b[recBlobLenOff:])
	h.TTL = binary.LittleEndian.Uint64(b[recTTLOff:])
	h.Timestamp = binary.LittleEndian.Uint64(b[recTimestampOff:])
	h.Type = RecordType(b[recTypeOff])
	h.SubType = RecordSubType(b[recSubTypeOff])
	h.HeaderCRC = stored
	h.PayloadCRC = binary.LittleEndian.Uint32(b[recPayloadCRCOff:])
	if h.Type > maxRecordType {
		return RecordHeader{}, errors.Wrapf(ErrBadRecordType, "type %d", h.Type)
	}
	if h.SubType > maxRecordSubType {
		return RecordHeader{}, errors.Wrapf(ErrBadRecordType, "subtype %d", h.SubType)
	}
	return h, nil
}

// DecodeRecordBody splits the bytes following a record header into key and
// payload and verifies the payload checksum. payloadLen is the physical
// payload length of this record: hdr.BlobLen for Full, Middle and Last
// records, or the externally framed fragment length for First records.
func DecodeRecordBody(hdr RecordHeader, payloadLen int, b []byte) (key, payload []byte, err error) {
	need := int(hdr.KeyLen) + payloadLen
	if len(b) < need {
		return nil, nil, errors.Wrapf(ErrTruncated, "record body needs %d bytes, have %d", need, len(b))
	}
	key = b[:hdr.KeyLen]
	payload = b[hdr.KeyLen:need]
	actual := checksumUpdate(Checksum(key), payload)
	if actual != hdr.PayloadCRC {
		return nil, nil, errors.Wrapf(ErrPayloadChecksum, "stored %#x, computed %#x", hdr.PayloadCRC, actual)
	}
	return key, payload, nil
}
