// Package index maps blob keys to their location in a blob log file. Two
// implementations are provided: an in-memory hash index rebuilt from the
// log on startup, and a pebble-backed index that survives restarts.
package index

import "encoding/binary"

// Entry locates one blob inside a blob log.
type Entry struct {
	// Offset is the file offset of the blob's first physical record, as
	// returned by the log writer.
	Offset int64
	// Size is the logical blob length in bytes.
	Size uint32
	// TTL is the blob's absolute expiration; blobfmt.NoTTL when it never
	// expires. Kept here so expired keys can be filtered without a log read.
	TTL uint64
}

const entryEncodedSize = 20

func encodeEntry(e Entry) []byte {
	buf := make([]byte, entryEncodedSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(e.Offset))
	binary.LittleEndian.PutUint32(buf[8:12], e.Size)
	binary.LittleEndian.PutUint64(buf[12:20], e.TTL)
	return buf
}

func decodeEntry(b []byte) (Entry, bool) {
	if len(b) < entryEncodedSize {
		return Entry{}, false
	}
	return Entry{
		Offset: int64(binary.LittleEndian.Uint64(b[0:8])),
		Size:   binary.LittleEndian.Uint32(b[8:12]),
		TTL:    binary.LittleEndian.Uint64(b[12:20]),
	}, true
}

// Index is the key-to-location map a blob store keeps alongside its log.
type Index interface {
	Put(key []byte, entry Entry) error
	Get(key []byte) (Entry, bool, error)
	Delete(key []byte) error

	// Size returns the number of live keys.
	Size() (int, error)
	// Keys returns all live keys. Order is implementation defined.
	Keys() ([][]byte, error)

	Close() error
}
