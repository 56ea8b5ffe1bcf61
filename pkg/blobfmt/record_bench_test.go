//go:build bench
// +build bench

package blobfmt

import (
	"bytes"
	"testing"
)

var benchSizes = []struct {
	name    string
	key     []byte
	payload []byte
}{
	{
		name:    "small",
		key:     []byte("user:123"),
		payload: []byte("john@example.com"),
	},
	{
		name:    "medium",
		key:     bytes.Repeat([]byte("k"), 100),
		payload: bytes.Repeat([]byte("v"), 4096),
	},
	{
		name:    "large",
		key:     bytes.Repeat([]byte("k"), 1000),
		payload: bytes.Repeat([]byte("v"), 256*1024),
	},
}

func BenchmarkEncodeRecord(b *testing.B) {
	for _, bm := range benchSizes {
		b.Run(bm.name, func(b *testing.B) {
			hdr := RecordHeader{BlobLen: uint64(len(bm.payload)), TTL: NoTTL, Type: RecordFull}
			b.SetBytes(int64(RecordHeaderSize + len(bm.key) + len(bm.payload)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = EncodeRecord(hdr, bm.key, bm.payload)
			}
		})
	}
}

func BenchmarkDecodeRecord(b *testing.B) {
	for _, bm := range benchSizes {
		b.Run(bm.name, func(b *testing.B) {
			hdr := RecordHeader{BlobLen: uint64(len(bm.payload)), TTL: NoTTL, Type: RecordFull}
			encoded := EncodeRecord(hdr, bm.key, bm.payload)
			b.SetBytes(int64(len(encoded)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				decoded, err := DecodeRecordHeader(encoded)
				if err != nil {
					b.Fatal(err)
				}
				if _, _, err := DecodeRecordBody(decoded, len(bm.payload), encoded[RecordHeaderSize:]); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
