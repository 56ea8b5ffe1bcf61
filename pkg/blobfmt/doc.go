// Package blobfmt defines the on-disk format of a Munin blob log file and
// provides pure encode/decode functions for its three structures.
//
// A blob log file stores large values out-of-line from a primary key index.
// It is laid out as:
//
//	[Header][Record]...[Record][Footer?]
//
// The Header is written once when the file is opened for writing, the
// Footer once when the file is sealed. A file that is still being appended
// to has no Footer; readers treat its absence as "not yet sealed", not as
// corruption.
//
// # Header (44 bytes)
//
//	[Magic(4)][Version(4)][Compression(1)][Flags(1)][Reserved(2)]
//	[TTLMin(8)][TTLMax(8)][TimeMin(8)][TimeMax(8)]
//
// The TTL and timestamp ranges are optional. An absent range is encoded as
// zeros with its presence bit cleared in Flags, so a genuine [0,0] range
// and an absent range round-trip distinctly.
//
// # Record (42-byte fixed header + key + payload)
//
//	[KeyLen(4)][BlobLen(8)][TTL(8)][Timestamp(8)][Type(1)][SubType(1)]
//	[Reserved(4)][HeaderCRC(4)][PayloadCRC(4)][Key][Payload]
//
// HeaderCRC covers the 34 bytes preceding it. PayloadCRC covers the key and
// payload bytes of this physical record only; for a fragmented blob each
// fragment carries its own checksum, never one over the reassembled value.
// A record is a Full blob or one fragment of a First, Middle..., Last run.
// BlobLen holds the physical payload length for Full, Middle and Last
// records and the logical total blob length for First records. A TTL equal
// to NoTTL means the record does not expire.
//
// # Footer (64 bytes)
//
//	[Magic(4)][Flags(4)][BlobCount(8)]
//	[TTLMin(8)][TTLMax(8)][TimeMin(8)][TimeMax(8)][SeqMin(8)][SeqMax(8)]
//
// The sequence number range is always present; the TTL and timestamp ranges
// follow the same presence discipline as the Header.
//
// # Format contract
//
// Every multi-byte integer is little-endian. Checksums are CRC32-C
// (Castagnoli polynomial). Both choices are part of the format and must not
// change between writers and readers. The magic number is shared by Header
// and Footer; any other value is rejected as ErrBadMagic.
//
// All functions in this package are pure: they neither retry nor perform
// I/O, and they are safe to call concurrently on independent buffers.
package blobfmt
