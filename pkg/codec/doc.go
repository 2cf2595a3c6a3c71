// Package codec provides record serialization and deserialization for basekv.
//
// Every entry in the append log is one self-describing frame:
//
//	[CRC32(4)][KeySize(4)][ValueSize(4)][Key][Value]
//
// All header integers are unsigned little-endian. The checksum is the IEEE
// CRC32 of the key bytes followed by the value bytes; the header fields are
// not covered. Frames are packed back to back with no padding and no file
// header, so a log is valid when it is a concatenation of complete frames.
//
// # Decoding
//
// Decode works on a frame already held in memory. DecodeFrom reads one frame
// from a stream and distinguishes three outcomes besides success:
//
//   - io.EOF: the stream ended exactly on a frame boundary (end of log)
//   - ErrTruncatedRecord: the stream ended inside a header or payload
//   - ErrChecksumMismatch (as a *ChecksumError): the payload is corrupt
//
// A checksum mismatch is never repaired or skipped here; callers decide what
// to do, and the store treats it as fatal.
//
// Keys and values are arbitrary bytes. Each is limited to the 32-bit length
// field; NewRecord panics beyond that.
package codec
