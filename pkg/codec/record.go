package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// HeaderSize is the fixed prefix of every frame: CRC32(4) + KeySize(4) + ValueSize(4)
const HeaderSize = 12

// Record represents one framed key-value entry of the log
type Record struct {
	CRC32     uint32 // CRC32 of Key||Value
	KeySize   uint32 // Size of the key in bytes
	ValueSize uint32 // Size of the value in bytes
	Key       []byte // Key data
	Value     []byte // Value data
}

// KeyValuePair is a decoded record stripped of its framing
type KeyValuePair struct {
	Key   []byte
	Value []byte
}

// RecordCodec handles serialization and deserialization of records
type RecordCodec struct{}

// NewRecordCodec creates a new record codec instance
func NewRecordCodec() *RecordCodec {
	return &RecordCodec{}
}

// Encode serializes a key-value pair into a binary frame
// Format: [CRC32(4)][KeySize(4)][ValueSize(4)][Key][Value]
func (c *RecordCodec) Encode(key, value []byte) ([]byte, error) {
	r := NewRecord(key, value)
	r.CRC32 = r.calculateCRC32()

	buf := make([]byte, r.Size())

	binary.LittleEndian.PutUint32(buf[0:], r.CRC32)
	binary.LittleEndian.PutUint32(buf[4:], r.KeySize)
	binary.LittleEndian.PutUint32(buf[8:], r.ValueSize)
	copy(buf[HeaderSize:], r.Key)
	copy(buf[HeaderSize+int(r.KeySize):], r.Value)

	return buf, nil
}

// Decode deserializes a complete frame held in memory and verifies its checksum
func (c *RecordCodec) Decode(data []byte) (*Record, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncatedRecord, len(data), HeaderSize)
	}

	r := &Record{}
	r.CRC32 = binary.LittleEndian.Uint32(data[0:4])
	r.KeySize = binary.LittleEndian.Uint32(data[4:8])
	r.ValueSize = binary.LittleEndian.Uint32(data[8:12])

	need := uint64(HeaderSize) + uint64(r.KeySize) + uint64(r.ValueSize)
	if uint64(len(data)) < need {
		return nil, fmt.Errorf("%w: %d bytes, frame needs %d", ErrTruncatedRecord, len(data), need)
	}

	keyEnd := HeaderSize + int(r.KeySize)
	r.Key = data[HeaderSize:keyEnd]
	r.Value = data[keyEnd : keyEnd+int(r.ValueSize)]

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// DecodeFrom reads exactly one frame from r.
//
// A reader that is exhausted before the first header byte yields io.EOF,
// the normal end of a log. A reader exhausted anywhere later yields
// ErrTruncatedRecord. The caller owns positioning; DecodeFrom only consumes
// the bytes of the frame it returns.
func (c *RecordCodec) DecodeFrom(rd io.Reader) (*Record, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(rd, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: partial header: %w", ErrTruncatedRecord, err)
		}
		return nil, err
	}

	r := &Record{
		CRC32:     binary.LittleEndian.Uint32(header[0:4]),
		KeySize:   binary.LittleEndian.Uint32(header[4:8]),
		ValueSize: binary.LittleEndian.Uint32(header[8:12]),
	}

	// Read through a limit so a corrupted length cannot force a huge allocation up front.
	dataLen := int64(r.KeySize) + int64(r.ValueSize)
	data, err := io.ReadAll(io.LimitReader(rd, dataLen))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != dataLen {
		return nil, fmt.Errorf("%w: payload has %d of %d bytes: %w",
			ErrTruncatedRecord, len(data), dataLen, io.ErrUnexpectedEOF)
	}

	r.Key = data[:r.KeySize:r.KeySize]
	r.Value = data[r.KeySize:]

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the integrity of a record using CRC32
func (r *Record) Validate() error {
	if sum := r.calculateCRC32(); r.CRC32 != sum {
		return &ChecksumError{Stored: r.CRC32, Computed: sum}
	}

	return nil
}

// Size returns the total size of the record when encoded
func (r *Record) Size() int {
	return HeaderSize + len(r.Key) + len(r.Value)
}

// Pair drops the framing fields
func (r *Record) Pair() KeyValuePair {
	return KeyValuePair{Key: r.Key, Value: r.Value}
}

// NewRecord creates an unsealed record; Encode fills in the checksum
func NewRecord(key, value []byte) *Record {
	keyLen := len(key)
	valLen := len(value)
	if uint64(keyLen) > uint64(^uint32(0)) {
		panic("key too large")
	}
	if uint64(valLen) > uint64(^uint32(0)) {
		panic("value too large")
	}
	return &Record{
		KeySize:   uint32(keyLen),
		ValueSize: uint32(valLen),
		Key:       key,
		Value:     value,
	}
}

// EncodedSize is the number of bytes Encode produces for key and value
func EncodedSize(key, value []byte) uint64 {
	return uint64(HeaderSize) + uint64(len(key)) + uint64(len(value))
}

// calculateCRC32 computes the IEEE CRC32 of key followed by value
func (r *Record) calculateCRC32() uint32 {
	crc := crc32.NewIEEE()
	crc.Write(r.Key)
	crc.Write(r.Value)
	return crc.Sum32()
}

// IsEndOfLog reports whether err marks a clean end of the stream
func IsEndOfLog(err error) bool {
	return errors.Is(err, io.EOF)
}
