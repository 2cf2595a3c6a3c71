package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncatedRecord is returned when the stream ends inside a frame
	ErrTruncatedRecord = errors.New("truncated record")

	// ErrChecksumMismatch matches every *ChecksumError
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// ChecksumError reports a frame whose payload does not match its stored CRC32
type ChecksumError struct {
	Stored   uint32
	Computed uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("data corruption encountered (%08x != %08x)", e.Computed, e.Stored)
}

// Is lets errors.Is(err, ErrChecksumMismatch) match
func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksumMismatch
}
