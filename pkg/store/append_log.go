package store

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/ssargent/basekv/pkg/codec"
)

// AppendLog owns the single log file and the buffered views over it.
//
// Appends always go to the current end of the file. Reads never depend on the
// file cursor: each one builds a section reader anchored at an explicit
// offset. AppendLog is not safe for concurrent use; KVStore serializes access.
type AppendLog struct {
	file   *os.File
	writer *bufio.Writer
	reader *bufio.Reader
	codec  *codec.RecordCodec
	config AppendLogConfig
	size   uint64 // end of the last frame this log appended or observed at open
}

// CorruptionError locates a frame that could not be decoded
type CorruptionError struct {
	Path   string
	Offset uint64
	Err    error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%s: offset %d: %v", e.Path, e.Offset, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// OpenAppendLog opens the log file for reading and appending, creating it if missing
func OpenAppendLog(config AppendLogConfig) (*AppendLog, error) {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}

	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0750); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	return &AppendLog{
		file:   file,
		writer: bufio.NewWriterSize(file, config.BufferSize),
		reader: bufio.NewReaderSize(file, config.BufferSize),
		codec:  codec.NewRecordCodec(),
		config: config,
		size:   uint64(stat.Size()),
	}, nil
}

// Append writes one encoded frame at the end of the file and returns the
// offset of its first byte.
func (l *AppendLog) Append(frame []byte) (uint64, error) {
	end, err := l.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}

	l.writer.Reset(l.file)
	if _, err := l.writer.Write(frame); err != nil {
		return 0, err
	}
	if err := l.writer.Flush(); err != nil {
		return 0, err
	}

	if l.config.SyncOnWrite {
		if err := l.file.Sync(); err != nil {
			return 0, err
		}
	}

	offset := uint64(end)
	l.size = offset + uint64(len(frame))
	return offset, nil
}

// ReadAt decodes the single frame starting at offset.
// A clean end of file at offset is an error here, not an end-of-log signal.
func (l *AppendLog) ReadAt(offset uint64) (*codec.Record, error) {
	if err := l.anchor(offset); err != nil {
		return nil, err
	}

	rec, err := l.codec.DecodeFrom(l.reader)
	if err == io.EOF {
		return nil, fmt.Errorf("%w %d in %s", ErrNoRecordAtOffset, offset, l.config.FilePath)
	}
	if err != nil {
		return nil, &CorruptionError{Path: l.config.FilePath, Offset: offset, Err: err}
	}
	return rec, nil
}

// Replay decodes every frame from offset `from` to the end of the file and
// hands each one to fn together with its starting offset. It stops at the
// first frame that fails to decode and returns a *CorruptionError for it.
func (l *AppendLog) Replay(from uint64, fn func(offset uint64, rec *codec.Record) error) (ReplayStats, error) {
	var stats ReplayStats

	if err := l.anchor(from); err != nil {
		return stats, err
	}

	offset := from
	for {
		rec, err := l.codec.DecodeFrom(l.reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			stats.Bytes = offset - from
			return stats, &CorruptionError{Path: l.config.FilePath, Offset: offset, Err: err}
		}

		if err := fn(offset, rec); err != nil {
			stats.Bytes = offset - from
			return stats, err
		}

		offset += uint64(rec.Size())
		stats.Records++
	}

	stats.Bytes = offset - from
	if offset > l.size {
		l.size = offset
	}
	return stats, nil
}

// anchor points the buffered reader at offset without touching the file cursor
func (l *AppendLog) anchor(offset uint64) error {
	if offset > math.MaxInt64 {
		return fmt.Errorf("offset %d out of range", offset)
	}
	off := int64(offset)
	l.reader.Reset(io.NewSectionReader(l.file, off, math.MaxInt64-off))
	return nil
}

// Size returns the current size of the log file
func (l *AppendLog) Size() uint64 {
	return l.size
}

// Sync flushes buffered writes and fsyncs the file
func (l *AppendLog) Sync() error {
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Sync()
}

// Close flushes and closes the underlying file
func (l *AppendLog) Close() error {
	if err := l.writer.Flush(); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}

// Path returns the file path
func (l *AppendLog) Path() string {
	return l.config.FilePath
}
