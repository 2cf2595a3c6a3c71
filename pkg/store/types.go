package store

import (
	"github.com/sirupsen/logrus"

	"github.com/ssargent/basekv/pkg/codec"
	"github.com/ssargent/basekv/pkg/metrics"
)

// DefaultBufferSize is used when a config leaves BufferSize at zero
const DefaultBufferSize = 64 * 1024

// AppendLogConfig holds configuration for the append log
type AppendLogConfig struct {
	FilePath    string // Path to the log file, created if missing
	BufferSize  int    // Size of the buffered reader and writer views
	SyncOnWrite bool   // fsync after every append
}

// KVStoreConfig holds configuration for the key-value store
type KVStoreConfig struct {
	FilePath      string
	BufferSize    int
	SyncOnWrite   bool
	ExclusiveLock bool // hold <FilePath>.lock while open

	Logger  *logrus.Logger   // nil discards log output
	Metrics *metrics.Metrics // nil disables instrumentation
}

func (c KVStoreConfig) appendLogConfig() AppendLogConfig {
	return AppendLogConfig{
		FilePath:    c.FilePath,
		BufferSize:  c.BufferSize,
		SyncOnWrite: c.SyncOnWrite,
	}
}

// KeyValuePair is a decoded record as returned by ReadAt
type KeyValuePair = codec.KeyValuePair

// ReplayStats summarizes one sequential pass over the log
type ReplayStats struct {
	Records uint64 // frames decoded
	Bytes   uint64 // bytes consumed, i.e. the offset the pass ended at minus its start
}

// Errors
var (
	ErrStoreClosed      = &KVError{"store is not open"}
	ErrStoreOpen        = &KVError{"store is already open"}
	ErrLocked           = &KVError{"log file is locked by another store"}
	ErrNoRecordAtOffset = &KVError{"no record at offset"}

	ErrIndexInconsistent = &KVError{"index points at a record for another key"}
)

// KVError represents a key-value store error
type KVError struct {
	Message string
}

func (e *KVError) Error() string {
	return e.Message
}
