package store

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"

	"github.com/ssargent/basekv/pkg/codec"
	"github.com/ssargent/basekv/pkg/logging"
	"github.com/ssargent/basekv/pkg/metrics"
)

type storeState int

const (
	stateClosed storeState = iota
	stateOpening
	stateReady
)

func (s storeState) String() string {
	switch s {
	case stateOpening:
		return "opening"
	case stateReady:
		return "ready"
	default:
		return "closed"
	}
}

// KVStore is the engine facade: an append log plus the in-memory index that
// is rebuilt from it on every open. All methods are serialized by one mutex.
type KVStore struct {
	config  KVStoreConfig
	id      ksuid.KSUID
	codec   *codec.RecordCodec
	log     *AppendLog
	index   *HashIndex
	lock    *flock.Flock
	logger  *logrus.Entry
	metrics *metrics.Metrics
	mutex   sync.Mutex
	state   storeState
}

// ReplayResult describes how the index was rebuilt during Open
type ReplayResult struct {
	RecordsReplayed uint64
	BytesReplayed   uint64
	ResumedFrom     uint64 // 0 for a full replay
	Keys            int
	ReplayTime      time.Duration
}

// StoreStats holds statistics about the store
type StoreStats struct {
	Keys     int
	DataSize uint64
}

// NewKVStore creates a closed store for the given log file
func NewKVStore(config KVStoreConfig) (*KVStore, error) {
	if config.FilePath == "" {
		return nil, &KVError{"file path is required"}
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	id := ksuid.New()

	return &KVStore{
		config: config,
		id:     id,
		codec:  codec.NewRecordCodec(),
		index:  NewHashIndex(),
		logger: logger.WithFields(logrus.Fields{
			"store_id": id.String(),
			"path":     config.FilePath,
		}),
		metrics: config.Metrics,
		state:   stateClosed,
	}, nil
}

// Open opens the log file, creating it if absent, and rebuilds the index by
// replaying every record. Any decode failure aborts the open and leaves the
// store closed.
func (kv *KVStore) Open() (*ReplayResult, error) {
	return kv.open(nil, 0)
}

// OpenSeeded opens the store with a previously captured index and replays
// only the records from resumeFrom onward. The seed is trusted as-is.
func (kv *KVStore) OpenSeeded(entries map[string]uint64, resumeFrom uint64) (*ReplayResult, error) {
	return kv.open(entries, resumeFrom)
}

func (kv *KVStore) open(seed map[string]uint64, from uint64) (*ReplayResult, error) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()

	if kv.state != stateClosed {
		return nil, fmt.Errorf("%w (state %s)", ErrStoreOpen, kv.state)
	}

	start := time.Now()
	kv.state = stateOpening

	result, err := kv.load(seed, from)
	if err != nil {
		_ = kv.release()
		kv.state = stateClosed
		kv.metrics.RecordOperation(metrics.OpOpen, false, time.Since(start))
		kv.logger.WithError(err).Error("failed to open store")
		return nil, err
	}

	kv.state = stateReady
	result.ReplayTime = time.Since(start)
	kv.metrics.RecordOperation(metrics.OpOpen, true, result.ReplayTime)
	kv.metrics.RecordReplay(result.RecordsReplayed)
	kv.metrics.UpdateStoreStats(kv.index.Size(), kv.log.Size())

	kv.logger.WithFields(logrus.Fields{
		"records":      result.RecordsReplayed,
		"bytes":        result.BytesReplayed,
		"resumed_from": result.ResumedFrom,
		"keys":         result.Keys,
		"duration":     result.ReplayTime,
	}).Info("store opened")

	return result, nil
}

// load acquires the optional lock, opens the log and replays it into a fresh index
func (kv *KVStore) load(seed map[string]uint64, from uint64) (*ReplayResult, error) {
	if kv.config.ExclusiveLock {
		fl := flock.New(kv.config.FilePath + ".lock")
		ok, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to lock %s: %w", fl.Path(), err)
		}
		if !ok {
			return nil, ErrLocked
		}
		kv.lock = fl
	}

	log, err := OpenAppendLog(kv.config.appendLogConfig())
	if err != nil {
		return nil, err
	}
	kv.log = log

	if from > log.Size() {
		return nil, fmt.Errorf("resume offset %d beyond end of log (%d bytes)", from, log.Size())
	}

	index := NewHashIndex()
	if seed != nil {
		index.Load(seed)
	}

	stats, err := index.BuildFromLog(log, from)
	if err != nil {
		kv.recordCorruption(err)
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	kv.index = index

	return &ReplayResult{
		RecordsReplayed: stats.Records,
		BytesReplayed:   stats.Bytes,
		ResumedFrom:     from,
		Keys:            index.Size(),
	}, nil
}

// release closes whatever load managed to acquire
func (kv *KVStore) release() error {
	var err error
	if kv.log != nil {
		err = kv.log.Close()
		kv.log = nil
	}
	if kv.lock != nil {
		if unlockErr := kv.lock.Unlock(); unlockErr != nil && err == nil {
			err = unlockErr
		}
		kv.lock = nil
	}
	kv.index = NewHashIndex()
	return err
}

// Get returns the latest value for key. A key that was never written reports
// found == false with a nil error. A deleted key is found with an empty value.
func (kv *KVStore) Get(key []byte) ([]byte, bool, error) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()

	start := time.Now()
	value, found, err := kv.getInternal(key)
	kv.metrics.RecordOperation(metrics.OpGet, err == nil, time.Since(start))
	return value, found, err
}

func (kv *KVStore) getInternal(key []byte) ([]byte, bool, error) {
	if kv.state != stateReady {
		return nil, false, ErrStoreClosed
	}

	offset, exists := kv.index.Get(key)
	if !exists {
		return nil, false, nil
	}

	record, err := kv.log.ReadAt(offset)
	if err != nil {
		kv.recordCorruption(err)
		return nil, false, err
	}

	if !bytes.Equal(record.Key, key) {
		return nil, false, fmt.Errorf("%w: offset %d holds key %q", ErrIndexInconsistent, offset, record.Key)
	}

	return record.Value, true, nil
}

// Insert appends a record for key and points the index at it
func (kv *KVStore) Insert(key, value []byte) error {
	return kv.write(metrics.OpInsert, key, value)
}

// Update behaves exactly like Insert; the key's history is not consulted
func (kv *KVStore) Update(key, value []byte) error {
	return kv.write(metrics.OpUpdate, key, value)
}

// Delete appends an empty-value record for key. A later Get finds the key
// with an empty value; deletion and an explicit empty insert look the same.
func (kv *KVStore) Delete(key []byte) error {
	return kv.write(metrics.OpDelete, key, []byte{})
}

func (kv *KVStore) write(op string, key, value []byte) error {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()

	start := time.Now()
	offset, err := kv.putInternal(key, value)
	kv.metrics.RecordOperation(op, err == nil, time.Since(start))
	if err != nil {
		kv.logger.WithError(err).WithField("operation", op).Error("write failed")
		return err
	}

	kv.metrics.UpdateStoreStats(kv.index.Size(), kv.log.Size())
	kv.logger.WithFields(logrus.Fields{
		"operation": op,
		"offset":    offset,
		"key_size":  len(key),
		"val_size":  len(value),
	}).Debug("record appended")
	return nil
}

// putInternal appends without acquiring the mutex
func (kv *KVStore) putInternal(key, value []byte) (uint64, error) {
	if kv.state != stateReady {
		return 0, ErrStoreClosed
	}

	frame, err := kv.codec.Encode(key, value)
	if err != nil {
		return 0, err
	}

	offset, err := kv.log.Append(frame)
	if err != nil {
		return 0, err
	}

	kv.index.Put(key, offset)
	return offset, nil
}

// ReadAt decodes the record stored at offset
func (kv *KVStore) ReadAt(offset uint64) (KeyValuePair, error) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()

	if kv.state != stateReady {
		return KeyValuePair{}, ErrStoreClosed
	}

	record, err := kv.log.ReadAt(offset)
	if err != nil {
		kv.recordCorruption(err)
		return KeyValuePair{}, err
	}
	return record.Pair(), nil
}

// Offset returns the offset the index holds for key
func (kv *KVStore) Offset(key []byte) (uint64, bool) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()

	if kv.state != stateReady {
		return 0, false
	}
	return kv.index.Get(key)
}

// IndexEntries returns a copy of the in-memory index
func (kv *KVStore) IndexEntries() map[string]uint64 {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()

	return kv.index.Entries()
}

// Keys returns every indexed key in byte order, tombstones included
func (kv *KVStore) Keys() []string {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()

	return kv.index.Keys()
}

// Stats returns store statistics
func (kv *KVStore) Stats() *StoreStats {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()

	if kv.state != stateReady {
		return &StoreStats{}
	}

	return &StoreStats{
		Keys:     kv.index.Size(),
		DataSize: kv.log.Size(),
	}
}

// ID returns the instance id attached to this store's log lines
func (kv *KVStore) ID() ksuid.KSUID {
	return kv.id
}

// Path returns the log file path
func (kv *KVStore) Path() string {
	return kv.config.FilePath
}

// IsOpen reports whether the store accepts operations
func (kv *KVStore) IsOpen() bool {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()

	return kv.state == stateReady
}

// Close releases the file and the in-memory index
func (kv *KVStore) Close() error {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()

	if kv.state != stateReady {
		return nil
	}

	kv.state = stateClosed
	err := kv.release()
	kv.logger.Info("store closed")
	return err
}

func (kv *KVStore) recordCorruption(err error) {
	var kind string
	switch {
	case errors.Is(err, codec.ErrChecksumMismatch):
		kind = "checksum"
	case errors.Is(err, codec.ErrTruncatedRecord):
		kind = "truncated"
	default:
		return
	}

	kv.metrics.RecordCorruption(kind)

	fields := logrus.Fields{"kind": kind}
	var cErr *CorruptionError
	if errors.As(err, &cErr) {
		fields["offset"] = cErr.Offset
	}
	kv.logger.WithFields(fields).WithError(err).Error("corrupt record")
}
