// Package snapshot persists a copy of the store index inside the log itself.
//
// The snapshot is an ordinary record stored under a reserved key (DefaultKey
// unless configured otherwise). Its value is a zstd-compressed JSON list of
// key/offset pairs. The store never validates it: whoever writes the
// snapshot is responsible for rewriting it after each batch of mutations.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/ssargent/basekv/pkg/store"
)

// DefaultKey is the reserved key the CLI stores the snapshot under
const DefaultKey = "+index"

const formatVersion = 1

var (
	// ErrNoSnapshot is returned when the reserved key holds no snapshot
	ErrNoSnapshot = errors.New("no index snapshot")

	// ErrBadSnapshot is returned for blobs that do not decode
	ErrBadSnapshot = errors.New("malformed index snapshot")
)

// Store is the subset of *store.KVStore the snapshot helpers need
type Store interface {
	IndexEntries() map[string]uint64
	Offset(key []byte) (uint64, bool)
	Get(key []byte) ([]byte, bool, error)
	Insert(key, value []byte) error
	ReadAt(offset uint64) (store.KeyValuePair, error)
}

type entry struct {
	Key    []byte `json:"key"`
	Offset uint64 `json:"offset"`
}

type document struct {
	Version int     `json:"version"`
	Entries []entry `json:"entries"`
}

// Encode serializes an index mapping. Entries are sorted by key so equal
// mappings produce identical blobs.
func Encode(entries map[string]uint64) ([]byte, error) {
	doc := document{
		Version: formatVersion,
		Entries: make([]entry, 0, len(entries)),
	}
	for k, off := range entries {
		doc.Entries = append(doc.Entries, entry{Key: []byte(k), Offset: off})
	}
	sort.Slice(doc.Entries, func(i, j int) bool {
		return bytes.Compare(doc.Entries[i].Key, doc.Entries[j].Key) < 0
	})

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	return enc.EncodeAll(raw, nil), nil
}

// Decode reverses Encode
func Decode(blob []byte) (map[string]uint64, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if doc.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, doc.Version)
	}

	entries := make(map[string]uint64, len(doc.Entries))
	for _, e := range doc.Entries {
		entries[string(e.Key)] = e.Offset
	}
	return entries, nil
}

// Save writes the current index, minus the reserved key itself, as a new
// record under key and returns the offset of that record.
func Save(kv Store, key []byte) (uint64, error) {
	entries := kv.IndexEntries()
	delete(entries, string(key))

	blob, err := Encode(entries)
	if err != nil {
		return 0, err
	}

	if err := kv.Insert(key, blob); err != nil {
		return 0, fmt.Errorf("failed to store snapshot: %w", err)
	}

	offset, ok := kv.Offset(key)
	if !ok {
		return 0, fmt.Errorf("snapshot key %q missing from index after insert", key)
	}
	return offset, nil
}

// Load reads and decodes the snapshot stored under key
func Load(kv Store, key []byte) (map[string]uint64, error) {
	blob, found, err := kv.Get(key)
	if err != nil {
		return nil, err
	}
	// An empty value is what a delete of the reserved key leaves behind.
	if !found || len(blob) == 0 {
		return nil, ErrNoSnapshot
	}
	return Decode(blob)
}

// Lookup resolves target through the snapshot stored under key instead of
// the live index, then reads the record it points at.
func Lookup(kv Store, key, target []byte) ([]byte, bool, error) {
	entries, err := Load(kv, key)
	if err != nil {
		return nil, false, err
	}

	offset, ok := entries[string(target)]
	if !ok {
		return nil, false, nil
	}

	pair, err := kv.ReadAt(offset)
	if err != nil {
		return nil, false, err
	}
	if !bytes.Equal(pair.Key, target) {
		return nil, false, fmt.Errorf("%w: snapshot offset %d holds key %q", store.ErrIndexInconsistent, offset, pair.Key)
	}
	return pair.Value, true, nil
}

// Restore opens a store from the snapshot record at offset: the snapshot
// seeds the index and only the records from offset onward are replayed.
func Restore(config store.KVStoreConfig, offset uint64) (*store.KVStore, *store.ReplayResult, error) {
	log, err := store.OpenAppendLog(store.AppendLogConfig{
		FilePath:   config.FilePath,
		BufferSize: config.BufferSize,
	})
	if err != nil {
		return nil, nil, err
	}

	rec, err := log.ReadAt(offset)
	closeErr := log.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read snapshot at %d: %w", offset, err)
	}
	if closeErr != nil {
		return nil, nil, closeErr
	}

	entries, err := Decode(rec.Value)
	if err != nil {
		return nil, nil, err
	}

	kv, err := store.NewKVStore(config)
	if err != nil {
		return nil, nil, err
	}

	result, err := kv.OpenSeeded(entries, offset)
	if err != nil {
		return nil, nil, err
	}
	return kv, result, nil
}
