package store

import (
	"sort"

	"github.com/ssargent/basekv/pkg/codec"
)

// HashIndex maps each key to the offset of its most recent record.
// It is derived state: BuildFromLog can always reconstruct it.
type HashIndex struct {
	entries map[string]uint64
}

// NewHashIndex creates an empty hash index
func NewHashIndex() *HashIndex {
	return &HashIndex{
		entries: make(map[string]uint64),
	}
}

// Put records offset as the latest location of key, replacing any earlier one
func (idx *HashIndex) Put(key []byte, offset uint64) {
	idx.entries[string(key)] = offset
}

// Get returns the latest offset for key
func (idx *HashIndex) Get(key []byte) (uint64, bool) {
	offset, exists := idx.entries[string(key)]
	return offset, exists
}

// Delete removes a key from the index. The store never calls this for a
// logical delete; it is used when preparing index snapshots.
func (idx *HashIndex) Delete(key []byte) {
	delete(idx.entries, string(key))
}

// Size returns the number of keys in the index
func (idx *HashIndex) Size() int {
	return len(idx.entries)
}

// Clear removes all entries from the index
func (idx *HashIndex) Clear() {
	idx.entries = make(map[string]uint64)
}

// Keys returns all keys in the index in byte order
func (idx *HashIndex) Keys() []string {
	keys := make([]string, 0, len(idx.entries))
	for key := range idx.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns a copy of the key to offset mapping
func (idx *HashIndex) Entries() map[string]uint64 {
	out := make(map[string]uint64, len(idx.entries))
	for k, v := range idx.entries {
		out[k] = v
	}
	return out
}

// Load replaces the index contents with a copy of entries
func (idx *HashIndex) Load(entries map[string]uint64) {
	idx.entries = make(map[string]uint64, len(entries))
	for k, v := range entries {
		idx.entries[k] = v
	}
}

// Equal reports whether both indexes hold the same mapping
func (idx *HashIndex) Equal(other *HashIndex) bool {
	if len(idx.entries) != len(other.entries) {
		return false
	}
	for k, v := range idx.entries {
		if ov, ok := other.entries[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// BuildFromLog replays the log from offset `from` and upserts every record
// into the index. Existing entries are kept, so a caller can seed the index
// and replay only the tail. Tombstones (empty values) stay in the index.
func (idx *HashIndex) BuildFromLog(log *AppendLog, from uint64) (ReplayStats, error) {
	return log.Replay(from, func(offset uint64, rec *codec.Record) error {
		idx.entries[string(rec.Key)] = offset
		return nil
	})
}
