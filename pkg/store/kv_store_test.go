package store

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/basekv/pkg/codec"
	"github.com/ssargent/basekv/pkg/metrics"
)

func newTestStore(t *testing.T, filePath string) *KVStore {
	t.Helper()

	kv, err := NewKVStore(KVStoreConfig{FilePath: filePath})
	require.NoError(t, err)

	_, err = kv.Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	return kv
}

func TestNewKVStore_RequiresPath(t *testing.T) {
	kv, err := NewKVStore(KVStoreConfig{})
	assert.Error(t, err)
	assert.Nil(t, kv)
}

func TestKVStore_EndToEnd(t *testing.T) {
	kv := newTestStore(t, filepath.Join(t.TempDir(), "data.log"))

	require.NoError(t, kv.Insert([]byte("a"), []byte("1")))
	require.NoError(t, kv.Insert([]byte("b"), []byte("2")))
	require.NoError(t, kv.Update([]byte("a"), []byte("9")))

	value, found, err := kv.Get([]byte("a"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "9", string(value))

	value, found, err = kv.Get([]byte("b"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "2", string(value))

	value, found, err = kv.Get([]byte("c"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, value)
}

func TestKVStore_LastWriteWins(t *testing.T) {
	kv := newTestStore(t, filepath.Join(t.TempDir(), "data.log"))

	require.NoError(t, kv.Insert([]byte("K"), []byte("A")))
	first, ok := kv.Offset([]byte("K"))
	require.True(t, ok)

	require.NoError(t, kv.Insert([]byte("K"), []byte("B")))
	second, ok := kv.Offset([]byte("K"))
	require.True(t, ok)

	assert.Greater(t, second, first)
	assert.Equal(t, map[string]uint64{"K": second}, kv.IndexEntries())

	value, _, err := kv.Get([]byte("K"))
	require.NoError(t, err)
	assert.Equal(t, "B", string(value))

	// The superseded record is still physically readable.
	old, err := kv.ReadAt(first)
	require.NoError(t, err)
	assert.Equal(t, "A", string(old.Value))
}

func TestKVStore_DeleteThenGet(t *testing.T) {
	kv := newTestStore(t, filepath.Join(t.TempDir(), "data.log"))

	require.NoError(t, kv.Insert([]byte("k"), []byte("v")))
	require.NoError(t, kv.Delete([]byte("k")))

	value, found, err := kv.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, found, "a deleted key is still indexed")
	assert.NotNil(t, value)
	assert.Empty(t, value)

	// Deleting a key that never existed still appends a record.
	require.NoError(t, kv.Delete([]byte("never")))
	_, found, err = kv.Get([]byte("never"))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestKVStore_AbsentKey(t *testing.T) {
	kv := newTestStore(t, filepath.Join(t.TempDir(), "data.log"))

	value, found, err := kv.Get([]byte("nothing"))
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, value)
}

func TestKVStore_OffsetMonotonicity(t *testing.T) {
	kv := newTestStore(t, filepath.Join(t.TempDir(), "data.log"))

	var expected uint64
	var previous uint64
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		value := bytes.Repeat([]byte{byte(i)}, i)

		require.NoError(t, kv.Insert(key, value))

		offset, ok := kv.Offset(key)
		require.True(t, ok)
		assert.Equal(t, expected, offset, "offset of record %d", i)
		if i > 0 {
			assert.Greater(t, offset, previous)
		}

		previous = offset
		expected += codec.EncodedSize(key, value)
	}

	assert.Equal(t, expected, kv.Stats().DataSize)
}

func TestKVStore_PersistenceAcrossReopen(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "data.log")

	kv, err := NewKVStore(KVStoreConfig{FilePath: filePath})
	require.NoError(t, err)
	_, err = kv.Open()
	require.NoError(t, err)

	require.NoError(t, kv.Insert([]byte("a"), []byte("1")))
	require.NoError(t, kv.Insert([]byte("b"), []byte("2")))
	require.NoError(t, kv.Update([]byte("a"), []byte("3")))
	require.NoError(t, kv.Delete([]byte("b")))
	before := kv.IndexEntries()
	require.NoError(t, kv.Close())

	reopened, err := NewKVStore(KVStoreConfig{FilePath: filePath})
	require.NoError(t, err)
	result, err := reopened.Open()
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(4), result.RecordsReplayed)
	assert.Equal(t, 2, result.Keys)
	assert.Equal(t, uint64(0), result.ResumedFrom)
	assert.Equal(t, before, reopened.IndexEntries())

	value, found, err := reopened.Get([]byte("a"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "3", string(value))

	value, found, err = reopened.Get([]byte("b"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, value)
}

func TestKVStore_ReplayIdempotence(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "data.log")

	writer := newTestStore(t, filePath)
	for i := 0; i < 20; i++ {
		require.NoError(t, writer.Insert([]byte(fmt.Sprintf("k%d", i%7)), []byte(fmt.Sprintf("v%d", i))))
	}
	require.NoError(t, writer.Close())

	first := newTestStore(t, filePath)
	second := newTestStore(t, filePath)

	assert.Equal(t, first.IndexEntries(), second.IndexEntries())
	assert.Len(t, first.IndexEntries(), 7)
}

func TestKVStore_BinaryAndEmptyKeys(t *testing.T) {
	kv := newTestStore(t, filepath.Join(t.TempDir(), "data.log"))

	binKey := []byte{0x00, 0xFF, 0x10}
	binValue := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	require.NoError(t, kv.Insert(binKey, binValue))
	require.NoError(t, kv.Insert([]byte{}, []byte("empty key")))

	value, found, err := kv.Get(binKey)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, binValue, value)

	value, found, err = kv.Get(nil)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "empty key", string(value))
}

func TestKVStore_ClosedState(t *testing.T) {
	kv, err := NewKVStore(KVStoreConfig{FilePath: filepath.Join(t.TempDir(), "data.log")})
	require.NoError(t, err)

	assert.False(t, kv.IsOpen())

	_, _, err = kv.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, kv.Insert([]byte("k"), []byte("v")), ErrStoreClosed)
	assert.ErrorIs(t, kv.Update([]byte("k"), []byte("v")), ErrStoreClosed)
	assert.ErrorIs(t, kv.Delete([]byte("k")), ErrStoreClosed)

	_, err = kv.ReadAt(0)
	assert.ErrorIs(t, err, ErrStoreClosed)

	assert.Equal(t, &StoreStats{}, kv.Stats())
	assert.NoError(t, kv.Close(), "closing a closed store is a no-op")
}

func TestKVStore_OpenTwice(t *testing.T) {
	kv := newTestStore(t, filepath.Join(t.TempDir(), "data.log"))

	_, err := kv.Open()
	assert.ErrorIs(t, err, ErrStoreOpen)
	assert.True(t, kv.IsOpen())
}

func TestKVStore_CloseThenReopenSameInstance(t *testing.T) {
	kv := newTestStore(t, filepath.Join(t.TempDir(), "data.log"))

	require.NoError(t, kv.Insert([]byte("k"), []byte("v")))
	require.NoError(t, kv.Close())
	assert.False(t, kv.IsOpen())
	assert.Empty(t, kv.IndexEntries())

	_, err := kv.Open()
	require.NoError(t, err)

	value, found, err := kv.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", string(value))
}

func TestKVStore_OpenSeeded(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "data.log")

	writer := newTestStore(t, filePath)
	require.NoError(t, writer.Insert([]byte("a"), []byte("1")))
	require.NoError(t, writer.Insert([]byte("b"), []byte("2")))
	seed := writer.IndexEntries()
	resume := writer.Stats().DataSize
	require.NoError(t, writer.Insert([]byte("c"), []byte("3")))
	require.NoError(t, writer.Update([]byte("a"), []byte("4")))
	require.NoError(t, writer.Close())

	kv, err := NewKVStore(KVStoreConfig{FilePath: filePath})
	require.NoError(t, err)
	result, err := kv.OpenSeeded(seed, resume)
	require.NoError(t, err)
	defer kv.Close()

	assert.Equal(t, uint64(2), result.RecordsReplayed)
	assert.Equal(t, resume, result.ResumedFrom)

	full := newTestStore(t, filePath)
	assert.Equal(t, full.IndexEntries(), kv.IndexEntries())

	value, _, err := kv.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "4", string(value))
}

func TestKVStore_OpenSeededBeyondEnd(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "data.log")

	kv, err := NewKVStore(KVStoreConfig{FilePath: filePath})
	require.NoError(t, err)

	_, err = kv.OpenSeeded(map[string]uint64{}, 100)
	assert.Error(t, err)
	assert.False(t, kv.IsOpen())
}

func TestKVStore_Keys(t *testing.T) {
	kv := newTestStore(t, filepath.Join(t.TempDir(), "data.log"))

	require.NoError(t, kv.Insert([]byte("b"), []byte("1")))
	require.NoError(t, kv.Insert([]byte("a"), []byte("1")))
	require.NoError(t, kv.Delete([]byte("c")))

	assert.Equal(t, []string{"a", "b", "c"}, kv.Keys())
}

func TestKVStore_SerializedConcurrentCallers(t *testing.T) {
	kv := newTestStore(t, filepath.Join(t.TempDir(), "data.log"))

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := []byte(fmt.Sprintf("w%d-%d", w, i))
				if err := kv.Insert(key, key); err != nil {
					t.Errorf("insert %s: %v", key, err)
					return
				}
				value, found, err := kv.Get(key)
				if err != nil || !found || !bytes.Equal(value, key) {
					t.Errorf("get %s: %q %v %v", key, value, found, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, workers*perWorker, kv.Stats().Keys)
}

func TestKVStore_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	kv, err := NewKVStore(KVStoreConfig{
		FilePath: filepath.Join(t.TempDir(), "data.log"),
		Metrics:  m,
	})
	require.NoError(t, err)
	_, err = kv.Open()
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.Insert([]byte("a"), []byte("1")))
	require.NoError(t, kv.Delete([]byte("a")))
	_, _, err = kv.Get([]byte("a"))
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	var keys float64
	for _, mf := range families {
		switch mf.GetName() {
		case "basekv_operations_total":
			for _, metric := range mf.GetMetric() {
				var op string
				for _, label := range metric.GetLabel() {
					if label.GetName() == "operation" {
						op = label.GetValue()
					}
				}
				counts[op] += metric.GetCounter().GetValue()
			}
		case "basekv_keys_total":
			keys = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}

	assert.Equal(t, 1.0, counts[metrics.OpOpen])
	assert.Equal(t, 1.0, counts[metrics.OpInsert])
	assert.Equal(t, 1.0, counts[metrics.OpDelete])
	assert.Equal(t, 1.0, counts[metrics.OpGet])
	assert.Equal(t, 1.0, keys)
}

func TestKVStore_ID(t *testing.T) {
	a, err := NewKVStore(KVStoreConfig{FilePath: "a.log"})
	require.NoError(t, err)
	b, err := NewKVStore(KVStoreConfig{FilePath: "a.log"})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, "a.log", a.Path())
}
