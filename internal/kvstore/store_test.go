package kvstore

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.Get([]byte("k1"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put([]byte("k1"), []byte("v1")))
	v, ok, err := s.Get([]byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)

	require.NoError(t, s.Delete([]byte("k1")))
	_, ok, err = s.Get([]byte("k1"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteAbsentKeyIsNotError(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Delete([]byte("does-not-exist")))
}

func TestPutBatchAtomicWritesAndDeletes(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put([]byte("existing"), []byte("old")))

	writes := []KV{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	}
	deletes := [][]byte{[]byte("existing")}
	require.NoError(t, s.PutBatch(writes, deletes))

	v, ok, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	_, ok, err = s.Get([]byte("existing"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPrefixScanOrdersAscendingAndHonorsPrefix(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put([]byte("event/0001"), []byte("a")))
	require.NoError(t, s.Put([]byte("event/0002"), []byte("b")))
	require.NoError(t, s.Put([]byte("other/0001"), []byte("c")))

	var keys []string
	err := s.PrefixScan([]byte("event/"), func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"event/0001", "event/0002"}, keys)
}

func TestDropAllEmptiesStore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put([]byte("k"), []byte("v")))
	require.NoError(t, s.DropAll())

	_, ok, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}
