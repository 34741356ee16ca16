package filter_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvserver/internal/codec"
	"github.com/calvinalkan/kvserver/internal/engine"
	"github.com/calvinalkan/kvserver/internal/engine/filter"
	"github.com/calvinalkan/kvserver/internal/kverr"
)

func Test_MetaFilter_Removes_ExpiredAndAged(t *testing.T) {
	t.Parallel()

	const now = uint64(1_700_000_000_000)

	f := filter.MetaFilter{Now: func() int64 { return int64(now) }}

	encoded, err := codec.EncodeMeta(codec.CompositeMeta{Type: codec.TypeHash, Count: 1, Version: 1, TTLMS: now - 1})
	require.NoError(t, err)

	remove, _ := f.Filter(0, nil, encoded)
	require.True(t, remove)
}

func Test_MetaFilter_Keeps_UnparseableValue(t *testing.T) {
	t.Parallel()

	f := filter.MetaFilter{}

	remove, _ := f.Filter(0, nil, []byte{0xFF})
	require.False(t, remove)
}

func Test_MetaFilter_Keeps_FreshVersion(t *testing.T) {
	t.Parallel()

	const now = uint64(1_700_000_000_000)

	f := filter.MetaFilter{Now: func() int64 { return int64(now) }}

	encoded, err := codec.EncodeMeta(codec.CompositeMeta{Type: codec.TypeSet, Count: 0, Version: uint32(now/1000) + 10})
	require.NoError(t, err)

	remove, _ := f.Filter(0, nil, encoded)
	require.False(t, remove)
}

type fakeMetaReader struct {
	values map[string][]byte
}

func (r *fakeMetaReader) Get(_ engine.CF, key []byte) ([]byte, error) {
	v, ok := r.values[string(key)]
	if !ok {
		return nil, kverr.New(kverr.KindNotFound, "fakeMetaReader.Get", nil)
	}

	return v, nil
}

func Test_DataFilter_Removes_WhenMetaMissing(t *testing.T) {
	t.Parallel()

	df := &filter.DataFilter{Meta: &fakeMetaReader{values: map[string][]byte{}}}

	key := codec.EncodeDataKey([]byte("h1"), 1, []byte("field"))

	remove, _ := df.Filter(0, key, nil)
	require.True(t, remove)
}

func Test_DataFilter_Removes_WhenVersionStale(t *testing.T) {
	t.Parallel()

	metaEncoded, err := codec.EncodeMeta(codec.CompositeMeta{Type: codec.TypeHash, Count: 1, Version: 2})
	require.NoError(t, err)

	df := &filter.DataFilter{Meta: &fakeMetaReader{values: map[string][]byte{"h1": metaEncoded}}}

	staleKey := codec.EncodeDataKey([]byte("h1"), 1, []byte("field"))

	remove, _ := df.Filter(0, staleKey, nil)
	require.True(t, remove)
}

func Test_DataFilter_Keeps_WhenVersionCurrent(t *testing.T) {
	t.Parallel()

	metaEncoded, err := codec.EncodeMeta(codec.CompositeMeta{Type: codec.TypeHash, Count: 1, Version: 2})
	require.NoError(t, err)

	df := &filter.DataFilter{Meta: &fakeMetaReader{values: map[string][]byte{"h1": metaEncoded}}}

	currentKey := codec.EncodeDataKey([]byte("h1"), 2, []byte("field"))

	remove, _ := df.Filter(0, currentKey, nil)
	require.False(t, remove)
}

func Test_DataFilter_Removes_WhenMetaExpired_EvenIfVersionMatches(t *testing.T) {
	t.Parallel()

	const now = uint64(1_700_000_000_000)

	metaEncoded, err := codec.EncodeMeta(codec.CompositeMeta{Type: codec.TypeHash, Count: 1, Version: 2, TTLMS: now - 1})
	require.NoError(t, err)

	df := &filter.DataFilter{
		Meta: &fakeMetaReader{values: map[string][]byte{"h1": metaEncoded}},
		Now:  func() int64 { return int64(now) },
	}

	key := codec.EncodeDataKey([]byte("h1"), 2, []byte("field"))

	remove, _ := df.Filter(0, key, nil)
	require.True(t, remove, "expired meta must drop the data KV even when versions match")
}

func Test_DataFilter_Keeps_WhenDataVersionAheadOfMeta(t *testing.T) {
	t.Parallel()

	metaEncoded, err := codec.EncodeMeta(codec.CompositeMeta{Type: codec.TypeHash, Count: 1, Version: 1})
	require.NoError(t, err)

	df := &filter.DataFilter{Meta: &fakeMetaReader{values: map[string][]byte{"h1": metaEncoded}}}

	aheadKey := codec.EncodeDataKey([]byte("h1"), 2, []byte("field"))

	remove, _ := df.Filter(0, aheadKey, nil)
	require.False(t, remove, "never drop while meta.version <= data_key.version")
}

func Test_DataFilter_CachesLookup_AcrossConsecutiveSubKeys(t *testing.T) {
	t.Parallel()

	calls := 0

	metaEncoded, err := codec.EncodeMeta(codec.CompositeMeta{Type: codec.TypeHash, Count: 1, Version: 1})
	require.NoError(t, err)

	reader := &countingReader{values: map[string][]byte{"h1": metaEncoded}, calls: &calls}
	df := &filter.DataFilter{Meta: reader}

	for _, field := range []string{"a", "b", "c"} {
		key := codec.EncodeDataKey([]byte("h1"), 1, []byte(field))
		_, _ = df.Filter(0, key, nil)
	}

	require.Equal(t, 1, calls)
}

type countingReader struct {
	values map[string][]byte
	calls  *int
}

func (r *countingReader) Get(_ engine.CF, key []byte) ([]byte, error) {
	*r.calls++

	v, ok := r.values[string(key)]
	if !ok {
		return nil, kverr.New(kverr.KindNotFound, "countingReader.Get", nil)
	}

	return v, nil
}
