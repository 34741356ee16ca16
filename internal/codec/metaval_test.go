package codec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvserver/internal/codec"
)

func Test_CompositeMeta_RoundTrips_ForEachType(t *testing.T) {
	t.Parallel()

	cases := []codec.CompositeMeta{
		{Type: codec.TypeHash, Count: 3, Version: 7, TTLMS: 0},
		{Type: codec.TypeSet, Count: 0, Version: 42, TTLMS: 1_700_000_000_000},
		{Type: codec.TypeZSet, Count: 9, Version: 1, TTLMS: 0},
		{Type: codec.TypeList, Count: 2, Version: 1, TTLMS: 0, Head: 10, Tail: 11},
	}

	for _, m := range cases {
		encoded, err := codec.EncodeMeta(m)
		require.NoError(t, err)

		parsed, err := codec.ParseMeta(encoded)
		require.NoError(t, err)
		require.Equal(t, m, parsed)
	}
}

func Test_CompositeMeta_EncodeRejectsStringType(t *testing.T) {
	t.Parallel()

	_, err := codec.EncodeMeta(codec.CompositeMeta{Type: codec.TypeString})
	require.ErrorIs(t, err, codec.ErrBadType)
}

// Contract: ttl expired and version aged => reclaimable;
// a version at or past the current second always protects the meta
// regardless of ttl/count.
func Test_CompositeMeta_Reclaimable_MatchesInvariants(t *testing.T) {
	t.Parallel()

	const now = uint64(1_700_000_000_000)

	const nowSec = uint32(now / 1000)

	cases := []struct {
		name string
		meta codec.CompositeMeta
		want bool
	}{
		{"fresh version protects even when expired", codec.CompositeMeta{Version: nowSec + 1, TTLMS: now - 1}, false},
		{"expired and aged is reclaimable", codec.CompositeMeta{Version: 1, TTLMS: now - 1}, true},
		{"empty and aged is reclaimable", codec.CompositeMeta{Version: 1, Count: 0}, true},
		{"non-empty, no ttl, aged is kept", codec.CompositeMeta{Version: 1, Count: 5, TTLMS: 0}, false},
		{"not aged is kept", codec.CompositeMeta{Version: nowSec + 1, Count: 0}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, tc.meta.Reclaimable(now))
		})
	}
}

func Test_CompositeMeta_SetVersion_MutatesInPlace(t *testing.T) {
	t.Parallel()

	encoded, err := codec.EncodeMeta(codec.CompositeMeta{Type: codec.TypeHash, Count: 1, Version: 1})
	require.NoError(t, err)

	require.NoError(t, codec.SetVersion(encoded, 99))

	parsed, err := codec.ParseMeta(encoded)
	require.NoError(t, err)
	require.Equal(t, uint32(99), parsed.Version)
}

func Test_DataKey_RoundTrips(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		userKey []byte
		version uint32
		subKey  []byte
	}{
		{"short key", []byte("k"), 1, []byte("field")},
		{"empty user key", []byte(""), 5, []byte("x")},
		{"empty sub key", []byte("hash"), 2, []byte("")},
		{"long user key", make([]byte, 300), 9, []byte("f")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			encoded := codec.EncodeDataKey(tc.userKey, tc.version, tc.subKey)

			parsed, err := codec.ParseDataKey(encoded)
			require.NoError(t, err)
			require.Equal(t, tc.userKey, parsed.UserKey)
			require.Equal(t, tc.version, parsed.Version)
			require.Equal(t, tc.subKey, parsed.SubKey)
		})
	}
}

func Test_DataKeyUserPrefix_MatchesAcrossSubKeys(t *testing.T) {
	t.Parallel()

	a := codec.EncodeDataKey([]byte("hash1"), 3, []byte("field-a"))
	b := codec.EncodeDataKey([]byte("hash1"), 3, []byte("field-b"))
	c := codec.EncodeDataKey([]byte("hash2"), 3, []byte("field-a"))

	prefixA, err := codec.DataKeyUserPrefix(a)
	require.NoError(t, err)

	prefixB, err := codec.DataKeyUserPrefix(b)
	require.NoError(t, err)

	prefixC, err := codec.DataKeyUserPrefix(c)
	require.NoError(t, err)

	require.Equal(t, prefixA, prefixB)
	require.NotEqual(t, prefixA, prefixC)
}
