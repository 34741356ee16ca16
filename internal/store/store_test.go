package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvserver/internal/lock"
	"github.com/calvinalkan/kvserver/internal/slot"
	"github.com/calvinalkan/kvserver/internal/store"
)

func newStore(t *testing.T, nowMS uint64) (*store.Store, *fakeEngine) {
	t.Helper()

	eng := newFakeEngine()
	clock := func() uint64 { return nowMS }

	return store.New(eng, lock.NewKeyspace(), clock), eng
}

// scenario 4: bumping a hash's version on DEL logically erases
// its old fields even though their data-CF entries physically survive until
// compaction; a field written under the new version is unaffected.
func Test_Del_BumpsVersion_OldFieldsBecomeUnreadable(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, 1000)

	_, err := s.HSet([]byte("h"), []byte("f1"), []byte("v1"))
	require.NoError(t, err)

	existed, err := s.Del([]byte("h"))
	require.NoError(t, err)
	require.True(t, existed)

	_, err = s.HSet([]byte("h"), []byte("f2"), []byte("v2"))
	require.NoError(t, err)

	_, ok, err := s.HGet([]byte("h"), []byte("f1"))
	require.NoError(t, err)
	require.False(t, ok, "field written under the pre-Del version must read as gone")

	v2, ok, err := s.HGet([]byte("h"), []byte("f2"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), v2)
}

func Test_Del_NonExistentKey_ReportsNotExisted(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, 1000)

	existed, err := s.Del([]byte("missing"))
	require.NoError(t, err)
	require.False(t, existed)
}

func Test_Del_OnString_RemovesMetaEntirely(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, 1000)

	require.NoError(t, s.Set([]byte("k"), []byte("v"), 0))

	existed, err := s.Del([]byte("k"))
	require.NoError(t, err)
	require.True(t, existed)

	_, ok, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

// scenario 3: EXPIRE sets an absolute deadline; once now passes
// it, every read path reports the key as gone without requiring compaction.
func Test_Expire_PastDeadline_HidesValueFromReads(t *testing.T) {
	t.Parallel()

	const setAt = uint64(1_000)

	s, eng := newStore(t, setAt)

	require.NoError(t, s.Set([]byte("k"), []byte("v"), 0))

	ok, err := s.Expire([]byte("k"), setAt+1)
	require.NoError(t, err)
	require.True(t, ok)

	// Advance the clock past etime by swapping in a new Store over the same
	// backing engine with a later fixed clock, the way a real server's
	// passage of time would.
	later := store.New(eng, lock.NewKeyspace(), func() uint64 { return setAt + 1000 })

	_, ok, err = later.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok, "read after etime has passed must report the key as gone")

	_, ok, err = later.TTL([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func Test_Expire_OnCompositeKey_ExpiresViaMetaTTL(t *testing.T) {
	t.Parallel()

	const setAt = uint64(1_000)

	s, eng := newStore(t, setAt)

	_, err := s.HSet([]byte("h"), []byte("f"), []byte("v"))
	require.NoError(t, err)

	ok, err := s.Expire([]byte("h"), setAt+1)
	require.NoError(t, err)
	require.True(t, ok)

	later := store.New(eng, lock.NewKeyspace(), func() uint64 { return setAt + 1000 })

	_, ok, err = later.HGet([]byte("h"), []byte("f"))
	require.NoError(t, err)
	require.False(t, ok)

	typ, ok, err := later.TypeOf([]byte("h"))
	require.NoError(t, err)
	require.False(t, ok, "expired composite must report as absent: got type %v", typ)
}

func Test_TTL_NoExpiration_ReturnsZero(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, 1000)

	require.NoError(t, s.Set([]byte("k"), []byte("v"), 0))

	etime, ok, err := s.TTL([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(0), etime)
}

func Test_HSet_HGet_RoundTrip(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, 1000)

	created, err := s.HSet([]byte("h"), []byte("f"), []byte("v1"))
	require.NoError(t, err)
	require.True(t, created)

	created, err = s.HSet([]byte("h"), []byte("f"), []byte("v2"))
	require.NoError(t, err)
	require.False(t, created, "overwriting an existing field must not report a creation")

	v, ok, err := s.HGet([]byte("h"), []byte("f"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), v)

	length, err := s.HLen([]byte("h"))
	require.NoError(t, err)
	require.Equal(t, 1, length)
}

func Test_TypeOf_WrongType_RejectedOnAccess(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, 1000)

	require.NoError(t, s.Set([]byte("k"), []byte("v"), 0))

	_, err := s.HSet([]byte("k"), []byte("f"), []byte("v"))
	require.Error(t, err)
}

// scenario 2: slot-index membership tracks live writes only
// while slot-migrate mode is enabled, and is a no-op otherwise.
func Test_SlotIndex_NoopWhenDisabled_MaintainedWhenEnabled(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, 1000)

	require.NoError(t, s.Set([]byte("k"), []byte("v"), 0))

	card, err := s.SlotCardinality(slot.Of([]byte("k")))
	require.NoError(t, err)
	require.Equal(t, 0, card, "slot index must stay empty while slot-migrate mode is off")

	enabled := true
	s.EnableSlotIndex(func() bool { return enabled })

	require.NoError(t, s.Set([]byte("k2"), []byte("v"), 0))

	card, err = s.SlotCardinality(slot.Of([]byte("k2")))
	require.NoError(t, err)
	require.Equal(t, 1, card)

	_, err = s.Del([]byte("k2"))
	require.NoError(t, err)

	card, err = s.SlotCardinality(slot.Of([]byte("k2")))
	require.NoError(t, err)
	require.Equal(t, 0, card)
}

func Test_SAdd_SRem_Cardinality(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, 1000)

	added, err := s.SAdd([]byte("s"), []byte("a"), []byte("b"), []byte("a"))
	require.NoError(t, err)
	require.Equal(t, 2, added, "duplicate member within one call must count once")

	card, err := s.SCard([]byte("s"))
	require.NoError(t, err)
	require.Equal(t, 2, card)

	removed, err := s.SRem([]byte("s"), []byte("a"))
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	card, err = s.SCard([]byte("s"))
	require.NoError(t, err)
	require.Equal(t, 1, card)
}
