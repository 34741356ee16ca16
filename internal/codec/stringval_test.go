package codec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvserver/internal/codec"
)

// Contract: Encode then Parse is identity on every field.
func Test_StringValue_RoundTrips_When_EncodedThenParsed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		userValue []byte
		ctimeMS   uint64
		etimeMS   uint64
	}{
		{"no expiration", []byte("bar"), 1_700_000_000_000, 0},
		{"with expiration", []byte("bar"), 1_700_000_000_000, 1_800_000_000_000},
		{"empty value", []byte(""), 1, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			encoded, err := codec.EncodeString(tc.userValue, tc.ctimeMS, tc.etimeMS)
			require.NoError(t, err)

			parsed, err := codec.ParseStringValue(encoded)
			require.NoError(t, err)

			require.Equal(t, tc.userValue, parsed.UserValue)
			require.Equal(t, tc.ctimeMS, parsed.CTimeMS)
			require.Equal(t, tc.etimeMS, parsed.ETimeMS)
			require.False(t, parsed.CTimeLegacySeconds)
			require.False(t, parsed.IsHyperLogLog())
		})
	}
}

// Contract: HLL and string values with identical user_value and
// timestamps differ only in the high bit of reserve[0].
func Test_StringValue_And_HyperLogLog_DifferOnlyInReserveHighBit(t *testing.T) {
	t.Parallel()

	userValue := []byte("registers")

	str, err := codec.EncodeString(userValue, 10, 20)
	require.NoError(t, err)

	hll, err := codec.EncodeHyperLogLog(userValue, 10, 20)
	require.NoError(t, err)

	require.Equal(t, len(str), len(hll))

	diffs := 0

	for i := range str {
		if str[i] != hll[i] {
			diffs++

			require.Equal(t, str[i]|0x80, hll[i])
		}
	}

	require.Equal(t, 1, diffs)

	parsedStr, err := codec.ParseStringValue(str)
	require.NoError(t, err)
	require.False(t, parsedStr.IsHyperLogLog())

	parsedHLL, err := codec.ParseStringValue(hll)
	require.NoError(t, err)
	require.True(t, parsedHLL.IsHyperLogLog())
}

// Contract: a legacy-seconds timestamp reads as seconds*1000 and
// is written back with the unit bit set, never rewritten implicitly.
func Test_StringValue_ConvertsLegacySecondsOnRead(t *testing.T) {
	t.Parallel()

	encoded, err := codec.EncodeString([]byte("v"), 5, 0)
	require.NoError(t, err)

	// Clear the unit bit on the ctime field to simulate a legacy record.
	ctimeOff := len(encoded) - 16
	encoded[ctimeOff] &^= 0x80

	parsed, err := codec.ParseStringValue(encoded)
	require.NoError(t, err)
	require.True(t, parsed.CTimeLegacySeconds)
	require.Equal(t, uint64(5*1000), parsed.CTimeMS)
}

func Test_StringValue_SetETime_MutatesInPlace(t *testing.T) {
	t.Parallel()

	encoded, err := codec.EncodeString([]byte("v"), 5, 0)
	require.NoError(t, err)

	require.NoError(t, codec.SetETime(encoded, 99))

	parsed, err := codec.ParseStringValue(encoded)
	require.NoError(t, err)
	require.Equal(t, uint64(99), parsed.ETimeMS)
}

func Test_StringValue_ParseReturnsErrTruncated_When_BufferTooShort(t *testing.T) {
	t.Parallel()

	_, err := codec.ParseStringValue([]byte{1, 2, 3})
	require.ErrorIs(t, err, codec.ErrTruncated)
}
