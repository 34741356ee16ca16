package codec_test

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvserver/internal/codec"
)

func Test_EncodeScore_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, score := range []float64{0, 1, -1, 3.14159, -3.14159, math.MaxFloat64, -math.MaxFloat64} {
		encoded := codec.EncodeScore(score)
		decoded, err := codec.DecodeScore(encoded)
		require.NoError(t, err)
		require.Equal(t, score, decoded)
	}
}

func Test_EncodeScore_PreservesOrder(t *testing.T) {
	t.Parallel()

	scores := []float64{-100, -1, -0.5, 0, 0.5, 1, 100}

	encodedCopies := make([][]byte, len(scores))
	for i, s := range scores {
		encodedCopies[i] = codec.EncodeScore(s)
	}

	shuffled := append([][]byte{}, encodedCopies...)
	sort.Slice(shuffled, func(i, j int) bool {
		for k := 0; k < len(shuffled[i]); k++ {
			if shuffled[i][k] != shuffled[j][k] {
				return shuffled[i][k] < shuffled[j][k]
			}
		}

		return false
	})

	for i, b := range shuffled {
		require.Equal(t, encodedCopies[i], b, "byte order must match score order at index %d", i)
	}
}

func Test_DecodeScore_Truncated(t *testing.T) {
	t.Parallel()

	_, err := codec.DecodeScore([]byte{1, 2, 3})
	require.ErrorIs(t, err, codec.ErrTruncated)
}
