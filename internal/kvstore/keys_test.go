package kvstore

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestEventKeyOrderingMatchesNumericOrder is the regression test for the
// ordering bug the key schema is designed to avoid: byte-lexicographic
// comparison of the encoded keys must agree with numeric comparison of
// (block_index, event_index), across the 9-vs-10 boundary an ASCII decimal
// encoding would get wrong.
func TestEventKeyOrderingMatchesNumericOrder(t *testing.T) {
	type pair struct{ block, event uint64 }
	pairs := []pair{
		{1, 9}, {1, 10}, {1, 11}, {2, 1}, {9, 1}, {10, 1}, {100, 1}, {0, 0},
	}
	keys := make([][]byte, len(pairs))
	for i, p := range pairs {
		keys[i] = VarEventKey("SP000.foo", "count", p.block, p.event)
	}

	sortedIdx := make([]int, len(pairs))
	for i := range sortedIdx {
		sortedIdx[i] = i
	}
	sort.Slice(sortedIdx, func(i, j int) bool {
		return bytes.Compare(keys[sortedIdx[i]], keys[sortedIdx[j]]) < 0
	})

	for i := 1; i < len(sortedIdx); i++ {
		prev := pairs[sortedIdx[i-1]]
		cur := pairs[sortedIdx[i]]
		less := prev.block < cur.block || (prev.block == cur.block && prev.event < cur.event)
		require.True(t, less, "byte order diverged from numeric order: %+v before %+v", prev, cur)
	}
}

func TestEncodeDecodeUint64RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 255, 256, 1 << 40} {
		require.Equal(t, v, DecodeUint64(EncodeUint64(v)))
	}
}

func TestSplitEventSuffix(t *testing.T) {
	prefix := FTEventPrefix("SP000.foo::bar")
	key := FTEventKey("SP000.foo::bar", 7, 3)
	block, event, ok := SplitEventSuffix(key, len(prefix))
	require.True(t, ok)
	require.Equal(t, uint64(7), block)
	require.Equal(t, uint64(3), event)
}
