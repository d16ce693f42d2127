package crawler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitRejectsNonPositiveSize(t *testing.T) {
	t.Parallel()

	for _, size := range []int{0, -1} {
		_, err := Split([]Target{"a"}, size)
		require.True(t, errors.Is(err, ErrInvalidArgument), "size=%d err=%v", size, err)
	}
}

func TestSplitEmptyTargets(t *testing.T) {
	t.Parallel()

	batches, err := Split(nil, 2)
	require.NoError(t, err)
	require.Empty(t, batches)
}

func TestSplitChunks(t *testing.T) {
	t.Parallel()

	targets := []Target{"a.com", "b.com", "c.com", "d.com", "e.com"}
	batches, err := Split(targets, 2)
	require.NoError(t, err)
	require.Equal(t, []Batch{
		{"a.com", "b.com"},
		{"c.com", "d.com"},
		{"e.com"},
	}, batches)
}

func TestSplitLargerThanInput(t *testing.T) {
	t.Parallel()

	targets := []Target{"a", "b", "c"}
	batches, err := Split(targets, 10)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, Batch(targets), batches[0])
}

func TestSplitRoundTrip(t *testing.T) {
	t.Parallel()

	for n := 1; n <= 17; n++ {
		targets := make([]Target, n)
		for i := range targets {
			targets[i] = Target(fmt.Sprintf("https://facebook.com/u%d", i))
		}
		for size := 1; size <= n+2; size++ {
			batches, err := Split(targets, size)
			require.NoError(t, err)

			var joined []Target
			for i, b := range batches {
				require.NotEmpty(t, b)
				require.LessOrEqual(t, len(b), size)
				if i < len(batches)-1 {
					require.Len(t, b, size)
				}
				joined = append(joined, b...)
			}
			require.Equal(t, targets, joined, "n=%d size=%d", n, size)
		}
	}
}

func TestSplitDoesNotAliasInput(t *testing.T) {
	t.Parallel()

	targets := []Target{"a", "b"}
	batches, err := Split(targets, 2)
	require.NoError(t, err)
	targets[0] = "mutated"
	require.Equal(t, Target("a"), batches[0][0])
}
