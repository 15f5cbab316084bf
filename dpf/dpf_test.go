package dpf_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"heavyhitters/dpf"
	"heavyhitters/field"
)

// bitsOf matches the protocol's LSB-first-within-byte convention (spec §9).
func bitsOf(s string, n int) []bool {
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		byteIdx := i / 8
		bitIdx := i % 8
		var b byte
		if byteIdx < len(s) {
			b = s[byteIdx]
		}
		out[i] = (b>>uint(bitIdx))&1 == 1
	}
	return out
}

func TestAllPrefixCorrectness(t *testing.T) {
	const n = 24
	alpha := bitsOf("ab", n)

	values := make([]field.Fast, n-1)
	for i := range values {
		values[i] = field.Fast(uint64(i) + 1)
	}
	valueLast := field.Fast(100)

	k0, k1, err := dpf.Gen[field.Fast, field.Fast](alpha, values, valueLast)
	require.NoError(t, err)
	require.Equal(t, n, k0.Depth())

	cases := []struct {
		name string
		idx  []bool
	}{
		{"on-path", alpha},
		{"diverge-last-bit", flipLast(alpha)},
		{"diverge-first-bit", flipAt(alpha, 0)},
		{"diverge-mid-bit", flipAt(alpha, n/2)},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			shares0, last0, err := dpf.Eval[field.Fast, field.Fast](k0, c.idx)
			require.NoError(t, err)
			shares1, last1, err := dpf.Eval[field.Fast, field.Fast](k1, c.idx)
			require.NoError(t, err)

			firstDivergence := -1
			for i := range c.idx {
				if c.idx[i] != alpha[i] {
					firstDivergence = i
					break
				}
			}

			for i := 0; i < n-1; i++ {
				sum := shares0[i].Add(shares1[i]).Reduce()
				onPath := firstDivergence == -1 || firstDivergence > i
				if onPath {
					require.True(t, sum.Equal(values[i]), "level %d expected %v got %v", i, values[i], sum)
				} else {
					require.True(t, sum.IsZero(), "level %d expected zero off-path, got %v", i, sum)
				}
			}

			sumLast := last0.Add(last1).Reduce()
			if firstDivergence == -1 {
				require.True(t, sumLast.Equal(valueLast))
			} else {
				require.True(t, sumLast.IsZero())
			}
		})
	}
}

func flipLast(alpha []bool) []bool {
	return flipAt(alpha, len(alpha)-1)
}

func flipAt(alpha []bool, i int) []bool {
	out := make([]bool, len(alpha))
	copy(out, alpha)
	out[i] = !out[i]
	return out
}

func TestGenRejectsLengthMismatch(t *testing.T) {
	alpha := bitsOf("a", 8)
	_, _, err := dpf.Gen[field.Fast, field.Fast](alpha, []field.Fast{}, field.Fast(0))
	require.ErrorIs(t, err, dpf.ErrLengthMismatch)
}
