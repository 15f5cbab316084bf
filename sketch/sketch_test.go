package sketch_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"heavyhitters/dpf"
	"heavyhitters/field"
	"heavyhitters/sketch"
)

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

// TestGenCombinesToMaskedValueAndMAC walks both keys down the path they were
// generated for and confirms the DPF shares sum to 1 at every prefix, with
// the K half summing to macKey * 1, exactly the quantity sketch_at sums over.
func TestGenCombinesToMaskedValueAndMAC(t *testing.T) {
	const n = 16
	alpha := bitsOf("hh", n)

	k0, k1, err := sketch.Gen(alpha)
	require.NoError(t, err)
	require.Equal(t, n, k0.DPF.Depth())

	macKey := k0.MacKey.Add(k1.MacKey)

	shares0, last0, err := dpf.Eval[field.Pair[field.Fast], field.Pair[field.Big]](k0.DPF, alpha)
	require.NoError(t, err)
	shares1, last1, err := dpf.Eval[field.Pair[field.Fast], field.Pair[field.Big]](k1.DPF, alpha)
	require.NoError(t, err)

	for i := 0; i < n-1; i++ {
		x := shares0[i].X.Add(shares1[i].X).Reduce()
		k := shares0[i].K.Add(shares1[i].K).Reduce()
		require.True(t, x.Equal(field.Fast(1).Reduce()), "level %d value", i)
		require.True(t, k.Equal(macKey.Mul(field.Fast(1)).Reduce()), "level %d mac", i)
	}

	macKeyLast := k0.MacKeyLast.Add(k1.MacKeyLast)
	xLast := last0.X.Add(last1.X).Reduce()
	kLast := last0.K.Add(last1.K).Reduce()
	var oneBig field.Big
	oneBig = oneBig.One()
	require.True(t, xLast.Equal(oneBig))
	require.True(t, kLast.Equal(macKeyLast.Mul(oneBig)))
}

// TestGenOffPathIsZero confirms a diverging path recovers zero shares, so a
// client who never claimed this prefix contributes nothing to its sketch.
func TestGenOffPathIsZero(t *testing.T) {
	const n = 16
	alpha := bitsOf("hh", n)
	off := append([]bool(nil), alpha...)
	off[n/2] = !off[n/2]

	k0, k1, err := sketch.Gen(alpha)
	require.NoError(t, err)

	shares0, _, err := dpf.Eval[field.Pair[field.Fast], field.Pair[field.Big]](k0.DPF, off)
	require.NoError(t, err)
	shares1, _, err := dpf.Eval[field.Pair[field.Fast], field.Pair[field.Big]](k1.DPF, off)
	require.NoError(t, err)

	for i := 0; i < n/2; i++ {
		x := shares0[i].X.Add(shares1[i].X).Reduce()
		require.True(t, x.Equal(field.Fast(1).Reduce()), "level %d still on shared prefix", i)
	}
	for i := n / 2; i < n-1; i++ {
		x := shares0[i].X.Add(shares1[i].X).Reduce()
		require.True(t, x.IsZero(), "level %d expected zero past divergence", i)
	}
}

func TestGenFromStringMatchesGen(t *testing.T) {
	const bitLen = 16
	k0, k1, err := sketch.GenFromString("hh", bitLen)
	require.NoError(t, err)
	require.Equal(t, bitLen, k0.DPF.Depth())
	require.Equal(t, bitLen, k1.DPF.Depth())
}

func TestGenFromStringRejectsEmptyPath(t *testing.T) {
	_, _, err := sketch.GenFromString("", 0)
	require.Error(t, err)
}
