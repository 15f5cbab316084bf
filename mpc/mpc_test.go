package mpc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"heavyhitters/field"
	"heavyhitters/mpc"
	"heavyhitters/sketchtypes"
)

// honestSketch builds a SketchOutput over Fast that satisfies all three
// verification identities for a given macKey, by sampling r directly.
func honestSketch(macKey field.Fast) sketchtypes.SketchOutput[field.Fast] {
	rx := field.RandomFast()
	return sketchtypes.SketchOutput[field.Fast]{
		RX:    rx,
		R2X:   rx.Mul(rx),
		RKX:   macKey.Mul(rx),
		Rand1: field.RandomFast(),
		Rand2: field.RandomFast(),
		Rand3: field.RandomFast(),
	}
}

func splitFast(v field.Fast) (field.Fast, field.Fast) {
	s0 := field.RandomFast()
	return s0, v.Sub(s0)
}

func TestVerifyManyAcceptsHonestSketch(t *testing.T) {
	const nKeys = 5
	const nLevels = 3

	triples0 := make([][]mpc.TripleShare[field.Fast], nKeys)
	triples1 := make([][]mpc.TripleShare[field.Fast], nKeys)
	macKeys0 := make([]field.Fast, nKeys)
	macKeys1 := make([]field.Fast, nKeys)
	macKeys2_0 := make([]field.Fast, nKeys)
	macKeys2_1 := make([]field.Fast, nKeys)
	sketches0 := make([]sketchtypes.SketchOutput[field.Fast], nKeys)
	sketches1 := make([]sketchtypes.SketchOutput[field.Fast], nKeys)

	for i := 0; i < nKeys; i++ {
		macKey := field.RandomFast()
		macKey2 := macKey.Mul(macKey)
		mk0, mk1 := splitFast(macKey)
		mk2_0, mk2_1 := splitFast(macKey2)
		macKeys0[i], macKeys1[i] = mk0, mk1
		macKeys2_0[i], macKeys2_1[i] = mk2_0, mk2_1

		triples0[i] = make([]mpc.TripleShare[field.Fast], mpc.TriplesPerLevel*nLevels)
		triples1[i] = make([]mpc.TripleShare[field.Fast], mpc.TriplesPerLevel*nLevels)
		for j := range triples0[i] {
			t0, t1 := mpc.NewTripleSharePair[field.Fast](field.RandomFast)
			triples0[i][j], triples1[i][j] = t0, t1
		}

		sketch := honestSketch(macKey)
		s0, s1 := splitFast(sketch.RX)
		r20, r21 := splitFast(sketch.R2X)
		rk0, rk1 := splitFast(sketch.RKX)
		sketches0[i] = sketchtypes.SketchOutput[field.Fast]{RX: s0, R2X: r20, RKX: rk0, Rand1: sketch.Rand1, Rand2: sketch.Rand2, Rand3: sketch.Rand3}
		sketches1[i] = sketchtypes.SketchOutput[field.Fast]{RX: s1, R2X: r21, RKX: rk1, Rand1: sketch.Rand1, Rand2: sketch.Rand2, Rand3: sketch.Rand3}
	}

	for level := 0; level < nLevels; level++ {
		many0, err := mpc.NewManyMulState(false, triples0, macKeys0, macKeys2_0, sketches0, level)
		require.NoError(t, err)
		many1, err := mpc.NewManyMulState(true, triples1, macKeys1, macKeys2_1, sketches1, level)
		require.NoError(t, err)

		cs0 := many0.CorShares()
		cs1 := many1.CorShares()
		cors := mpc.CombineMany(cs0, cs1)

		out0 := many0.OutShares(cors)
		out1 := many1.OutShares(cors)

		alive := mpc.VerifyMany(out0, out1)
		for i, ok := range alive {
			require.True(t, ok, "level %d key %d expected accept", level, i)
		}
	}
}

func TestVerifyManyRejectsTamperedShare(t *testing.T) {
	macKey := field.RandomFast()
	macKey2 := macKey.Mul(macKey)
	mk0, mk1 := splitFast(macKey)
	mk2_0, mk2_1 := splitFast(macKey2)

	triples0 := make([]mpc.TripleShare[field.Fast], mpc.TriplesPerLevel)
	triples1 := make([]mpc.TripleShare[field.Fast], mpc.TriplesPerLevel)
	for j := range triples0 {
		t0, t1 := mpc.NewTripleSharePair[field.Fast](field.RandomFast)
		triples0[j], triples1[j] = t0, t1
	}

	sketch := honestSketch(macKey)
	s0, s1 := splitFast(sketch.RX)
	r20, r21 := splitFast(sketch.R2X)
	rk0, rk1 := splitFast(sketch.RKX)

	// Flip one bit of server 0's share of R_x: the point-function-shape
	// identity no longer holds, so the verifier must reject.
	s0 = s0.Add(field.Fast(1))

	sketchOut0 := sketchtypes.SketchOutput[field.Fast]{RX: s0, R2X: r20, RKX: rk0, Rand1: sketch.Rand1, Rand2: sketch.Rand2, Rand3: sketch.Rand3}
	sketchOut1 := sketchtypes.SketchOutput[field.Fast]{RX: s1, R2X: r21, RKX: rk1, Rand1: sketch.Rand1, Rand2: sketch.Rand2, Rand3: sketch.Rand3}

	many0, err := mpc.NewManyMulState(false, [][]mpc.TripleShare[field.Fast]{triples0}, []field.Fast{mk0}, []field.Fast{mk2_0}, []sketchtypes.SketchOutput[field.Fast]{sketchOut0}, 0)
	require.NoError(t, err)
	many1, err := mpc.NewManyMulState(true, [][]mpc.TripleShare[field.Fast]{triples1}, []field.Fast{mk1}, []field.Fast{mk2_1}, []sketchtypes.SketchOutput[field.Fast]{sketchOut1}, 0)
	require.NoError(t, err)

	cors := mpc.CombineMany(many0.CorShares(), many1.CorShares())
	out0 := many0.OutShares(cors)
	out1 := many1.OutShares(cors)

	alive := mpc.VerifyMany(out0, out1)
	require.False(t, alive[0])
}

func TestNewMulStateRejectsOutOfRangeLevel(t *testing.T) {
	triples := make([]mpc.TripleShare[field.Fast], mpc.TriplesPerLevel)
	_, err := mpc.NewMulState(false, triples, field.RandomFast(), field.RandomFast(), sketchtypes.Zero[field.Fast](), 1)
	require.ErrorIs(t, err, mpc.ErrTripleRange)
}
