// Package sketch wraps the all-prefix DPF with a MAC binding and Beaver
// triples, so the two collection servers can catch a client whose shares do
// not encode a valid point function without ever reconstructing the shares
// themselves.
package sketch

import (
	"heavyhitters/dpf"
	"heavyhitters/field"
	"heavyhitters/mpc"
	"heavyhitters/prg"
	"heavyhitters/sketchtypes"
)

// SketchOutput re-exports sketchtypes.SketchOutput under the package that
// produces it, for callers that only need the sketch half of the contract.
type SketchOutput[T field.Group[T]] = sketchtypes.SketchOutput[T]

// Key is one party's half of a sketched all-prefix DPF key: the underlying
// DPF over pairs (value, MAC-scaled value), additive shares of the MAC key
// and its square at both field levels, and the precomputed Beaver triples
// consumed at cor_share time, three per key per level plus three more for
// the last level.
type Key struct {
	MacKey      field.Fast
	MacKey2     field.Fast
	MacKeyLast  field.Big
	MacKey2Last field.Big

	DPF dpf.Key[field.Pair[field.Fast], field.Pair[field.Big]]

	Triples     []mpc.TripleShare[field.Fast]
	TriplesLast []mpc.TripleShare[field.Big]
}

// Gen builds a matching pair of sketched keys for the path alpha (length L)
// so that, combined, they reveal 1 at every prefix of alpha and at alpha
// itself, and 0 everywhere else, each output additionally bound to a fresh
// random MAC key.
func Gen(alpha []bool) (Key, Key, error) {
	if len(alpha) == 0 {
		return Key{}, Key{}, dpf.ErrShortPath
	}
	macKey := field.RandomFast()
	macKey2 := macKey.Mul(macKey)
	macKeyS0, macKeyS1 := splitFast(macKey)
	macKey2S0, macKey2S1 := splitFast(macKey2)

	macKeyLast := field.RandomBig()
	macKey2Last := macKeyLast.Mul(macKeyLast)
	macKeyLastS0, macKeyLastS1 := splitBig(macKeyLast)
	macKey2LastS0, macKey2LastS1 := splitBig(macKey2Last)

	n := len(alpha)
	values := make([]field.Pair[field.Fast], n-1)
	var oneFast field.Fast
	oneFast = oneFast.One()
	for i := range values {
		values[i] = field.Pair[field.Fast]{X: oneFast, K: oneFast.Mul(macKey)}
	}
	var oneBig field.Big
	oneBig = oneBig.One()
	valueLast := field.Pair[field.Big]{X: oneBig, K: oneBig.Mul(macKeyLast)}

	dpfKey0, dpfKey1, err := dpf.Gen[field.Pair[field.Fast], field.Pair[field.Big]](alpha, values, valueLast)
	if err != nil {
		return Key{}, Key{}, err
	}

	triples0 := make([]mpc.TripleShare[field.Fast], mpc.TriplesPerLevel*(n-1))
	triples1 := make([]mpc.TripleShare[field.Fast], mpc.TriplesPerLevel*(n-1))
	for i := range triples0 {
		t0, t1 := mpc.NewTripleSharePair[field.Fast](field.RandomFast)
		triples0[i], triples1[i] = t0, t1
	}

	triplesLast0 := make([]mpc.TripleShare[field.Big], mpc.TriplesPerLevel)
	triplesLast1 := make([]mpc.TripleShare[field.Big], mpc.TriplesPerLevel)
	for i := range triplesLast0 {
		t0, t1 := mpc.NewTripleSharePair[field.Big](field.RandomBig)
		triplesLast0[i], triplesLast1[i] = t0, t1
	}

	key0 := Key{
		MacKey: macKeyS0, MacKey2: macKey2S0,
		MacKeyLast: macKeyLastS0, MacKey2Last: macKey2LastS0,
		DPF: dpfKey0, Triples: triples0, TriplesLast: triplesLast0,
	}
	key1 := Key{
		MacKey: macKeyS1, MacKey2: macKey2S1,
		MacKeyLast: macKeyLastS1, MacKey2Last: macKey2LastS1,
		DPF: dpfKey1, Triples: triples1, TriplesLast: triplesLast1,
	}
	return key0, key1, nil
}

// GenFromString converts s into its L-bit, LSB-first-within-byte path (per
// the protocol's bit-ordering convention) and builds a key pair for it, with
// the constant value 1 at every level.
func GenFromString(s string, bitLen int) (Key, Key, error) {
	return Gen(stringToBits(s, bitLen))
}

// stringToBits unpacks s into bitLen bits, LSB-first within each byte.
// Bytes beyond len(s) are treated as zero, so short strings pad to bitLen.
func stringToBits(s string, bitLen int) []bool {
	out := make([]bool, bitLen)
	for i := 0; i < bitLen; i++ {
		byteIdx := i / 8
		bitIdx := uint(i % 8)
		var b byte
		if byteIdx < len(s) {
			b = s[byteIdx]
		}
		out[i] = (b>>bitIdx)&1 == 1
	}
	return out
}

// SketchAt computes the per-key sketch of a vector of (value, MAC-scaled
// value) pairs against a shared randomness stream: it draws three leading
// coefficients for later linear combination, then for each entry draws r_i,
// accumulating <r,x>, <r^2,x> and <r,k*x>.
func SketchAt[T field.Group[T]](vec []field.Pair[T], stream *prg.Stream) (sketchtypes.SketchOutput[T], error) {
	var zero T
	zero = zero.Zero()
	out := sketchtypes.SketchOutput[T]{RX: zero, R2X: zero, RKX: zero}

	var err error
	out.Rand1, err = prg.DrawFrom[T](stream, zero)
	if err != nil {
		return sketchtypes.SketchOutput[T]{}, err
	}
	out.Rand2, err = prg.DrawFrom[T](stream, zero)
	if err != nil {
		return sketchtypes.SketchOutput[T]{}, err
	}
	out.Rand3, err = prg.DrawFrom[T](stream, zero)
	if err != nil {
		return sketchtypes.SketchOutput[T]{}, err
	}

	for _, v := range vec {
		r, err := prg.DrawFrom[T](stream, zero)
		if err != nil {
			return sketchtypes.SketchOutput[T]{}, err
		}
		r2 := r.MulLazy(r)

		out.RX = out.RX.AddLazy(v.X.MulLazy(r))
		out.R2X = out.R2X.AddLazy(v.X.MulLazy(r2))
		out.RKX = out.RKX.AddLazy(v.K.MulLazy(r))
	}

	return out.Reduce(), nil
}

func splitFast(v field.Fast) (field.Fast, field.Fast) {
	s0 := field.RandomFast()
	return s0, v.Sub(s0)
}

func splitBig(v field.Big) (field.Big, field.Big) {
	s0 := field.RandomBig()
	return s0, v.Sub(s0)
}
