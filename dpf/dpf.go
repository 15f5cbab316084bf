package dpf

import (
	"errors"

	"heavyhitters/field"
	"heavyhitters/prg"
)

// ErrLengthMismatch is returned when the caller's value vector does not
// match the path length expected from alpha.
var ErrLengthMismatch = errors.New("dpf: values length must be len(alpha)-1")

// child holds one party's state at a freshly expanded tree node, before any
// correction has been folded in.
type child struct {
	seed prg.Seed
	bit  bool
}

// levelExpand runs the doubling PRG for one party and splits the result into
// the kept and lost children according to keepRight, along with both control
// bits (needed regardless of which side is kept, since the correction word
// must correct both).
func levelExpand(seed prg.Seed, keepRight bool) (kept, lost child, bitL, bitR bool) {
	bitL, bitR, seedL, seedR := prg.Expand(seed)
	left := child{seed: seedL, bit: bitL}
	right := child{seed: seedR, bit: bitR}
	if keepRight {
		return right, left, bitL, bitR
	}
	return left, right, bitL, bitR
}

// correctionBits derives the level's (bit_L, bit_R) correction pair from both
// parties' freshly-expanded control bits and the kept direction: applying
// the correction on the lose side forces the two parties to identical
// (seed, bit) state forever after, while on the keep side it flips exactly
// one party's bit.
func correctionBits(bitL0, bitR0, bitL1, bitR1 bool, keepRight bool) (cwL, cwR bool) {
	cwL = (bitL0 != bitL1) != keepRight != true
	cwR = (bitR0 != bitR1) != keepRight
	return cwL, cwR
}

// folded is one party's post-correction state at a level, before the value
// conversion step.
type folded struct {
	seed prg.Seed
	bit  bool
}

// foldCorrection applies the seed/bit correction for one party, exactly as
// EvalBit will: the correction is only folded in when the party's running
// bit (the state entering this level) is set.
func foldCorrection(kept child, runningBit bool, corSeed prg.Seed, cwL, cwR bool, keepRight bool) folded {
	if !runningBit {
		return folded{seed: kept.seed, bit: kept.bit}
	}
	cw := cwL
	if keepRight {
		cw = cwR
	}
	return folded{seed: kept.seed.XOR(corSeed), bit: kept.bit != cw}
}

// convertAt runs Convert for one party at this level, returning the seed
// carried to the next level and the raw (pre-correction) value share.
func convertAt[T field.Group[T]](f folded) (prg.Seed, T, error) {
	var zero T
	return prg.Convert[T](f.seed, zero)
}

// genLevel runs one level of Gen's symmetric construction: it expands both
// parties' current seeds, builds the level's seed/bit correction, and folds
// it in for both parties. It returns the correction seed and bits with each
// party's folded state; the caller converts those states into the next
// level's seeds and raw value shares, and computes the correction's Value
// once it knows which field the level's values live in.
func genLevel(seed0 prg.Seed, bit0 bool, seed1 prg.Seed, bit1 bool, keepRight bool) (corSeed prg.Seed, cwL, cwR bool, s0, s1 folded) {
	kept0, lost0, bitL0, bitR0 := levelExpand(seed0, keepRight)
	kept1, lost1, bitL1, bitR1 := levelExpand(seed1, keepRight)

	cwL, cwR = correctionBits(bitL0, bitR0, bitL1, bitR1, keepRight)
	corSeed = lost0.seed.XOR(lost1.seed)

	s0 = foldCorrection(kept0, bit0, corSeed, cwL, cwR, keepRight)
	s1 = foldCorrection(kept1, bit1, corSeed, cwL, cwR, keepRight)
	return corSeed, cwL, cwR, s0, s1
}

// Gen produces a matching pair of keys for the all-prefix point function
// defined by the path alpha (length L), the per-level values for prefixes of
// length 1..L-1 (over T), and the value revealed at the full path of length L
// (over U). len(values) must be L-1.
func Gen[T field.Group[T], U field.Group[U]](alpha []bool, values []T, valueLast U) (Key[T, U], Key[T, U], error) {
	n := len(alpha)
	if n == 0 {
		return Key[T, U]{}, Key[T, U]{}, ErrShortPath
	}
	if len(values) != n-1 {
		return Key[T, U]{}, Key[T, U]{}, ErrLengthMismatch
	}

	root0 := prg.RandomSeed()
	root1 := prg.RandomSeed()
	seed0, bit0 := root0, false
	seed1, bit1 := root1, true

	cor := make([]CorWord[T], n-1)

	for i := 0; i < n-1; i++ {
		corSeed, cwL, cwR, s0, s1 := genLevel(seed0, bit0, seed1, bit1, alpha[i])

		newSeed0, val0, err := convertAt[T](s0)
		if err != nil {
			return Key[T, U]{}, Key[T, U]{}, err
		}
		newSeed1, val1, err := convertAt[T](s1)
		if err != nil {
			return Key[T, U]{}, Key[T, U]{}, err
		}

		// Choose the value correction so that combining the two keys'
		// shares (the second key's negated) recovers values[i] exactly on
		// the kept path; off path the two parties converge to identical
		// (seed, bit) state and the shares cancel regardless of Value.
		corValue := values[i].Sub(val0).Add(val1)
		if s1.bit {
			corValue = corValue.Neg()
		}

		cor[i] = CorWord[T]{Seed: corSeed, BitL: cwL, BitR: cwR, Value: corValue}

		seed0, bit0 = newSeed0, s0.bit
		seed1, bit1 = newSeed1, s1.bit
	}

	corSeed, cwL, cwR, s0, s1 := genLevel(seed0, bit0, seed1, bit1, alpha[n-1])

	_, val0, err := convertAt[U](s0)
	if err != nil {
		return Key[T, U]{}, Key[T, U]{}, err
	}
	_, val1, err := convertAt[U](s1)
	if err != nil {
		return Key[T, U]{}, Key[T, U]{}, err
	}

	corValueLast := valueLast.Sub(val0).Add(val1)
	if s1.bit {
		corValueLast = corValueLast.Neg()
	}
	corLast := CorWord[U]{Seed: corSeed, BitL: cwL, BitR: cwR, Value: corValueLast}

	key0 := Key[T, U]{Index: 0, Root: root0, RootBit: false, Cor: cor, CorLast: corLast}
	key1 := Key[T, U]{Index: 1, Root: root1, RootBit: true, Cor: cor, CorLast: corLast}
	return key0, key1, nil
}

// EvalBit descends one level of a single key's evaluation along dir, folding
// in the level's correction word, and returns the updated state along with
// this level's value share.
func EvalBit[T field.Group[T]](keyIndex int, state EvalState, cor CorWord[T], dir bool) (EvalState, T, error) {
	bitL, bitR, seedL, seedR := prg.Expand(state.Seed)

	var kept child
	if dir {
		kept = child{seed: seedR, bit: bitR}
	} else {
		kept = child{seed: seedL, bit: bitL}
	}

	f := foldCorrection(kept, state.Bit, cor.Seed, cor.BitL, cor.BitR, dir)

	newSeed, val, err := convertAt[T](f)
	if err != nil {
		var zero T
		return EvalState{}, zero, err
	}

	if f.bit {
		val = val.Add(cor.Value)
	}
	if keyIndex == 1 {
		val = val.Neg()
	}

	return EvalState{Seed: newSeed, Bit: f.bit}, val, nil
}

// EvalBitLast is EvalBit specialized to the final level: the returned state
// is discarded by the caller since the tree ends here.
func EvalBitLast[U field.Group[U]](keyIndex int, state EvalState, cor CorWord[U], dir bool) (U, error) {
	_, val, err := EvalBit(keyIndex, state, cor, dir)
	return val, err
}

// Eval walks the path idx (len(idx) must equal k.Depth()) and returns the
// share of every intermediate prefix's value (length len(idx)-1) followed by
// the share of the final level's value.
func Eval[T field.Group[T], U field.Group[U]](k Key[T, U], idx []bool) ([]T, U, error) {
	var zeroU U
	if len(idx) != k.Depth() {
		return nil, zeroU, ErrShortPath
	}

	state := k.EvalInit()
	shares := make([]T, len(k.Cor))
	for i, dir := range idx[:len(idx)-1] {
		next, val, err := EvalBit(k.Index, state, k.Cor[i], dir)
		if err != nil {
			return nil, zeroU, err
		}
		shares[i] = val
		state = next
	}

	last, err := EvalBitLast(k.Index, state, k.CorLast, idx[len(idx)-1])
	if err != nil {
		return nil, zeroU, err
	}
	return shares, last, nil
}
