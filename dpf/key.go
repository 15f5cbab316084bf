// Package dpf implements the all-prefix distributed point function: key
// generation produces two keys that, evaluated together at any prefix of a
// distinguished path, reveal a secret-shared value at every prefix length
// and zero everywhere else. It is the generic engine adapted from the
// teacher's tree-based DPF constructions, rewritten to be parameterized over
// the field type (monomorphized via Go generics rather than a concrete
// curve element) and to emit the full prefix vector in one pass instead of
// only the leaf value.
package dpf

import (
	"errors"

	"heavyhitters/field"
	"heavyhitters/prg"
)

// CorWord is a correction word for one tree level: the XOR of the two lose
// side seeds, the corrected control-bit pair, and a field-valued correction
// that fixes up the revealed value along the kept path.
type CorWord[T field.Group[T]] struct {
	Seed  prg.Seed
	BitL  bool
	BitR  bool
	Value T
}

// Key is one half of a DPF key pair. T is the field used at every
// intermediate level (1..L-1), U the field used at the final level L.
type Key[T field.Group[T], U field.Group[U]] struct {
	Index   int // 0 or 1, identifies which of the two keys this is
	Root    prg.Seed
	RootBit bool
	Cor     []CorWord[T] // length L-1
	CorLast CorWord[U]   // the final level's correction, over field U
}

// EvalState is the running PRG position after descending some number of
// edges along a chosen path.
type EvalState struct {
	Seed prg.Seed
	Bit  bool
}

// EvalInit returns the state a fresh evaluation starts from: the key's root
// seed and a control bit equal to the key's index (0 or 1, as a bool).
func (k Key[T, U]) EvalInit() EvalState {
	return EvalState{Seed: k.Root, Bit: k.RootBit}
}

// Depth returns L, the number of bits in one client string.
func (k Key[T, U]) Depth() int {
	return len(k.Cor) + 1
}

var ErrShortPath = errors.New("dpf: path shorter than one bit")
