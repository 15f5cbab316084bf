// Package field implements the two prime fields used by the protocol: a
// 62-bit "fast" field used for intermediate tree levels, and a big-integer
// field used only at the final level. Both satisfy the Group constraint
// below, which lets dpf and collection be written once and monomorphized
// over either field.
package field

import "heavyhitters/prg"

// Group is the common algebraic surface both fields expose. Implementations
// are small value types (Fast is a uint64, Big wraps a *big.Int) so that
// passing them by value is cheap. Compare them with Equal: == on Big compares
// pointers, and on Fast compares possibly unreduced representatives.
type Group[T any] interface {
	Zero() T
	One() T
	Add(T) T
	Sub(T) T
	Mul(T) T
	Neg() T
	AddLazy(T) T
	MulLazy(T) T
	Reduce() T
	IsZero() bool
	Equal(T) bool
	prg.Sampler[T]
}
