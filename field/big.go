package field

import (
	"crypto/rand"
	"math/big"
)

// bigModulus is p = 2^255 - 10, used only at the last tree level where
// collision resistance on the revealed strings matters more than raw speed.
var bigModulus = new(big.Int).Sub(
	new(big.Int).Lsh(big.NewInt(1), 255),
	big.NewInt(10),
)

// BigModulus exposes p for tests and diagnostics.
func BigModulus() *big.Int {
	return new(big.Int).Set(bigModulus)
}

// Big is an element of F_p. Every operation except AddLazy and MulLazy
// returns its canonical non-negative representative below p.
type Big struct {
	v *big.Int
}

// NewBig wraps x, reducing it modulo p.
func NewBig(x *big.Int) Big {
	return Big{v: new(big.Int).Mod(x, bigModulus)}
}

func (a Big) Int() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a.v)
}

func (a Big) val() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return a.v
}

func (a Big) Zero() Big { return Big{v: big.NewInt(0)} }
func (a Big) One() Big  { return Big{v: big.NewInt(1)} }

// AddLazy and MulLazy leave their result unreduced (non-negative, possibly
// >= p); Add and Mul reduce it modulo p.
func (a Big) AddLazy(b Big) Big {
	return Big{v: new(big.Int).Add(a.val(), b.val())}
}

func (a Big) Add(b Big) Big {
	return a.AddLazy(b).Reduce()
}

func (a Big) Sub(b Big) Big {
	return Big{v: new(big.Int).Sub(a.val(), b.val())}.Reduce()
}

func (a Big) Neg() Big {
	return Big{v: new(big.Int).Neg(a.val())}.Reduce()
}

func (a Big) MulLazy(b Big) Big {
	return Big{v: new(big.Int).Mul(a.val(), b.val())}
}

func (a Big) Mul(b Big) Big {
	return a.MulLazy(b).Reduce()
}

func (a Big) Reduce() Big {
	v := new(big.Int).Mod(a.val(), bigModulus)
	return Big{v: v}
}

func (a Big) IsZero() bool {
	return a.val().Sign() == 0
}

func (a Big) Equal(b Big) bool {
	return a.Reduce().val().Cmp(b.Reduce().val()) == 0
}

// SampleStream draws a uniform element of F_p: 32 random bytes reduced to a
// non-negative integer below p via rejection sampling (the teacher's dspf
// package uses the same "draw bytes, reinterpret as big.Int" idiom for its
// special points).
func (a Big) SampleStream(next func(n int) []byte) (Big, error) {
	byteLen := (bigModulus.BitLen() + 7) / 8
	for {
		buf := next(byteLen)
		v := new(big.Int).SetBytes(buf)
		if v.Cmp(bigModulus) < 0 {
			return Big{v: v}, nil
		}
	}
}

// MarshalBinary renders the canonical representative as a fixed-width
// big-endian byte string, so Big survives the wire codec (cbor respects
// encoding.BinaryMarshaler) without exposing the unexported *big.Int field.
func (a Big) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 32)
	a.val().FillBytes(buf)
	return buf, nil
}

// UnmarshalBinary is the inverse of MarshalBinary.
func (a *Big) UnmarshalBinary(data []byte) error {
	a.v = new(big.Int).SetBytes(data)
	return nil
}

// RandomBig draws a uniform element of F_p from crypto/rand, used by key
// generation when no shared stream applies (e.g. sampling MAC keys).
func RandomBig() Big {
	v, err := rand.Int(rand.Reader, bigModulus)
	if err != nil {
		panic(err)
	}
	return Big{v: v}
}
