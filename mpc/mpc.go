// Package mpc implements the two-party Beaver-triple multiplication check
// used to verify that a client's sketched-DPF shares encode a valid point
// function, without revealing the shares themselves. Three quadratic
// identities are folded into a single randomized out-share per key per
// level; the verifier accepts iff the two servers' out-shares sum to zero.
package mpc

import (
	"errors"

	"heavyhitters/field"
	"heavyhitters/sketchtypes"
)

// TriplesPerLevel is the number of Beaver triples consumed by one key at one
// level: one for each of the three quadratic identities checked there.
const TriplesPerLevel = 3

// TripleShare is one party's additive share of a Beaver triple (a, b, c=a*b).
type TripleShare[T field.Group[T]] struct {
	A T
	B T
	C T
}

// NewTripleSharePair samples a fresh Beaver triple and splits it into two
// additive shares. random must return a uniform, unbiased field element
// (field.RandomFast or field.RandomBig); it is independent of the shared
// rand_stream used for sketch coefficients, since triples are precomputed
// once at key-generation time, not re-derived per level.
func NewTripleSharePair[T field.Group[T]](random func() T) (TripleShare[T], TripleShare[T]) {
	aS0, aS1 := random(), random()
	bS0, bS1 := random(), random()

	a := aS0.Add(aS1)
	b := bS0.Add(bS1)
	c := a.Mul(b)

	cS0 := random()
	cS1 := c.Sub(cS0)

	return TripleShare[T]{A: aS0, B: bS0, C: cS0}, TripleShare[T]{A: aS1, B: bS1, C: cS1}
}

// CorShare is one party's published correction for a batch of multiplications.
type CorShare[T field.Group[T]] struct {
	Ds []T
	Es []T
}

// Cor is the combined public correction after both parties' shares are summed.
type Cor[T field.Group[T]] struct {
	Ds []T
	Es []T
}

// OutShare is one party's share of the verification check's result; the
// check passes iff the two parties' OutShares sum to zero.
type OutShare[T field.Group[T]] struct {
	Share T
}

// MulState holds one key's three pending multiplication checks for one
// level: the point-function shape check, the MAC-squaring check, and the
// MAC-binding check, each reduced to a single Beaver-triple multiplication.
type MulState[T field.Group[T]] struct {
	serverIdx bool
	triples   []TripleShare[T]

	xs []T
	ys []T
	zs []T
	rs []T
}

var ErrTripleRange = errors.New("mpc: triple slice too short for requested level")

// NewMulState builds the three (x,y,z) multiplication instances for one key
// at one level from its sketch output and MAC key shares, per the identities:
//
//  1. (R_x)^2 - R2_x = 0
//  2. k*k - k^2 = 0
//  3. k*R_x - R_kx = 0
func NewMulState[T field.Group[T]](serverIdx bool, triples []TripleShare[T], macKey, macKey2 T, out sketchtypes.SketchOutput[T], level int) (MulState[T], error) {
	start := level * TriplesPerLevel
	end := start + TriplesPerLevel
	if end > len(triples) {
		return MulState[T]{}, ErrTripleRange
	}

	s := MulState[T]{
		serverIdx: serverIdx,
		triples:   triples[start:end],
		xs:        make([]T, 0, TriplesPerLevel),
		ys:        make([]T, 0, TriplesPerLevel),
		zs:        make([]T, 0, TriplesPerLevel),
		rs:        []T{out.Rand1, out.Rand2, out.Rand3},
	}

	s.xs = append(s.xs, out.RX)
	s.ys = append(s.ys, out.RX)
	s.zs = append(s.zs, out.R2X.Neg())

	s.xs = append(s.xs, macKey)
	s.ys = append(s.ys, macKey)
	s.zs = append(s.zs, macKey2.Neg())

	s.xs = append(s.xs, out.RX)
	s.ys = append(s.ys, macKey)
	s.zs = append(s.zs, out.RKX.Neg())

	return s, nil
}

// CorShare publishes this party's d = x-a, e = y-b for each of the three
// pending multiplications.
func (s MulState[T]) CorShare() CorShare[T] {
	cs := CorShare[T]{Ds: make([]T, TriplesPerLevel), Es: make([]T, TriplesPerLevel)}
	for i := 0; i < TriplesPerLevel; i++ {
		cs.Ds[i] = s.xs[i].Sub(s.triples[i].A)
		cs.Es[i] = s.ys[i].Sub(s.triples[i].B)
	}
	return cs
}

// CombineCorShares sums the two parties' published corrections.
func CombineCorShares[T field.Group[T]](share0, share1 CorShare[T]) Cor[T] {
	c := Cor[T]{Ds: make([]T, TriplesPerLevel), Es: make([]T, TriplesPerLevel)}
	for i := 0; i < TriplesPerLevel; i++ {
		c.Ds[i] = share0.Ds[i].Add(share1.Ds[i]).Reduce()
		c.Es[i] = share0.Es[i].Add(share1.Es[i]).Reduce()
	}
	return c
}

// OutShare evaluates x*y = d*e + d*b + e*a + c for each pending
// multiplication (adding the public d*e term only on server index true, so
// it is not double counted), adds the identity's z term, scales by the
// matching random coefficient, and sums the three terms into one out-share.
func (s MulState[T]) OutShare(cor Cor[T]) OutShare[T] {
	var total T
	total = total.Zero()
	for i := 0; i < TriplesPerLevel; i++ {
		var term T
		term = term.Zero()

		if s.serverIdx {
			term = term.AddLazy(cor.Ds[i].MulLazy(cor.Es[i]))
		}
		term = term.AddLazy(cor.Ds[i].MulLazy(s.triples[i].B))
		term = term.AddLazy(cor.Es[i].MulLazy(s.triples[i].A))
		term = term.AddLazy(s.triples[i].C)
		term = term.AddLazy(s.zs[i])
		term = term.MulLazy(s.rs[i])

		total = total.AddLazy(term)
	}
	return OutShare[T]{Share: total.Reduce()}
}

// Verify reports whether the two parties' out-shares for the same key sum
// to zero, i.e. whether all three identities held.
func Verify[T field.Group[T]](out0, out1 OutShare[T]) bool {
	return out0.Share.Add(out1.Share).Reduce().IsZero()
}

// ManyMulState batches MulState across every key at one level, so a server
// can fan the per-key work of cor_shares/out_shares across a worker pool.
type ManyMulState[T field.Group[T]] struct {
	States []MulState[T]
}

// ManyCorShare/ManyCor/ManyOutShare are the per-key vectors exchanged over
// the wire for TreeSketchFrontier(Last)/TreeOutShares(Last).
type ManyCorShare[T field.Group[T]] struct {
	CorShares []CorShare[T]
}

type ManyCor[T field.Group[T]] struct {
	Cors []Cor[T]
}

type ManyOutShare[T field.Group[T]] struct {
	OutShares []OutShare[T]
}

// NewManyMulState builds one MulState per key. triples, macKeys, macKeys2
// and sketches must all be indexed identically by key.
func NewManyMulState[T field.Group[T]](serverIdx bool, triples [][]TripleShare[T], macKeys, macKeys2 []T, sketches []sketchtypes.SketchOutput[T], level int) (ManyMulState[T], error) {
	states := make([]MulState[T], len(sketches))
	for i := range sketches {
		s, err := NewMulState(serverIdx, triples[i], macKeys[i], macKeys2[i], sketches[i], level)
		if err != nil {
			return ManyMulState[T]{}, err
		}
		states[i] = s
	}
	return ManyMulState[T]{States: states}, nil
}

// CorShares collects every key's CorShare, run across a worker pool sized to
// runtime.NumCPU() since each key's work is independent and read-only over shared
// state.
func (m ManyMulState[T]) CorShares() ManyCorShare[T] {
	out := make([]CorShare[T], len(m.States))
	parallelFor(len(m.States), func(i int) {
		out[i] = m.States[i].CorShare()
	})
	return ManyCorShare[T]{CorShares: out}
}

// CombineMany pointwise-combines two servers' per-key CorShare vectors.
func CombineMany[T field.Group[T]](a, b ManyCorShare[T]) ManyCor[T] {
	out := make([]Cor[T], len(a.CorShares))
	for i := range a.CorShares {
		out[i] = CombineCorShares(a.CorShares[i], b.CorShares[i])
	}
	return ManyCor[T]{Cors: out}
}

// OutShares computes every key's OutShare given the combined corrections.
func (m ManyMulState[T]) OutShares(cors ManyCor[T]) ManyOutShare[T] {
	out := make([]OutShare[T], len(m.States))
	parallelFor(len(m.States), func(i int) {
		out[i] = m.States[i].OutShare(cors.Cors[i])
	})
	return ManyOutShare[T]{OutShares: out}
}

// VerifyMany checks each key's pair of out-shares and returns the per-key
// boolean acceptance vector; a false entry flags a malicious client.
func VerifyMany[T field.Group[T]](out0, out1 ManyOutShare[T]) []bool {
	alive := make([]bool, len(out0.OutShares))
	for i := range alive {
		alive[i] = Verify(out0.OutShares[i], out1.OutShares[i])
	}
	return alive
}
