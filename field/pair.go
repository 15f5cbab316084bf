package field

// Pair is the componentwise group used by the sketched DPF: the first
// coordinate carries the point mass, the second the same value scaled by a
// MAC key. Group operations act independently on each coordinate, so Pair[T]
// satisfies Group[Pair[T]] whenever T satisfies Group[T].
type Pair[T Group[T]] struct {
	X T // the underlying point-function value
	K T // the value scaled by the MAC key
}

func (p Pair[T]) Zero() Pair[T] {
	var z T
	zero := z.Zero()
	return Pair[T]{X: zero, K: zero}
}

func (p Pair[T]) One() Pair[T] {
	var z T
	return Pair[T]{X: z.One(), K: z.One()}
}

func (p Pair[T]) Add(o Pair[T]) Pair[T] {
	return Pair[T]{X: p.X.Add(o.X), K: p.K.Add(o.K)}
}

func (p Pair[T]) Sub(o Pair[T]) Pair[T] {
	return Pair[T]{X: p.X.Sub(o.X), K: p.K.Sub(o.K)}
}

func (p Pair[T]) Mul(o Pair[T]) Pair[T] {
	return Pair[T]{X: p.X.Mul(o.X), K: p.K.Mul(o.K)}
}

func (p Pair[T]) Neg() Pair[T] {
	return Pair[T]{X: p.X.Neg(), K: p.K.Neg()}
}

func (p Pair[T]) AddLazy(o Pair[T]) Pair[T] {
	return Pair[T]{X: p.X.AddLazy(o.X), K: p.K.AddLazy(o.K)}
}

func (p Pair[T]) MulLazy(o Pair[T]) Pair[T] {
	return Pair[T]{X: p.X.MulLazy(o.X), K: p.K.MulLazy(o.K)}
}

func (p Pair[T]) Reduce() Pair[T] {
	return Pair[T]{X: p.X.Reduce(), K: p.K.Reduce()}
}

func (p Pair[T]) IsZero() bool {
	return p.X.IsZero() && p.K.IsZero()
}

func (p Pair[T]) Equal(o Pair[T]) bool {
	return p.X.Equal(o.X) && p.K.Equal(o.K)
}

// SampleStream draws both coordinates independently from the stream.
// prg.Convert calls it at every level of a DPF instantiated over pairs, as
// the sketched DPF is; the encoded values themselves are built explicitly
// from a value and a MAC key rather than sampled.
func (p Pair[T]) SampleStream(next func(n int) []byte) (Pair[T], error) {
	var z T
	x, err := z.SampleStream(next)
	if err != nil {
		return Pair[T]{}, err
	}
	k, err := z.SampleStream(next)
	if err != nil {
		return Pair[T]{}, err
	}
	return Pair[T]{X: x, K: k}, nil
}
