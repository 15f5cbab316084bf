// Package collection implements the server-side key-collection engine: the
// per-server frontier of live tree nodes, parallel level expansion, sketch
// vector production, pruning, and final share extraction.
package collection

import (
	"errors"
	"runtime"
	"sync"

	"heavyhitters/dpf"
	"heavyhitters/field"
	"heavyhitters/mpc"
	"heavyhitters/prg"
	"heavyhitters/sketch"
	"heavyhitters/sketchtypes"
)

var (
	ErrTripleCount   = errors.New("collection: key triple vector has the wrong length")
	ErrKeepLength    = errors.New("collection: keep vector length does not match frontier")
	ErrRangeOOB      = errors.New("collection: sketch sub-batch out of range")
	ErrCountOverflow = errors.New("collection: reconstructed count exceeds client count")
)

// clientKey is one client's sketched key plus its liveness flag; the flag
// only ever transitions true->false, and a dead client contributes zero to
// every further summation while keeping its slot (and eval state) stable.
type clientKey struct {
	alive bool
	key   sketch.Key
}

// TreeNode is one frontier position: the path it was reached by, this
// server's accumulated value share across all live clients, and, per
// client, the running DPF eval state and the (value, MAC-scaled value)
// share pair produced at this node.
type TreeNode[T field.Group[T]] struct {
	Path       []bool
	Value      T
	EvalStates []dpf.EvalState
	KeyValues  []field.Pair[T]
}

// KeyCollection is one server's entire protocol state for a single run.
type KeyCollection struct {
	depth   int
	crawled int // TreeCrawl calls since the last TreeInit

	keys []clientKey

	frontier     []TreeNode[field.Fast]
	frontierLast []TreeNode[field.Big]

	randStream *prg.Stream

	fastMu sync.Mutex // guards ManyMulState built from the Fast-field frontier
	bigMu  sync.Mutex // guards ManyMulState built from the Big-field frontier last level

	fastMul mpc.ManyMulState[field.Fast]
	bigMul  mpc.ManyMulState[field.Big]
}

// New creates an empty collection seeded identically on both servers.
func New(seed prg.Seed, depth int) *KeyCollection {
	return &KeyCollection{
		depth:      depth,
		randStream: prg.NewStream(seed),
	}
}

// Reset discards all keys and frontier state, as if New had just been
// called, without re-deriving the shared seed.
func (kc *KeyCollection) Reset(seed prg.Seed) {
	kc.keys = nil
	kc.frontier = nil
	kc.frontierLast = nil
	kc.randStream = prg.NewStream(seed)
}

// AddKey validates a key's triple-vector lengths against the collection's
// depth and appends it, alive, to the canonical key order.
func (kc *KeyCollection) AddKey(k sketch.Key) error {
	want := mpc.TriplesPerLevel * (kc.depth - 1)
	if len(k.Triples) != want {
		return ErrTripleCount
	}
	if len(k.TriplesLast) != mpc.TriplesPerLevel {
		return ErrTripleCount
	}
	kc.keys = append(kc.keys, clientKey{alive: true, key: k})
	return nil
}

// AddKeys appends a batch of keys in order.
func (kc *KeyCollection) AddKeys(ks []sketch.Key) error {
	for _, k := range ks {
		if err := kc.AddKey(k); err != nil {
			return err
		}
	}
	return nil
}

// TreeInit clears both frontiers and creates the single root node at path
// epsilon, with every key's eval state initialized and its value pair zero.
func (kc *KeyCollection) TreeInit() {
	var zero field.Fast
	zero = zero.Zero()
	zeroPair := field.Pair[field.Fast]{X: zero, K: zero}

	states := make([]dpf.EvalState, len(kc.keys))
	values := make([]field.Pair[field.Fast], len(kc.keys))
	for i, ck := range kc.keys {
		states[i] = ck.key.DPF.EvalInit()
		values[i] = zeroPair
	}

	kc.frontier = []TreeNode[field.Fast]{{
		Path:       nil,
		Value:      zero,
		EvalStates: states,
		KeyValues:  values,
	}}
	kc.frontierLast = nil
	kc.crawled = 0
}

// parallelFor mirrors mpc's worker-pool helper: fn(i) runs across all CPUs
// for i in [0,n).
func parallelFor(n int, fn func(i int)) {
	if n == 0 {
		return
	}
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	tasks := make(chan int, workers)
	var wg sync.WaitGroup
	worker := func() {
		defer wg.Done()
		for i := range tasks {
			fn(i)
		}
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go worker()
	}
	for i := 0; i < n; i++ {
		tasks <- i
	}
	close(tasks)
	wg.Wait()
}

// level returns the tree level about to be crawled: the number of edges
// already descended, counted by TreeCrawl so that it stays correct after the
// frontier has been pruned to empty.
func (kc *KeyCollection) level() int {
	return kc.crawled
}

// TreeCrawl expands every frontier node into its false- and true-children in
// parallel over keys, and returns the ordered list of child value shares.
func (kc *KeyCollection) TreeCrawl() ([]field.Fast, error) {
	lvl := kc.level()
	children := make([]TreeNode[field.Fast], 0, 2*len(kc.frontier))

	for _, parent := range kc.frontier {
		for _, dir := range [2]bool{false, true} {
			child := TreeNode[field.Fast]{
				Path:       append(append([]bool{}, parent.Path...), dir),
				EvalStates: make([]dpf.EvalState, len(kc.keys)),
				KeyValues:  make([]field.Pair[field.Fast], len(kc.keys)),
			}

			var mu sync.Mutex
			var firstErr error
			parallelFor(len(kc.keys), func(i int) {
				next, val, err := dpf.EvalBit[field.Pair[field.Fast]](kc.keys[i].key.DPF.Index, parent.EvalStates[i], kc.keys[i].key.DPF.Cor[lvl], dir)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				child.EvalStates[i] = next
				child.KeyValues[i] = val
			})
			if firstErr != nil {
				return nil, firstErr
			}

			var sum field.Fast
			sum = sum.Zero()
			for i, ck := range kc.keys {
				if !ck.alive {
					continue
				}
				sum = sum.AddLazy(child.KeyValues[i].X)
			}
			child.Value = sum.Reduce()

			children = append(children, child)
		}
	}

	kc.frontier = children
	kc.crawled++
	out := make([]field.Fast, len(children))
	for i, c := range children {
		out[i] = c.Value
	}
	return out, nil
}

// TreeCrawlLast is TreeCrawl specialized to the final level: it expands the
// current Fast-field frontier's leaves one more time over the Big field,
// populating frontierLast.
func (kc *KeyCollection) TreeCrawlLast() ([]field.Big, error) {
	children := make([]TreeNode[field.Big], 0, 2*len(kc.frontier))

	for _, parent := range kc.frontier {
		for _, dir := range [2]bool{false, true} {
			child := TreeNode[field.Big]{
				Path:       append(append([]bool{}, parent.Path...), dir),
				EvalStates: make([]dpf.EvalState, len(kc.keys)),
				KeyValues:  make([]field.Pair[field.Big], len(kc.keys)),
			}

			var mu sync.Mutex
			var firstErr error
			parallelFor(len(kc.keys), func(i int) {
				val, err := dpf.EvalBitLast[field.Pair[field.Big]](kc.keys[i].key.DPF.Index, parent.EvalStates[i], kc.keys[i].key.DPF.CorLast, dir)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				child.KeyValues[i] = val
			})
			if firstErr != nil {
				return nil, firstErr
			}

			var sum field.Big
			sum = sum.Zero()
			for i, ck := range kc.keys {
				if !ck.alive {
					continue
				}
				sum = sum.AddLazy(child.KeyValues[i].X)
			}
			child.Value = sum.Reduce()

			children = append(children, child)
		}
	}

	kc.frontierLast = children
	out := make([]field.Big, len(children))
	for i, c := range children {
		out[i] = c.Value
	}
	return out, nil
}

// TreeSketchFrontier builds, for each key in [start,end), the per-key vector
// of its value pairs across the current frontier, sketches it against a
// clone of the shared rand_stream, and advances the master stream by exactly
// 3+len(frontier) draws -- once per server per level, per the protocol
// contract.
func (kc *KeyCollection) TreeSketchFrontier(start, end int) ([]sketchtypes.SketchOutput[field.Fast], error) {
	if start < 0 || end > len(kc.keys) || start > end {
		return nil, ErrRangeOOB
	}

	clone := kc.randStream.Clone()
	outs := make([]sketchtypes.SketchOutput[field.Fast], end-start)
	var firstErr error
	for i := start; i < end; i++ {
		keyStream := clone.Clone()
		vec := make([]field.Pair[field.Fast], len(kc.frontier))
		for j, node := range kc.frontier {
			vec[j] = node.KeyValues[i]
		}
		out, err := sketch.SketchAt[field.Fast](vec, keyStream)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		outs[i-start] = out
	}
	if firstErr != nil {
		return nil, firstErr
	}

	if _, err := advanceStream(kc.randStream, 3+len(kc.frontier)); err != nil {
		return nil, err
	}

	kc.fastMu.Lock()
	triples := make([][]mpc.TripleShare[field.Fast], end-start)
	macKeys := make([]field.Fast, end-start)
	macKeys2 := make([]field.Fast, end-start)
	for i := start; i < end; i++ {
		triples[i-start] = kc.keys[i].key.Triples
		macKeys[i-start] = kc.keys[i].key.MacKey
		macKeys2[i-start] = kc.keys[i].key.MacKey2
	}
	// kc.level() counts the crawl that must have just preceded this call, so
	// it is one past the level actually being verified:
	// triples are indexed by the pre-crawl level (0 after the first crawl,
	// matching the DPF correction-word index TreeCrawl used for it).
	many, err := mpc.NewManyMulState(kc.serverIdxFast(), triples, macKeys, macKeys2, outs, kc.level()-1)
	kc.fastMul = many
	kc.fastMu.Unlock()
	if err != nil {
		return nil, err
	}

	return outs, nil
}

// TreeSketchFrontierLast is TreeSketchFrontier specialized to the Big-field
// final level.
func (kc *KeyCollection) TreeSketchFrontierLast(start, end int) ([]sketchtypes.SketchOutput[field.Big], error) {
	if start < 0 || end > len(kc.keys) || start > end {
		return nil, ErrRangeOOB
	}

	clone := kc.randStream.Clone()
	outs := make([]sketchtypes.SketchOutput[field.Big], end-start)
	var firstErr error
	for i := start; i < end; i++ {
		keyStream := clone.Clone()
		vec := make([]field.Pair[field.Big], len(kc.frontierLast))
		for j, node := range kc.frontierLast {
			vec[j] = node.KeyValues[i]
		}
		out, err := sketch.SketchAt[field.Big](vec, keyStream)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		outs[i-start] = out
	}
	if firstErr != nil {
		return nil, firstErr
	}

	if _, err := advanceStream(kc.randStream, 3+len(kc.frontierLast)); err != nil {
		return nil, err
	}

	kc.bigMu.Lock()
	triples := make([][]mpc.TripleShare[field.Big], end-start)
	macKeys := make([]field.Big, end-start)
	macKeys2 := make([]field.Big, end-start)
	for i := start; i < end; i++ {
		triples[i-start] = kc.keys[i].key.TriplesLast
		macKeys[i-start] = kc.keys[i].key.MacKeyLast
		macKeys2[i-start] = kc.keys[i].key.MacKey2Last
	}
	many, err := mpc.NewManyMulState(kc.serverIdxFast(), triples, macKeys, macKeys2, outs, 0)
	kc.bigMul = many
	kc.bigMu.Unlock()
	if err != nil {
		return nil, err
	}

	return outs, nil
}

// advanceStream draws and discards n field elements from the master stream,
// advancing its position by exactly n draws regardless of which field the
// caller cares about (the Fast field is used here purely as a positional
// counter; both servers must stay at the same position).
func advanceStream(s *prg.Stream, n int) (struct{}, error) {
	var zero field.Fast
	zero = zero.Zero()
	for i := 0; i < n; i++ {
		if _, err := prg.DrawFrom[field.Fast](s, zero); err != nil {
			return struct{}{}, err
		}
	}
	return struct{}{}, nil
}

// serverIdxFast reports this server's party index as a bool, derived from
// the first key's DPF index (both servers hold the same ordered key list,
// but opposite key-pair halves -- index 0 or 1 identifies which this is).
// It is a server-identity flag, not a per-key property.
func (kc *KeyCollection) serverIdxFast() bool {
	if len(kc.keys) == 0 {
		return false
	}
	return kc.keys[0].key.DPF.Index == 1
}

// CorSharesFast/CorSharesBig expose this server's ManyMulState cor-shares for
// the level most recently sketched.
func (kc *KeyCollection) CorSharesFast() mpc.ManyCorShare[field.Fast] {
	kc.fastMu.Lock()
	defer kc.fastMu.Unlock()
	return kc.fastMul.CorShares()
}

func (kc *KeyCollection) CorSharesBig() mpc.ManyCorShare[field.Big] {
	kc.bigMu.Lock()
	defer kc.bigMu.Unlock()
	return kc.bigMul.CorShares()
}

// OutSharesFast/OutSharesBig compute this server's out-shares given the
// combined public corrections.
func (kc *KeyCollection) OutSharesFast(cors mpc.ManyCor[field.Fast]) mpc.ManyOutShare[field.Fast] {
	kc.fastMu.Lock()
	defer kc.fastMu.Unlock()
	return kc.fastMul.OutShares(cors)
}

func (kc *KeyCollection) OutSharesBig(cors mpc.ManyCor[field.Big]) mpc.ManyOutShare[field.Big] {
	kc.bigMu.Lock()
	defer kc.bigMu.Unlock()
	return kc.bigMul.OutShares(cors)
}

// ApplySketchResults AND-masks each key's alive flag with the corresponding
// verification result. This never un-kills a key once dead.
func (kc *KeyCollection) ApplySketchResults(start int, alive []bool) {
	for i, ok := range alive {
		idx := start + i
		kc.keys[idx].alive = kc.keys[idx].alive && ok
	}
}

// TreePrune retains only the frontier indices where keep is true, preserving
// order.
func (kc *KeyCollection) TreePrune(keep []bool) error {
	if len(keep) != len(kc.frontier) {
		return ErrKeepLength
	}
	kept := kc.frontier[:0]
	for i, node := range kc.frontier {
		if keep[i] {
			kept = append(kept, node)
		}
	}
	kc.frontier = kept
	return nil
}

// TreePruneLast is TreePrune for the Big-field final frontier.
func (kc *KeyCollection) TreePruneLast(keep []bool) error {
	if len(keep) != len(kc.frontierLast) {
		return ErrKeepLength
	}
	kept := kc.frontierLast[:0]
	for i, node := range kc.frontierLast {
		if keep[i] {
			kept = append(kept, node)
		}
	}
	kc.frontierLast = kept
	return nil
}

// KeepValues reconstructs v = vals0[i]+vals1[i] for each position, asserts
// it does not exceed nclients (a malicious-server or bug signal), and
// returns the threshold mask.
func KeepValues[T field.Group[T]](nclients int, threshold int, vals0, vals1 []T) ([]bool, error) {
	keep := make([]bool, len(vals0))
	for i := range vals0 {
		v := vals0[i].Add(vals1[i]).Reduce()
		n := fieldToInt(v, nclients)
		if n > nclients {
			return nil, ErrCountOverflow
		}
		keep[i] = n >= threshold
	}
	return keep, nil
}

// fieldToInt recovers the small non-negative integer a reconstructed count
// is known to be (it can never exceed nclients by protocol correctness), by
// linear search against repeated addition -- counts in this protocol are
// bounded by the number of clients, never large enough to need a faster
// discrete-log-style recovery.
func fieldToInt[T field.Group[T]](v T, max int) int {
	var acc T
	acc = acc.Zero()
	var one T
	one = one.One()
	for n := 0; n <= max; n++ {
		if acc.Equal(v) {
			return n
		}
		acc = acc.Add(one)
	}
	return max + 1
}

// FinalShares returns, for each surviving node in the last frontier, its
// path and this server's additive share of its count.
func (kc *KeyCollection) FinalShares() ([][]bool, []field.Big) {
	paths := make([][]bool, len(kc.frontierLast))
	values := make([]field.Big, len(kc.frontierLast))
	for i, node := range kc.frontierLast {
		paths[i] = node.Path
		values[i] = node.Value
	}
	return paths, values
}

// FinalValues pointwise-sums two servers' final share lists; paths must
// match position for position (the caller, the leader, guarantees this by
// construction since prune always ran with identical keep vectors).
func FinalValues(paths [][]bool, vals0, vals1 []field.Big) map[string]field.Big {
	out := make(map[string]field.Big, len(paths))
	for i, p := range paths {
		out[pathKey(p)] = vals0[i].Add(vals1[i]).Reduce()
	}
	return out
}

func pathKey(path []bool) string {
	b := make([]byte, len(path))
	for i, bit := range path {
		if bit {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}
