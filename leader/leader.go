// Package leader implements the orchestration contract of spec §4.G: it
// drives the two servers in lockstep, one level at a time, never advancing
// past a level until both have replied, and reconstructs the final output
// from the two servers' additive shares.
package leader

import (
	"context"
	"fmt"
	"log"
	"net"

	"golang.org/x/sync/errgroup"

	"heavyhitters/collection"
	"heavyhitters/field"
	"heavyhitters/mpc"
	"heavyhitters/prg"
	"heavyhitters/sketch"
	"heavyhitters/wire"
)

// conn is a single sequential RPC stream to one server: every call blocks
// for the matching response before the next is sent, mirroring the
// protocol's strict request/response discipline per connection.
type conn struct {
	c net.Conn
}

func dial(addr string) (*conn, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("leader: dial %s: %w", addr, err)
	}
	return &conn{c: c}, nil
}

func call[Req, Resp any](cn *conn, kind wire.Kind, req Req) (Resp, error) {
	var zero Resp
	frame, err := wire.EncodeEnvelope(kind, req)
	if err != nil {
		return zero, err
	}
	if err := wire.WriteFrame(cn.c, frame); err != nil {
		return zero, err
	}

	raw, err := wire.ReadFrame(cn.c)
	if err != nil {
		return zero, err
	}
	env, err := wire.DecodeEnvelope(raw)
	if err != nil {
		return zero, err
	}
	return wire.DecodePayload[Resp](env)
}

// Leader orchestrates one protocol run against two server connections.
type Leader struct {
	depth     int
	threshold int

	s0, s1 *conn
}

// Dial connects to both servers. addr0/addr1 come from config.Server0/Server1.
func Dial(addr0, addr1 string, depth, threshold int) (*Leader, error) {
	c0, err := dial(addr0)
	if err != nil {
		return nil, err
	}
	c1, err := dial(addr1)
	if err != nil {
		return nil, err
	}
	return &Leader{depth: depth, threshold: threshold, s0: c0, s1: c1}, nil
}

// both issues the same request shape to both servers concurrently and waits
// for both replies, per the concurrency model's "two outstanding requests of
// the same shape at a time" rule.
func both[Req, Resp any](l *Leader, kind wire.Kind, req Req) (Resp, Resp, error) {
	var r0, r1 Resp
	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error {
		var err error
		r0, err = call[Req, Resp](l.s0, kind, req)
		return err
	})
	g.Go(func() error {
		var err error
		r1, err = call[Req, Resp](l.s1, kind, req)
		return err
	})
	if err := g.Wait(); err != nil {
		var zero Resp
		return zero, zero, err
	}
	return r0, r1, nil
}

// Reset recreates both servers' KeyCollections with a freshly derived shared
// seed. Production deployments must replace this with a jointly computed or
// pre-shared seed (spec §9); this reference implementation derives one
// locally (hedging a random salt through a domain-separated BLAKE3
// derive-key step, see prg.DeriveSharedSeed) and sends it to both, which is
// secure only because the leader is trusted not to collude with either
// server individually -- exactly the benchmark assumption the reference
// Rust implementation makes.
func (l *Leader) Reset() error {
	seed, err := prg.DeriveSharedSeed("heavyhitters rand_stream seed v1")
	if err != nil {
		return fmt.Errorf("deriving shared seed: %w", err)
	}
	req := wire.ResetRequest{Seed: seed, Depth: l.depth}
	_, _, err = both[wire.ResetRequest, struct{}](l, wire.KindReset, req)
	return err
}

// AddKeys streams key-share pairs to the matching server, up to
// addkeyBatchSize per RPC, preserving order on both sides identically.
func (l *Leader) AddKeys(pairs [][2]sketch.Key, addkeyBatchSize int) error {
	for start := 0; start < len(pairs); start += addkeyBatchSize {
		end := start + addkeyBatchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		keys0 := make([]sketch.Key, end-start)
		keys1 := make([]sketch.Key, end-start)
		for i := start; i < end; i++ {
			keys0[i-start] = pairs[i][0]
			keys1[i-start] = pairs[i][1]
		}

		g, _ := errgroup.WithContext(context.Background())
		g.Go(func() error {
			_, err := call[wire.AddKeysRequest, struct{}](l.s0, wire.KindAddKeys, wire.AddKeysRequest{Keys: keys0})
			return err
		})
		g.Go(func() error {
			_, err := call[wire.AddKeysRequest, struct{}](l.s1, wire.KindAddKeys, wire.AddKeysRequest{Keys: keys1})
			return err
		})
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// TreeInit initializes both servers' frontiers.
func (l *Leader) TreeInit() error {
	_, _, err := both[struct{}, struct{}](l, wire.KindTreeInit, struct{}{})
	return err
}

// RunLevel drives one intermediate (Fast-field) level: crawl, sketch in
// sub-batches of sketchBatchSize, verify, reconstruct counts, compute the
// keep mask, and prune -- steps (a)-(c) of spec §4.G.
func (l *Leader) RunLevel(nclients, sketchBatchSize int) error {
	crawl0, crawl1, err := both[struct{}, wire.TreeCrawlResponse](l, wire.KindTreeCrawl, struct{}{})
	if err != nil {
		return err
	}

	if err := l.sketchAndVerify(nclients, sketchBatchSize, false); err != nil {
		return err
	}

	keep, err := collection.KeepValues[field.Fast](nclients, l.threshold, crawl0.Values, crawl1.Values)
	if err != nil {
		return err
	}

	_, _, err = both[wire.TreePruneRequest, struct{}](l, wire.KindTreePrune, wire.TreePruneRequest{Keep: keep})
	return err
}

// RunLastLevel drives the final (Big-field) level analogously.
func (l *Leader) RunLastLevel(nclients, sketchBatchSizeLast int) error {
	crawl0, crawl1, err := both[struct{}, wire.TreeCrawlLastResponse](l, wire.KindTreeCrawlLast, struct{}{})
	if err != nil {
		return err
	}

	if err := l.sketchAndVerify(nclients, sketchBatchSizeLast, true); err != nil {
		return err
	}

	keep, err := collection.KeepValues[field.Big](nclients, l.threshold, crawl0.Values, crawl1.Values)
	if err != nil {
		return err
	}

	_, _, err = both[wire.TreePruneRequest, struct{}](l, wire.KindTreePruneLast, wire.TreePruneRequest{Keep: keep})
	return err
}

// sketchAndVerify runs the MPC verification sub-protocol over every
// key sub-batch for the level just crawled, and AND-masks failing keys'
// alive flags on both servers. The reference policy asserts all-true for
// benchmarking (spec §4.G); this implementation instead propagates the
// boolean vector, the production policy the spec leaves as an open
// question.
func (l *Leader) sketchAndVerify(nclients, batchSize int, last bool) error {
	for start := 0; start < nclients; start += batchSize {
		end := start + batchSize
		if end > nclients {
			end = nclients
		}

		if last {
			cs0, cs1, err := both[wire.TreeSketchFrontierLastRequest, mpc.ManyCorShare[field.Big]](
				l, wire.KindTreeSketchFrontierLast, wire.TreeSketchFrontierLastRequest{Start: start, End: end})
			if err != nil {
				return err
			}
			cor := mpc.CombineMany(cs0, cs1)
			out0, out1, err := both[wire.TreeOutSharesLastRequest, mpc.ManyOutShare[field.Big]](
				l, wire.KindTreeOutSharesLast, wire.TreeOutSharesLastRequest{Cor: cor})
			if err != nil {
				return err
			}
			alive := mpc.VerifyMany(out0, out1)
			if err := l.reportAlive(alive, start, true); err != nil {
				return err
			}
			continue
		}

		cs0, cs1, err := both[wire.TreeSketchFrontierRequest, mpc.ManyCorShare[field.Fast]](
			l, wire.KindTreeSketchFrontier, wire.TreeSketchFrontierRequest{Start: start, End: end})
		if err != nil {
			return err
		}
		cor := mpc.CombineMany(cs0, cs1)
		out0, out1, err := both[wire.TreeOutSharesRequest, mpc.ManyOutShare[field.Fast]](
			l, wire.KindTreeOutShares, wire.TreeOutSharesRequest{Cor: cor})
		if err != nil {
			return err
		}
		alive := mpc.VerifyMany(out0, out1)
		if err := l.reportAlive(alive, start, false); err != nil {
			return err
		}
	}
	return nil
}

// reportAlive logs rejected clients and broadcasts the acceptance vector to
// both servers so they AND-mask their alive flags identically before the
// next level's tree_crawl sums them.
func (l *Leader) reportAlive(alive []bool, start int, last bool) error {
	for i, ok := range alive {
		if !ok {
			log.Printf("leader: client %d failed sketch verification (last=%v)", start+i, last)
		}
	}
	req := wire.ApplySketchResultsRequest{Start: start, Alive: alive}
	_, _, err := both[wire.ApplySketchResultsRequest, struct{}](l, wire.KindApplySketchResults, req)
	return err
}

// FinalShares fetches both servers' final shares and pointwise-sums them
// into the reconstructed per-string counts.
func (l *Leader) FinalShares() (map[string]field.Big, error) {
	r0, r1, err := both[struct{}, wire.FinalSharesResponse](l, wire.KindFinalShares, struct{}{})
	if err != nil {
		return nil, err
	}
	if len(r0.Shares) != len(r1.Shares) {
		return nil, fmt.Errorf("leader: final share count mismatch: %d vs %d", len(r0.Shares), len(r1.Shares))
	}

	paths := make([][]bool, len(r0.Shares))
	vals0 := make([]field.Big, len(r0.Shares))
	vals1 := make([]field.Big, len(r0.Shares))
	for i := range r0.Shares {
		paths[i] = r0.Shares[i].Path
		vals0[i] = r0.Shares[i].Value
		vals1[i] = r1.Shares[i].Value
	}
	return collection.FinalValues(paths, vals0, vals1), nil
}
