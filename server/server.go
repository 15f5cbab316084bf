// Package server implements the per-process RPC handler that wraps a
// KeyCollection behind a single mutex, per the concurrency model in spec §5:
// every handler holds the lock for its entire synchronous body, and heavy
// work inside a handler fans out across a worker pool rather than yielding.
package server

import (
	"fmt"
	"log"
	"net"
	"sync"

	"heavyhitters/collection"
	"heavyhitters/wire"
)

// Server owns exactly one KeyCollection for one server_id (0 or 1) and
// serves it to a single leader connection at a time.
type Server struct {
	serverID int

	mu sync.Mutex
	kc *collection.KeyCollection
}

// New constructs a server identity; the KeyCollection itself is created on
// the first Reset, which is also when the depth and shared seed arrive.
func New(serverID int) *Server {
	return &Server{serverID: serverID}
}

// ListenAndServe accepts leader connections at addr and serves RPCs on each
// until it closes, then accepts the next. The protocol is strictly
// request/response and single-threaded per connection, so connections are
// served one at a time on the calling goroutine; a second concurrent leader
// is not part of the protocol. It returns only when listening or accepting
// fails.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("server: accept: %w", err)
		}
		log.Printf("server %d: leader connected from %s", s.serverID, conn.RemoteAddr())
		if err := s.serveConn(conn); err != nil {
			log.Printf("server %d: connection ended: %v", s.serverID, err)
		}
		conn.Close()
	}
}

func (s *Server) serveConn(conn net.Conn) error {
	for {
		req, err := wire.ReadFrame(conn)
		if err != nil {
			return err
		}
		env, err := wire.DecodeEnvelope(req)
		if err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}

		respPayload, err := s.handle(env)
		if err != nil {
			return fmt.Errorf("handling kind %d: %w", env.Kind, err)
		}

		frame, err := wire.EncodeEnvelope(env.Kind, respPayload)
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		if err := wire.WriteFrame(conn, frame); err != nil {
			return err
		}
	}
}

// handle dispatches one request under the KeyCollection's single mutex, per
// the coarse-locking design note in spec §9: correctness does not need
// fine-grained locks because levels are processed strictly in sequence.
func (s *Server) handle(env wire.Envelope) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch env.Kind {
	case wire.KindReset:
		req, err := wire.DecodePayload[wire.ResetRequest](env)
		if err != nil {
			return nil, err
		}
		if s.kc == nil {
			s.kc = collection.New(req.Seed, req.Depth)
		} else {
			s.kc.Reset(req.Seed)
		}
		return struct{}{}, nil

	case wire.KindAddKeys:
		req, err := wire.DecodePayload[wire.AddKeysRequest](env)
		if err != nil {
			return nil, err
		}
		if err := s.kc.AddKeys(req.Keys); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case wire.KindTreeInit:
		s.kc.TreeInit()
		return struct{}{}, nil

	case wire.KindTreeCrawl:
		vals, err := s.kc.TreeCrawl()
		if err != nil {
			return nil, err
		}
		return wire.TreeCrawlResponse{Values: vals}, nil

	case wire.KindTreeCrawlLast:
		vals, err := s.kc.TreeCrawlLast()
		if err != nil {
			return nil, err
		}
		return wire.TreeCrawlLastResponse{Values: vals}, nil

	case wire.KindTreeSketchFrontier:
		req, err := wire.DecodePayload[wire.TreeSketchFrontierRequest](env)
		if err != nil {
			return nil, err
		}
		if _, err := s.kc.TreeSketchFrontier(req.Start, req.End); err != nil {
			return nil, err
		}
		return s.kc.CorSharesFast(), nil

	case wire.KindTreeSketchFrontierLast:
		req, err := wire.DecodePayload[wire.TreeSketchFrontierLastRequest](env)
		if err != nil {
			return nil, err
		}
		if _, err := s.kc.TreeSketchFrontierLast(req.Start, req.End); err != nil {
			return nil, err
		}
		return s.kc.CorSharesBig(), nil

	case wire.KindTreeOutShares:
		req, err := wire.DecodePayload[wire.TreeOutSharesRequest](env)
		if err != nil {
			return nil, err
		}
		return s.kc.OutSharesFast(req.Cor), nil

	case wire.KindTreeOutSharesLast:
		req, err := wire.DecodePayload[wire.TreeOutSharesLastRequest](env)
		if err != nil {
			return nil, err
		}
		return s.kc.OutSharesBig(req.Cor), nil

	case wire.KindTreePrune:
		req, err := wire.DecodePayload[wire.TreePruneRequest](env)
		if err != nil {
			return nil, err
		}
		return struct{}{}, s.kc.TreePrune(req.Keep)

	case wire.KindTreePruneLast:
		req, err := wire.DecodePayload[wire.TreePruneRequest](env)
		if err != nil {
			return nil, err
		}
		return struct{}{}, s.kc.TreePruneLast(req.Keep)

	case wire.KindApplySketchResults:
		req, err := wire.DecodePayload[wire.ApplySketchResultsRequest](env)
		if err != nil {
			return nil, err
		}
		s.kc.ApplySketchResults(req.Start, req.Alive)
		return struct{}{}, nil

	case wire.KindFinalShares:
		paths, values := s.kc.FinalShares()
		shares := make([]wire.FinalShare, len(paths))
		for i := range paths {
			shares[i] = wire.FinalShare{Path: paths[i], Value: values[i]}
		}
		return wire.FinalSharesResponse{Shares: shares}, nil

	default:
		return nil, fmt.Errorf("server: unknown message kind %d", env.Kind)
	}
}
