// Package wire defines the opaque typed messages exchanged between the
// leader and the two servers, and the binary codec used to serialize them.
// Grounded in the teacher's RPC handler pattern: a small closed set of
// message kinds, each with its own request/response payload, carried over a
// single framed connection.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"heavyhitters/field"
	"heavyhitters/mpc"
	"heavyhitters/prg"
	"heavyhitters/sketch"
)

// maxFrameLen guards against a corrupt or malicious length prefix causing an
// unbounded allocation.
const maxFrameLen = 256 << 20

// WriteFrame writes a 4-byte big-endian length prefix followed by data.
func WriteFrame(w io.Writer, data []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("wire: frame length %d exceeds maximum", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Kind identifies a message's payload shape on the wire.
type Kind uint8

const (
	KindReset Kind = iota + 1
	KindAddKeys
	KindTreeInit
	KindTreeCrawl
	KindTreeCrawlLast
	KindTreeSketchFrontier
	KindTreeSketchFrontierLast
	KindTreeOutShares
	KindTreeOutSharesLast
	KindTreePrune
	KindTreePruneLast
	KindApplySketchResults
	KindFinalShares
)

// Envelope is one framed message: a kind tag plus its cbor-encoded payload.
// Encode/Decode keep the codec itself generic over payload shape so every
// RPC method can have its own concrete Go type.
type Envelope struct {
	Kind    Kind
	Payload []byte
}

var encMode, decMode = mustCodec()

func mustCodec() (cbor.EncMode, cbor.DecMode) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return enc, dec
}

// EncodeEnvelope serializes kind+payload as a single cbor-encoded frame.
func EncodeEnvelope(kind Kind, payload any) ([]byte, error) {
	body, err := encMode.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(Envelope{Kind: kind, Payload: body})
}

// DecodeEnvelope splits a frame into its kind and raw payload bytes.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// DecodePayload unmarshals an envelope's payload into the concrete type the
// caller expects for its Kind.
func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	err := decMode.Unmarshal(env.Payload, &out)
	return out, err
}

// Request/response payload types, one pair per message kind in §6.

type AddKeysRequest struct {
	Keys []sketch.Key
}

type TreeCrawlResponse struct {
	Values []field.Fast
}

type TreeCrawlLastResponse struct {
	Values []field.Big
}

type TreeSketchFrontierRequest struct {
	Start, End int
}

type TreeSketchFrontierLastRequest struct {
	Start, End int
}

type TreeOutSharesRequest struct {
	Cor mpc.ManyCor[field.Fast]
}

type TreeOutSharesLastRequest struct {
	Cor mpc.ManyCor[field.Big]
}

type TreePruneRequest struct {
	Keep []bool
}

// ApplySketchResultsRequest carries the per-key acceptance vector for the
// sub-batch [Start,Start+len(Alive)) so both servers AND-mask their alive
// flags identically before the next level's tree_crawl sums them.
type ApplySketchResultsRequest struct {
	Start int
	Alive []bool
}

type FinalShare struct {
	Path  []bool
	Value field.Big
}

type FinalSharesResponse struct {
	Shares []FinalShare
}

// ResetRequest lets Reset carry the shared rand_stream seed alongside the
// tree depth, even though the spec's Reset is nominally an empty message --
// both servers must still agree on the depth and seed somehow, and this is
// the natural place for the leader to supply them.
type ResetRequest struct {
	Seed  prg.Seed
	Depth int
}
