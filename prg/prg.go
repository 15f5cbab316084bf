// Package prg implements the fixed-key PRG used to expand DPF seeds and the
// keyed stream used to convert a seed into a field element.
//
// Two distinct AES-based constructions are used, mirroring the split in the
// design between a public, fixed-key doubling step and a per-seed keyed
// stream:
//
//   - Expand/ExpandDir use a single global AES-128 key (all zero) in a
//     Matyas-Meyer-Oseas-like mode: E_k(ctr) XOR ctr, with ctr derived from
//     the seed. This realizes a correlation-robust PRF in the ideal-cipher
//     model and is what the DPF tree-expansion step relies on.
//   - Convert keys AES with the seed itself and draws an indefinite CTR
//     keystream, exactly as a conventional seeded PRG would.
package prg

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// Seed is the 16-byte PRG seed carried at every DPF tree node.
type Seed [16]byte

// XOR returns the bytewise XOR of two seeds.
func (s Seed) XOR(o Seed) Seed {
	var out Seed
	for i := range out {
		out[i] = s[i] ^ o[i]
	}
	return out
}

var zeroKey [16]byte

// fixedBlock is the single global AES-128 cipher keyed with an all-zero key,
// shared by every Expand/ExpandDir call.
var fixedBlock cipher.Block

func init() {
	b, err := aes.NewCipher(zeroKey[:])
	if err != nil {
		panic(err)
	}
	fixedBlock = b
}

// mmoBlock computes E_fixedkey(ctr) XOR ctr where ctr is the 128-bit
// big-endian value of cleared with its low 64 bits incremented by offset.
func mmoBlock(cleared Seed, offset uint64) Seed {
	var ctr Seed
	copy(ctr[:], cleared[:])
	low := binary.BigEndian.Uint64(ctr[8:]) + offset
	binary.BigEndian.PutUint64(ctr[8:], low)

	var out Seed
	fixedBlock.Encrypt(out[:], ctr[:])
	for i := range out {
		out[i] ^= ctr[i]
	}
	return out
}

// clear zeroes the low two bits of the seed's first byte. Those two bits are
// reserved to carry the control-bit pair produced by Expand and must not
// influence the cipher input.
func clear(seed Seed) Seed {
	cleared := seed
	cleared[0] &^= 0x03
	return cleared
}

// Expand performs deterministic seed doubling: it returns the pair of
// control bits carried in the low two bits of seed's first byte (negated,
// per construction) together with the two expanded child seeds.
func Expand(seed Seed) (bitL, bitR bool, seedL, seedR Seed) {
	byte0 := seed[0]
	bitL = byte0&1 == 0
	bitR = byte0&2 == 0

	cleared := clear(seed)
	seedL = mmoBlock(cleared, 0)
	seedR = mmoBlock(cleared, 1)
	return bitL, bitR, seedL, seedR
}

// Dir selects which child a descent should keep.
type Dir bool

const (
	Left  Dir = false
	Right Dir = true
)

// ExpandDir computes only the half of Expand that is actually needed. Both
// control bits are still parsed from seed (they are free), but only the
// requested child seed is computed; the counter offset for the unused half
// is still reserved so that repeated calls stay aligned with a full Expand.
func ExpandDir(seed Seed, dir Dir) (bitL, bitR bool, child Seed) {
	byte0 := seed[0]
	bitL = byte0&1 == 0
	bitR = byte0&2 == 0

	cleared := clear(seed)
	offset := uint64(0)
	if dir == Right {
		offset = 1
	}
	child = mmoBlock(cleared, offset)
	return bitL, bitR, child
}

// Sampler draws a field element from an indefinite keystream. Implementations
// live in the field package so that prg need not know about any specific
// field's modulus or rejection-sampling rule.
type Sampler[T any] interface {
	SampleStream(next func(n int) []byte) (T, error)
}

// Convert turns a seed into a fresh seed plus one field element, without
// bias. It keys a conventional AES-CTR keystream with seed itself (no
// bit-clearing -- the full 16 bytes are available as key material), draws 16
// bytes for the new seed, and then asks the field's own sampler for as many
// further bytes as it needs.
func Convert[T any](seed Seed, sampler Sampler[T]) (Seed, T, error) {
	block, err := aes.NewCipher(seed[:])
	if err != nil {
		var zero T
		return Seed{}, zero, err
	}
	var iv [aes.BlockSize]byte
	stream := cipher.NewCTR(block, iv[:])

	next := func(n int) []byte {
		buf := make([]byte, n)
		stream.XORKeyStream(buf, buf)
		return buf
	}

	var newSeed Seed
	copy(newSeed[:], next(16))

	value, err := sampler.SampleStream(next)
	if err != nil {
		var zero T
		return Seed{}, zero, err
	}
	return newSeed, value, nil
}

// Stream is the shared, cloneable randomness source used to derive per-level
// sketch coefficients identically on both servers (see the key-collection
// engine). Cloning preserves the current position so that every key
// consulted at a given level observes the same positional sequence, while
// only explicit Draw calls on the un-cloned master stream advance it.
type Stream struct {
	seed Seed
}

// NewStream seeds a shared stream. Both servers must be given the same seed.
func NewStream(seed Seed) *Stream {
	return &Stream{seed: seed}
}

// Clone returns an independent copy positioned exactly where the receiver
// currently is. Advancing the clone does not affect the original.
func (s *Stream) Clone() *Stream {
	return &Stream{seed: s.seed}
}

// RandomSeed draws a fresh, unbiased 16-byte seed from the system CSPRNG. Gen
// uses this for the two key roots; nothing derived from a shared stream ever
// needs this, since the whole point of the stream is reproducibility across
// servers.
func RandomSeed() Seed {
	var s Seed
	if _, err := rand.Read(s[:]); err != nil {
		panic(err)
	}
	return s
}

// DeriveSharedSeed produces the shared rand_stream seed the leader hands to
// both servers in Reset: a fresh 32-byte random salt is run through a
// domain-separated BLAKE3 derive-key step. Hashing evens out bias in the
// salt's bytes, but the seed is a deterministic function of the salt and the
// public context string, so it is no harder to predict than the salt itself.
func DeriveSharedSeed(context string) (Seed, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return Seed{}, err
	}
	derived := make([]byte, 16)
	blake3.DeriveKey(context, salt, derived)

	var s Seed
	copy(s[:], derived)
	return s, nil
}

// DrawFrom advances the stream by one field element and returns it.
func DrawFrom[T any](s *Stream, sampler Sampler[T]) (T, error) {
	newSeed, value, err := Convert(s.seed, sampler)
	if err != nil {
		var zero T
		return zero, err
	}
	s.seed = newSeed
	return value, nil
}
