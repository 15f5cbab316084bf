// Package benchgen generates Zipf-distributed client strings for the
// benchmark driver. Random client-string generation is explicitly outside
// the protocol core (spec §1); this package is the external collaborator the
// core expects to hand it finished byte strings.
package benchgen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mathrand "math/rand"
)

// Sites draws numSites distinct byteLen-byte strings, the fixed population
// client requests are drawn from. It returns an error when fewer than
// numSites distinct strings of that length exist.
func Sites(numSites, byteLen int) ([]string, error) {
	if byteLen < 8 && uint64(numSites) > uint64(1)<<(8*uint(byteLen)) {
		return nil, fmt.Errorf("benchgen: cannot draw %d distinct %d-byte sites", numSites, byteLen)
	}
	sites := make([]string, numSites)
	seen := make(map[string]bool, numSites)
	buf := make([]byte, byteLen)
	for i := 0; i < numSites; {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("benchgen: %w", err)
		}
		if s := string(buf); !seen[s] {
			seen[s] = true
			sites[i] = s
			i++
		}
	}
	return sites, nil
}

// Requests draws n client strings from sites according to a Zipf
// distribution with the given exponent (s > 1; larger values concentrate
// more mass on the first few sites), using math/rand's built-in Zipf
// generator.
func Requests(n int, sites []string, exponent float64, seed int64) ([]string, error) {
	if len(sites) == 0 {
		return nil, fmt.Errorf("benchgen: no sites to draw from")
	}
	src := mathrand.New(mathrand.NewSource(seed))
	z := mathrand.NewZipf(src, exponent, 1, uint64(len(sites)-1))
	if z == nil {
		return nil, fmt.Errorf("benchgen: invalid zipf parameters (exponent=%v)", exponent)
	}

	out := make([]string, n)
	for i := range out {
		out[i] = sites[z.Uint64()]
	}
	return out, nil
}

// RandomSeed draws an int64 seed from crypto/rand for a benchmark run that
// should not be reproducible across invocations.
func RandomSeed() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		panic(err)
	}
	return n.Int64()
}
