package wire_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"heavyhitters/field"
	"heavyhitters/wire"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("some cbor body")

	require.NoError(t, wire.WriteFrame(&buf, payload))

	got, err := wire.ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	hdr[0] = 0xFF
	hdr[1] = 0xFF
	hdr[2] = 0xFF
	hdr[3] = 0xFF
	buf.Write(hdr[:])

	_, err := wire.ReadFrame(&buf)
	require.Error(t, err)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	req := wire.TreePruneRequest{Keep: []bool{true, false, true}}
	body, err := wire.EncodeEnvelope(wire.KindTreePrune, req)
	require.NoError(t, err)

	env, err := wire.DecodeEnvelope(body)
	require.NoError(t, err)
	require.Equal(t, wire.KindTreePrune, env.Kind)

	got, err := wire.DecodePayload[wire.TreePruneRequest](env)
	require.NoError(t, err)
	require.Equal(t, req.Keep, got.Keep)
}

func TestResetRequestRoundTripsSeed(t *testing.T) {
	req := wire.ResetRequest{Seed: [16]byte{1, 2, 3, 4}, Depth: 24}
	body, err := wire.EncodeEnvelope(wire.KindReset, req)
	require.NoError(t, err)

	env, err := wire.DecodeEnvelope(body)
	require.NoError(t, err)

	got, err := wire.DecodePayload[wire.ResetRequest](env)
	require.NoError(t, err)
	require.Equal(t, req.Seed, got.Seed)
	require.Equal(t, req.Depth, got.Depth)
}

// TestBigSurvivesCBORRoundTrip confirms field.Big's BinaryMarshaler makes it
// through cbor without reflecting into the unexported *big.Int.
func TestBigSurvivesCBORRoundTrip(t *testing.T) {
	v := field.RandomBig()
	req := wire.FinalSharesResponse{Shares: []wire.FinalShare{{Path: []bool{true, false}, Value: v}}}

	body, err := wire.EncodeEnvelope(wire.KindFinalShares, req)
	require.NoError(t, err)

	env, err := wire.DecodeEnvelope(body)
	require.NoError(t, err)

	got, err := wire.DecodePayload[wire.FinalSharesResponse](env)
	require.NoError(t, err)
	require.True(t, got.Shares[0].Value.Equal(v))
}
