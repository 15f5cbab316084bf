package leader_test

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"heavyhitters/leader"
	"heavyhitters/server"
	"heavyhitters/sketch"
)

// freeAddr asks the OS for an unused localhost port.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func startServer(t *testing.T, id int, addr string) {
	t.Helper()
	srv := server.New(id)
	go func() {
		_ = srv.ListenAndServe(addr)
	}()
}

func waitDial(addr string) error {
	var err error
	for i := 0; i < 50; i++ {
		var c net.Conn
		c, err = net.Dial("tcp", addr)
		if err == nil {
			c.Close()
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("server never came up: %w", err)
}

// TestEndToEndRecoversHeavyHitter drives a full two-server protocol run over
// real TCP connections and confirms the repeated client string survives
// while the singletons are pruned away (spec §8 Scenario-style check).
func TestEndToEndRecoversHeavyHitter(t *testing.T) {
	addr0 := freeAddr(t)
	addr1 := freeAddr(t)
	startServer(t, 0, addr0)
	startServer(t, 1, addr1)
	require.NoError(t, waitDial(addr0))
	require.NoError(t, waitDial(addr1))

	const bitLen = 8
	requests := []string{"a", "a", "c", "e"}
	nclients := len(requests)
	threshold := 2

	l, err := leader.Dial(addr0, addr1, bitLen, threshold)
	require.NoError(t, err)

	require.NoError(t, l.Reset())

	pairs := make([][2]sketch.Key, nclients)
	for i, s := range requests {
		k0, k1, err := sketch.GenFromString(s, bitLen)
		require.NoError(t, err)
		pairs[i] = [2]sketch.Key{k0, k1}
	}
	require.NoError(t, l.AddKeys(pairs, 10))
	require.NoError(t, l.TreeInit())

	for level := 0; level < bitLen-1; level++ {
		require.NoError(t, l.RunLevel(nclients, 10))
	}
	require.NoError(t, l.RunLastLevel(nclients, 10))

	counts, err := l.FinalShares()
	require.NoError(t, err)
	require.Len(t, counts, 1)
	for _, v := range counts {
		require.Equal(t, int64(2), v.Int().Int64())
	}
}
