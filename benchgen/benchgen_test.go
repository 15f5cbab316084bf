package benchgen_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"heavyhitters/benchgen"
)

func TestSitesAreDistinctAndFixedLength(t *testing.T) {
	sites, err := benchgen.Sites(50, 4)
	require.NoError(t, err)
	require.Len(t, sites, 50)

	seen := make(map[string]bool, len(sites))
	for _, s := range sites {
		require.Len(t, s, 4)
		require.False(t, seen[s], "duplicate site drawn")
		seen[s] = true
	}
}

func TestRequestsDrawOnlyFromSites(t *testing.T) {
	sites, err := benchgen.Sites(10, 4)
	require.NoError(t, err)

	requests, err := benchgen.Requests(200, sites, 1.5, 42)
	require.NoError(t, err)
	require.Len(t, requests, 200)

	allowed := make(map[string]bool, len(sites))
	for _, s := range sites {
		allowed[s] = true
	}
	for _, r := range requests {
		require.True(t, allowed[r])
	}
}

func TestRequestsRejectsEmptySitePool(t *testing.T) {
	_, err := benchgen.Requests(10, nil, 1.5, 1)
	require.Error(t, err)
}
