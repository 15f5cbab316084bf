package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"heavyhitters/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `{
		"data_len": 24,
		"addkey_batch_size": 1000,
		"sketch_batch_size": 500,
		"sketch_batch_size_last": 500,
		"num_sites": 1000,
		"threshold": 0.01,
		"zipf_exponent": 1.1,
		"server0": "127.0.0.1:9000",
		"server1": "127.0.0.1:9001"
	}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 24, cfg.DataLen)
	require.Equal(t, "127.0.0.1:9000", cfg.Server0)
	require.Equal(t, 10, cfg.ThresholdCount(1000))
}

func TestLoadRejectsNonMultipleOfEightDataLen(t *testing.T) {
	path := writeConfig(t, `{"data_len": 23, "addkey_batch_size": 1, "sketch_batch_size": 1, "sketch_batch_size_last": 1, "threshold": 0.1}`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsThresholdOutOfRange(t *testing.T) {
	path := writeConfig(t, `{"data_len": 8, "addkey_batch_size": 1, "sketch_batch_size": 1, "sketch_batch_size_last": 1, "threshold": 1.5}`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
