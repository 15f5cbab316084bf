// Package config loads the JSON configuration shared by the leader and
// server binaries. Generating benchmark client strings from num_sites and
// zipf_exponent is explicitly out of scope for the core (spec §1); this
// package only carries the fields, it does not interpret them.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config mirrors the recognized JSON options from spec §6.
type Config struct {
	DataLen             int     `json:"data_len"`
	AddKeyBatchSize     int     `json:"addkey_batch_size"`
	SketchBatchSize     int     `json:"sketch_batch_size"`
	SketchBatchSizeLast int     `json:"sketch_batch_size_last"`
	NumSites            int     `json:"num_sites"`
	Threshold           float64 `json:"threshold"`
	ZipfExponent        float64 `json:"zipf_exponent"`
	Server0             string  `json:"server0"`
	Server1             string  `json:"server1"`
}

// Load reads and parses a config file, validating the invariants the
// protocol depends on (data_len a multiple of 8; batch sizes positive).
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if c.DataLen <= 0 || c.DataLen%8 != 0 {
		return Config{}, fmt.Errorf("config: data_len must be a positive multiple of 8, got %d", c.DataLen)
	}
	if c.AddKeyBatchSize <= 0 {
		return Config{}, fmt.Errorf("config: addkey_batch_size must be positive")
	}
	if c.SketchBatchSize <= 0 || c.SketchBatchSizeLast <= 0 {
		return Config{}, fmt.Errorf("config: sketch batch sizes must be positive")
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return Config{}, fmt.Errorf("config: threshold must be in [0,1], got %f", c.Threshold)
	}
	return c, nil
}

// ThresholdCount converts the configured fraction into an absolute client
// count for a run of n clients.
func (c Config) ThresholdCount(n int) int {
	return int(c.Threshold * float64(n))
}
