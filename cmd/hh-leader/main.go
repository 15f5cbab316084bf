package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"heavyhitters/benchgen"
	"heavyhitters/config"
	"heavyhitters/leader"
	"heavyhitters/sketch"
)

func main() {
	var configPath string
	var numRequests int

	root := &cobra.Command{
		Use:   "hh-leader",
		Short: "Drive one full heavy-hitters protocol run against two servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg, numRequests)
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to the JSON config file (required)")
	root.Flags().IntVar(&numRequests, "num_requests", 0, "number of simulated client requests to generate (required)")
	root.MarkFlagRequired("config")
	root.MarkFlagRequired("num_requests")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config, numRequests int) error {
	byteLen := cfg.DataLen / 8

	sites, err := benchgen.Sites(cfg.NumSites, byteLen)
	if err != nil {
		return err
	}
	requests, err := benchgen.Requests(numRequests, sites, cfg.ZipfExponent, benchgen.RandomSeed())
	if err != nil {
		return err
	}

	pairs := make([][2]sketch.Key, numRequests)
	for i, s := range requests {
		k0, k1, err := sketch.GenFromString(s, cfg.DataLen)
		if err != nil {
			return fmt.Errorf("generating client %d's key: %w", i, err)
		}
		pairs[i] = [2]sketch.Key{k0, k1}
	}

	threshold := cfg.ThresholdCount(numRequests)
	l, err := leader.Dial(cfg.Server0, cfg.Server1, cfg.DataLen, threshold)
	if err != nil {
		return err
	}

	if err := l.Reset(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := l.AddKeys(pairs, cfg.AddKeyBatchSize); err != nil {
		return fmt.Errorf("add_keys: %w", err)
	}
	if err := l.TreeInit(); err != nil {
		return fmt.Errorf("tree_init: %w", err)
	}

	for level := 0; level < cfg.DataLen-1; level++ {
		if err := l.RunLevel(numRequests, cfg.SketchBatchSize); err != nil {
			return fmt.Errorf("level %d: %w", level, err)
		}
	}
	if err := l.RunLastLevel(numRequests, cfg.SketchBatchSizeLast); err != nil {
		return fmt.Errorf("last level: %w", err)
	}

	counts, err := l.FinalShares()
	if err != nil {
		return fmt.Errorf("final_shares: %w", err)
	}

	log.Printf("recovered %d heavy-hitter strings out of %d requests", len(counts), numRequests)
	for path, v := range counts {
		fmt.Printf("%s -> %s\n", path, v.Int().String())
	}
	return nil
}
