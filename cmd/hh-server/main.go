package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"heavyhitters/config"
	"heavyhitters/server"
)

func main() {
	var configPath string
	var serverID int

	root := &cobra.Command{
		Use:   "hh-server",
		Short: "Run one server half of the heavy-hitters protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverID != 0 && serverID != 1 {
				return fmt.Errorf("--server_id must be 0 or 1, got %d", serverID)
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			addr := cfg.Server0
			if serverID == 1 {
				addr = cfg.Server1
			}

			srv := server.New(serverID)
			return srv.ListenAndServe(addr)
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to the JSON config file (required)")
	root.Flags().IntVar(&serverID, "server_id", -1, "which server half this process runs, 0 or 1 (required)")
	root.MarkFlagRequired("config")
	root.MarkFlagRequired("server_id")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
