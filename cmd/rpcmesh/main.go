// Package main is the entrypoint for the rpcmesh node and its operator tools.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/morezero/rpcmesh/internal/config"
)

// Version of the rpcmesh binary.
const Version = "0.3.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rpcmesh",
		Short: "JSON-over-HTTP RPC node",
		Long: fmt.Sprintf(`rpcmesh (v%s)

Serves registered classes as "service:class:method" over HTTP, routes nested
calls through round-robin endpoint pools and discovers peers over COMMS.

Configuration comes from the environment (see internal/config); .env and .env.local
are loaded first when present.`, Version),
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			loadEnvFiles()
		},
	}
	root.AddCommand(
		newServeCmd(),
		newCallCmd(),
		newAnnounceCmd(),
		newMigrateCmd(),
		newEnsureDBCmd(),
		newTokenCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of rpcmesh",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "rpcmesh v%s\n", Version)
			},
		},
	)
	return root
}

// loadEnvFiles loads .env then .env.local. Existing variables win.
func loadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
