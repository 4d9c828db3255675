package main

import (
	"github.com/spf13/cobra"

	"github.com/morezero/rpcmesh/internal/demo"
	"github.com/morezero/rpcmesh/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a node serving the demo classes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Port, _ = flags.GetInt("port")
			}
			if flags.Changed("service") {
				cfg.ServiceName, _ = flags.GetString("service")
			}
			if flags.Changed("tier") {
				cfg.Tier, _ = flags.GetString("tier")
			}
			return server.Run(cmd.Context(), cfg, demo.Register)
		},
	}
	cmd.Flags().Int("port", 0, "listen port, overrides RPC_PORT")
	cmd.Flags().String("service", "", "service name, overrides SERVICE_NAME")
	cmd.Flags().String("tier", "", "discovery tier (api or srv), overrides RPC_TIER")
	return cmd
}
