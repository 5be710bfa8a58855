package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pdpsim/internal/mcp"
	"github.com/nvandessel/pdpsim/internal/store"
)

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve pdpsim tools over MCP (stdio)",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing
pdpsim_simulate, pdpsim_evaluate and pdpsim_history.

Experiments land in the SQLite store named by output.store when set,
otherwise in memory for the lifetime of the server. Logs go to stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			auditDir, _ := cmd.Flags().GetString("audit-dir")
			logger := newLogger(cmd, cfg)

			var st store.Store
			if cfg.Output.Store != "" {
				sqlite, err := store.Open(cfg.Output.Store)
				if err != nil {
					return fmt.Errorf("failed to open store: %w", err)
				}
				defer sqlite.Close()
				st = sqlite
			}

			server, err := mcp.NewServer(&mcp.Config{
				Name:     "pdpsim",
				Version:  version,
				Settings: cfg,
				Store:    st,
				AuditDir: auditDir,
				Logger:   logger,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			logger.Info("mcp server starting", "version", version, "store", cfg.Output.Store)
			return server.Run(cmd.Context())
		},
	}

	cmd.Flags().String("audit-dir", "", "Directory for mcp_audit.jsonl (empty disables auditing)")
	return cmd
}
