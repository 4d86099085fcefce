package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/a11ylens/internal/gateway"
	"github.com/nextlevelbuilder/a11ylens/internal/mcp"
)

// mcpCmd serves a running inspect session to an MCP client over stdio.
// stdout carries the protocol; logs stay on stderr.
func mcpCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Expose a running inspect session as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := connectPanel(ctx, cfg, "mcp")
			if err != nil {
				return fmt.Errorf("attach to inspect session: %w", err)
			}
			defer p.Close()

			srv := mcp.NewServer(mcp.NewTools(p, timeout), gateway.Version)
			return server.ServeStdio(srv)
		},
	}
	cmd.Flags().DurationVar(&timeout, "call-timeout", 15*time.Second, "per-tool call timeout")
	addGatewayFlag(cmd)
	return cmd
}
