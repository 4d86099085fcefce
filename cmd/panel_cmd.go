package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/a11ylens/internal/panel"
)

func panelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "panel",
		Short: "Open the interactive panel for a running inspect session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := connectPanel(ctx, cfg, "panel")
			if err != nil {
				return err
			}
			defer p.Close()
			return panel.Run(ctx, p)
		},
	}
	addGatewayFlag(cmd)
	return cmd
}
