package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/a11ylens/internal/config"
	"github.com/nextlevelbuilder/a11ylens/internal/panel"
)

// gatewayURL overrides gateway.host/port for commands that attach to a
// running inspect session.
var gatewayURL string

func addGatewayFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&gatewayURL, "gateway", "", "gateway websocket URL (default from config, e.g. ws://127.0.0.1:18790/ws)")
}

func resolveGatewayURL(cfg *config.Config) string {
	if gatewayURL != "" {
		return gatewayURL
	}
	return cfg.Gateway.URL()
}

// connectPanel attaches to the gateway of a running `a11ylens inspect`.
func connectPanel(ctx context.Context, cfg *config.Config, name string) (*panel.Panel, error) {
	return panel.Connect(ctx, resolveGatewayURL(cfg), panel.DialOptions{
		Token:  cfg.Gateway.Token,
		Name:   name,
		Logger: slog.Default(),
	})
}

// isGatewayReachable reports whether a gateway accepts a panel handshake.
func isGatewayReachable(cfg *config.Config) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	p, err := connectPanel(ctx, cfg, "doctor")
	if err != nil {
		return false
	}
	p.Close()
	return true
}
