// Package cmd is the a11ylens command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/a11ylens/internal/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "a11ylens",
	Short: "Accessibility inspector for live web pages",
	Long: "a11ylens drives a Chrome tab, highlights elements under the pointer with their " +
		"role and accessible name, draws the keyboard tab order and relays everything to a " +
		"terminal panel or MCP client over a local websocket gateway.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.a11ylens/config.json5, or $A11YLENS_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(panelCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	return config.ExpandHome(config.ResolvePath(cfgFile))
}

// loadConfig loads the config and fills the gateway token from the keyring.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	cfg.ResolveToken()
	return cfg, nil
}

// setupLogging installs the default slog handler from log.level/log.format.
// A config that fails to load still gets a text logger so the command can
// report the error.
func setupLogging() {
	level, format := "info", "text"
	if cfg, err := config.Load(resolveConfigPath()); err == nil {
		level, format = cfg.Log.Level, cfg.Log.Format
	}
	if verbose {
		level = "debug"
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
