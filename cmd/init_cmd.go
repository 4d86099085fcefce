package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/a11ylens/internal/config"
)

func initCmd() *cobra.Command {
	var nonInteractive bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file and store a gateway token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(nonInteractive)
		},
	}
	cmd.Flags().BoolVar(&nonInteractive, "yes", false, "accept defaults without prompting")
	return cmd
}

func runInit(nonInteractive bool) error {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !nonInteractive {
		ok, err := promptConfirm(fmt.Sprintf("%s exists. Overwrite?", path), false)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Nothing written.")
			return nil
		}
	}

	token := cfg.Gateway.Token
	if token == "" {
		token = uuid.NewString()
	}

	if !nonInteractive {
		var err error
		if cfg.Gateway.Port, err = promptPort("Gateway port", "Panels and MCP clients connect here.", cfg.Gateway.Port); err != nil {
			return err
		}

		if cfg.Browser.Headless, err = promptConfirm("Run Chrome headless by default?", cfg.Browser.Headless); err != nil {
			return err
		}
		if cfg.Browser.Bin, err = promptString("Chrome binary", "Leave empty to download or detect one.", cfg.Browser.Bin); err != nil {
			return err
		}

		entered, err := promptPassword("Gateway token", "Leave empty to use a generated token.")
		if err != nil {
			return err
		}
		if entered != "" {
			token = entered
		}

		if cfg.Log.Format, err = promptSelect("Log format", []SelectOption[string]{
			{Label: "text", Value: "text"},
			{Label: "json", Value: "json"},
		}, formatIndex(cfg.Log.Format)); err != nil {
			return err
		}
	}

	// Prefer the keyring; keep the token in the file only when it is unavailable.
	cfg.Gateway.Token = ""
	if err := config.StoreToken(token); err != nil {
		fmt.Fprintf(os.Stderr, "Keyring unavailable (%s); storing the token in the config file.\n", err)
		cfg.Gateway.Token = token
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	fmt.Printf("Gateway: %s\n", cfg.Gateway.URL())
	return nil
}

func formatIndex(format string) int {
	if format == "json" {
		return 1
	}
	return 0
}
