package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/a11ylens/internal/config"
	"github.com/nextlevelbuilder/a11ylens/internal/gateway"
	"github.com/nextlevelbuilder/a11ylens/pkg/protocol"
)

// chromeCandidates are looked up on PATH when browser.bin is unset.
var chromeCandidates = []string{
	"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome",
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("a11ylens doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", gateway.Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Browser:")
	switch {
	case cfg.Browser.RemoteURL != "":
		fmt.Printf("    %-12s %s\n", "Remote:", cfg.Browser.RemoteURL)
	case cfg.Browser.Bin != "":
		checkPath("Binary:", cfg.Browser.Bin)
	default:
		found := false
		for _, name := range chromeCandidates {
			if path, err := exec.LookPath(name); err == nil {
				fmt.Printf("    %-12s %s\n", "Binary:", path)
				found = true
				break
			}
		}
		if !found {
			fmt.Printf("    %-12s not on PATH (a browser will be downloaded on first run)\n", "Binary:")
		}
	}
	fmt.Printf("    %-12s %v\n", "Headless:", cfg.Browser.Headless)

	fmt.Println()
	fmt.Println("  Gateway:")
	fmt.Printf("    %-12s %s\n", "URL:", cfg.Gateway.URL())
	switch {
	case cfg.Gateway.Token != "":
		fmt.Printf("    %-12s from config or environment\n", "Token:")
	default:
		tok, err := config.KeyringToken()
		switch {
		case err != nil:
			fmt.Printf("    %-12s keyring error: %s\n", "Token:", err)
		case tok == "":
			fmt.Printf("    %-12s none (gateway accepts any panel)\n", "Token:")
		default:
			fmt.Printf("    %-12s from keyring\n", "Token:")
			cfg.Gateway.Token = tok
		}
	}
	if isGatewayReachable(cfg) {
		fmt.Printf("    %-12s reachable (inspect session running)\n", "Status:")
	} else {
		fmt.Printf("    %-12s not reachable\n", "Status:")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkPath(label, path string) {
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("    %-12s %s (NOT FOUND)\n", label, path)
		return
	}
	fmt.Printf("    %-12s %s\n", label, path)
}
