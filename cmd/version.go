package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/a11ylens/internal/gateway"
	"github.com/nextlevelbuilder/a11ylens/pkg/protocol"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("a11ylens %s (protocol %d)\n", gateway.Version, protocol.ProtocolVersion)
		},
	}
}
