package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weftwork/weft/version"
)

// VersionCmd returns the `weft version` command.
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Get()
			fmt.Println(info.String())
			fmt.Printf("go:       %s\n", info.GoVersion)
			fmt.Printf("platform: %s\n", info.Platform)
		},
	}
}
