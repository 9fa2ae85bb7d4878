package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weftwork/weft/cmd/weft/commands"
	"github.com/weftwork/weft/config"
	"github.com/weftwork/weft/logger"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "weft - local-first replicated workspace",
	Long: `weft - a local-first, multi-peer workspace.

All workspace state lives in a replicated tree persisted as append-only op
files. Peers converge through a shared directory or a websocket hub; no peer
is special and no server is required.

Available commands:
  space  - Create and inspect spaces
  serve  - Host a space over websocket for remote peers
  sync   - Connect a local space to a remote hub
  config - Show and edit the weft configuration

Examples:
  weft space new ~/spaces/personal    # Create a space
  weft serve                          # Host the configured space
  weft sync ws://home.local:8470/ws   # Sync with a remote hub`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return logger.Initialize(jsonOutput || cfg.Log.JSON)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "structured JSON log output")

	rootCmd.AddCommand(commands.SpaceCmd())
	rootCmd.AddCommand(commands.ServeCmd())
	rootCmd.AddCommand(commands.SyncCmd())
	rootCmd.AddCommand(commands.ConfigCmd())
	rootCmd.AddCommand(commands.VersionCmd())

	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
