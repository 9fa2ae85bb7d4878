package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weftwork/weft/config"
)

// ConfigCmd returns the `weft config` command group.
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit the weft configuration",
	}
	cmd.AddCommand(configShowCmd(), configSetSpaceCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			path, err := config.FilePath()
			if err != nil {
				return err
			}

			fmt.Printf("config file:  %s\n", path)
			fmt.Printf("space path:   %s\n", cfg.Space.Path)
			fmt.Printf("peer id:      %s\n", cfg.Space.Peer)
			fmt.Printf("server port:  %d\n", cfg.Server.Port)
			fmt.Printf("sync name:    %s\n", cfg.Sync.Name)
			for label, url := range cfg.Sync.Hubs {
				fmt.Printf("sync hub:     %s = %s\n", label, url)
			}
			fmt.Printf("json logs:    %v\n", cfg.Log.JSON)
			return nil
		},
	}
}

func configSetSpaceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-space <dir>",
		Short: "Set the default space directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.Space.Path = args[0]
			if err := config.Persist(cfg); err != nil {
				return err
			}
			fmt.Printf("default space set to %s\n", args[0])
			return nil
		},
	}
}
