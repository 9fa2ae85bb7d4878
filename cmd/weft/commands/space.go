package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weftwork/weft/config"
	"github.com/weftwork/weft/logger"
	"github.com/weftwork/weft/opstore"
	"github.com/weftwork/weft/space"
)

// SpaceCmd returns the `weft space` command group.
func SpaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "space",
		Short: "Create and inspect spaces",
	}
	cmd.AddCommand(spaceNewCmd(), spaceInfoCmd())
	return cmd
}

func spaceNewCmd() *cobra.Command {
	var setDefault bool

	cmd := &cobra.Command{
		Use:   "new <dir>",
		Short: "Create a new space in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			peer, err := config.EnsurePeerID(cfg)
			if err != nil {
				return err
			}

			conn, err := opstore.Create(args[0], peer, logger.Named("opstore"))
			if err != nil {
				return err
			}
			defer conn.Close()

			fmt.Printf("created space %s at %s\n", conn.Space().ID(), args[0])

			if setDefault {
				cfg.Space.Path = args[0]
				if err := config.Persist(cfg); err != nil {
					return err
				}
				fmt.Println("set as default space")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&setDefault, "default", false, "set as the default space")
	return cmd
}

func spaceInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info [dir]",
		Short: "Show a space's id, name and trees",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, peer, err := resolveSpace(args)
			if err != nil {
				return err
			}

			conn, err := opstore.Open(path, peer, logger.Named("opstore"))
			if err != nil {
				return err
			}
			defer conn.Close()

			conn.Do(func(sp *space.Space) {
				fmt.Printf("id:          %s\n", sp.ID())
				fmt.Printf("name:        %s\n", sp.Name())
				fmt.Printf("needs setup: %v\n", sp.NeedsSetup())
				ids := sp.AppTreeIDs()
				fmt.Printf("app trees:   %d\n", len(ids))
				for _, id := range ids {
					fmt.Printf("  %s\n", id)
				}
			})
			return nil
		},
	}
}

// resolveSpace picks the space directory from args or the configured
// default, and ensures a stable peer id.
func resolveSpace(args []string) (path, peer string, err error) {
	cfg, err := config.Load()
	if err != nil {
		return "", "", err
	}
	peer, err = config.EnsurePeerID(cfg)
	if err != nil {
		return "", "", err
	}

	if len(args) > 0 && args[0] != "" {
		return args[0], peer, nil
	}
	if cfg.Space.Path == "" {
		return "", "", fmt.Errorf("no space directory given and none configured; run `weft space new <dir> --default`")
	}
	return cfg.Space.Path, peer, nil
}
