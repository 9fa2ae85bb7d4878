package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weftwork/weft/logger"
	"github.com/weftwork/weft/opstore"
	"github.com/weftwork/weft/sync"
)

// SyncCmd returns the `weft sync` command.
func SyncCmd() *cobra.Command {
	var spaceDir string

	cmd := &cobra.Command{
		Use:   "sync <url>",
		Short: "Keep the local space in sync with a remote hub",
		Long: `Connects the local space to a remote hub (ws://host:port/ws) and keeps
the session alive, reconnecting with backoff after failures. Ops flow both
ways; either side may be ahead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dirArgs []string
			if spaceDir != "" {
				dirArgs = []string{spaceDir}
			}
			path, peer, err := resolveSpace(dirArgs)
			if err != nil {
				return err
			}

			conn, err := opstore.Open(path, peer, logger.Named("opstore"))
			if err != nil {
				return err
			}
			defer conn.Close()

			router := sync.NewRouter()
			sync.RegisterSpaceRoutes(router, conn)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-stop
				cancel()
			}()

			sync.Maintain(ctx, args[0], conn, router, logger.Named("sync"))
			return nil
		},
	}
	cmd.Flags().StringVar(&spaceDir, "space", "", "space directory (default from config)")
	return cmd
}
