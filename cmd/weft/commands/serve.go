package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/weftwork/weft/config"
	"github.com/weftwork/weft/logger"
	"github.com/weftwork/weft/opstore"
	"github.com/weftwork/weft/sync"
)

// ServeCmd returns the `weft serve` command.
func ServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve [dir]",
		Short: "Host a space over websocket for remote peers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port == 0 {
				port = cfg.Server.Port
			}

			path, peer, err := resolveSpace(args)
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
			server := sync.NewServer(conn, router, logger.Named("sync"))

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.ListenAndServe(fmt.Sprintf(":%d", port))
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case <-stop:
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	return cmd
}
