package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ncobase/nsearch/config"
	"github.com/ncobase/nsearch/logging/logger"
	"github.com/ncobase/nsearch/server"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srvCfg := &config.Server{}
			if a.cfg != nil && a.cfg.Server != nil {
				*srvCfg = *a.cfg.Server
			}
			if host != "" {
				srvCfg.Host = host
			}
			if port > 0 {
				srvCfg.Port = port
			}

			config.Watch(func(cfg *config.Config) {
				if err := a.client.Reload(cfg.Search); err != nil {
					logger.Errorf(context.Background(), "failed to apply reloaded search config: %v", err)
					return
				}
				logger.Infof(context.Background(), "search configuration reloaded")
			}, func(err error) {
				logger.Errorf(context.Background(), "config reload failed: %v", err)
			})

			var opts []server.Option
			if a.registry != nil {
				opts = append(opts, server.WithGatherer(a.registry))
			}
			return server.New(a.client, srvCfg, opts...).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen host, overrides server.host")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port, overrides server.port")
	return cmd
}
