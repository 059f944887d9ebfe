// Package commands implements the nsearch command line.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/ncobase/nsearch/config"
	"github.com/ncobase/nsearch/data/metrics"
	"github.com/ncobase/nsearch/data/redis"
	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/logging/logger"
	"github.com/ncobase/nsearch/logging/observes"
	"github.com/ncobase/nsearch/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// app holds what every subcommand shares once configuration is loaded
type app struct {
	configFile string
	cfg        *config.Config
	client     *search.Client
	registry   *prometheus.Registry
	closers    []func()
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	info := version.Get()
	rootCmd := &cobra.Command{
		Use:           "nsearch",
		Short:         "Query and maintain search indexes across engines",
		Version:       info.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	rootCmd.SetVersionTemplate(info.String() + "\n")
	rootCmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "config file path")

	rootCmd.AddCommand(
		newPingCommand(a),
		newSearchCommand(a),
		newSchemaCommand(a),
		newIDsCommand(a),
		newCountCommand(a),
		newReindexCommand(a),
		newServeCommand(a),
	)
	return rootCmd
}

// setup loads configuration and builds the search client. A client set
// beforehand is kept as is.
func (a *app) setup(ctx context.Context) error {
	if a.client != nil {
		return nil
	}

	cfg, err := config.Init(a.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg

	cleanup, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	logger.SetVersion(version.Get().Version)

	if cfg.Observes != nil {
		enabled, err := observes.NewSentry(cfg.Observes.Sentry, cfg.AppName)
		if err != nil {
			logger.Warnf(ctx, "failed to initialize sentry: %v", err)
		} else if enabled {
			logger.AddHook(logger.NewSentryHook())
			a.closers = append(a.closers, func() { sentry.Flush(2 * time.Second) })
		}

		shutdown, err := observes.NewTracer(ctx, cfg.Observes.Tracer)
		if err != nil {
			logger.Warnf(ctx, "failed to initialize tracer: %v", err)
		} else {
			a.closers = append(a.closers, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(ctx)
			})
		}
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts := []search.ClientOption{
		search.WithCollector(metrics.NewPrometheusCollector(a.registry)),
	}

	if swap := cfg.Search.Swap; swap != nil && swap.Lock == "redis" {
		rdb, err := redis.NewClient(ctx, swap.Redis)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		opts = append(opts, search.WithLocker(redis.NewLocker(rdb, swap.LockTTL)))
	}

	client, err := search.NewClient(cfg.Search, opts...)
	if err != nil {
		return err
	}
	a.client = client
	return nil
}

// close releases resources in reverse acquisition order
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
