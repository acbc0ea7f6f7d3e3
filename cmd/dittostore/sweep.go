package main

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/gc"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var watch bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run pending actions and purge expired cache entries",
	Long: `Run one collector sweep: every backend with pending actions (deferred
deletions, tier confirmations) settles them, then expired restoration cache
entries are purged.

With --watch the collector keeps sweeping at the configured interval and the
metrics server is started when metrics are enabled, until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withApp(ctx, func(a *app) error {
			collectorCfg := gc.Config{
				Enabled:           true,
				Interval:          cfg.Collector.Interval,
				SweepTimeout:      cfg.Collector.SweepTimeout,
				PurgeExpiredCache: cfg.Collector.PurgeExpiredCache,
			}
			collector, err := gc.NewCollector(a.reg, a.state, collectorCfg)
			if err != nil {
				return err
			}

			if !watch {
				stats, err := collector.RunOnce(ctx)
				if stats != nil {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), stats.Summary())
				}
				return err
			}
			return runWatch(ctx, a, collector)
		})
	},
}

// runWatch runs the collector (and the metrics server) until ctx is done.
func runWatch(ctx context.Context, a *app, collector *gc.Collector) error {
	if !cfg.Collector.Enabled {
		logger.Warn("Collector disabled in configuration, --watch sweeps anyway")
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.metrics.Server != nil {
		srv := a.metrics.Server
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	collector.Start()
	logger.Info("Collector running every %s. Press Ctrl+C to stop.", cfg.Collector.Interval)

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutdown signal received, stopping collector...")

		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return collector.Stop(stopCtx)
	})

	return g.Wait()
}

func init() {
	sweepCmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep sweeping at the configured interval")
	rootCmd.AddCommand(sweepCmd)
}
