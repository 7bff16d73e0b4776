package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/spf13/cobra"

	helpers "github.com/sandboxws/isotope/mpp/pkg/arrow/helpers"
	"github.com/sandboxws/isotope/mpp/pkg/config"
	"github.com/sandboxws/isotope/mpp/pkg/engine"
	"github.com/sandboxws/isotope/mpp/pkg/logger"
	"github.com/sandboxws/isotope/mpp/pkg/metrics"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "mpp-runtime",
		Short:        "Exchange and count-merge runtime",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (yaml, toml or json)")

	root.AddCommand(newCountCmd(&configPath))
	return root
}

func newCountCmd(configPath *string) *cobra.Command {
	opts := countOptions{}
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count series across simulated shards and merge the partial counts",
		PreRunE: func(*cobra.Command, []string) error {
			if opts.shards < 1 || opts.series < 0 || opts.devices < 1 {
				return fmt.Errorf("shards and devices must be positive and series non-negative")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger.Init(os.Stderr, cfg.Log)

			if metricsAddr == "" {
				metricsAddr = cfg.Metrics.Addr
			}
			if metricsAddr != "" {
				srv := metrics.ServeMetrics(metricsAddr)
				defer srv.Close()
				slog.Info("serving metrics", "addr", metricsAddr)
			}

			alloc := helpers.NewTrackingAllocator(memory.DefaultAllocator)
			err = engine.RunWithGracefulShutdown(context.Background(), func(ctx context.Context) error {
				return runCount(ctx, cfg, alloc, opts, cmd.OutOrStdout())
			}, 30*time.Second)
			if err != nil {
				return err
			}
			if err := alloc.CheckReleased(); err != nil {
				slog.Warn("arrow memory not released", "error", err)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.shards, "shards", 3, "number of shards")
	f.IntVar(&opts.series, "series", 100, "series per shard")
	f.IntVar(&opts.devices, "devices", 4, "devices the series are spread over")
	f.IntVar(&opts.level, "level", 2, "path level to group by when --grouped is set")
	f.BoolVar(&opts.grouped, "grouped", false, "group counts by path level")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}
