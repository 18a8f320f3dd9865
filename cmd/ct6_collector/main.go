// CT6 collector: discovers six-channel CT power meters on the local
// network, ingests their readings into per-device stores and keeps the
// minute/hour/day rollup tables in lock-step with the live stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NotCoffee418/ct6_collector/pkg/backfill"
	"github.com/NotCoffee418/ct6_collector/pkg/config"
	"github.com/NotCoffee418/ct6_collector/pkg/discovery"
	"github.com/NotCoffee418/ct6_collector/pkg/ingest"
	"github.com/NotCoffee418/ct6_collector/pkg/legacyimport"
	"github.com/NotCoffee418/ct6_collector/pkg/lockfile"
	"github.com/NotCoffee418/ct6_collector/pkg/pathing"
	"github.com/NotCoffee418/ct6_collector/pkg/report"
	"github.com/NotCoffee418/ct6_collector/pkg/session"
	"github.com/NotCoffee418/ct6_collector/pkg/webserver"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	flagConfigure  bool
	flagShowTables bool
	flagConvDbs    bool
	flagRebuildDbs bool
	flagShow       bool
	flagNoGui      bool
	flagInclude    []string
	flagExclude    []string
)

var rootCmd = &cobra.Command{
	Use:           "ct6_collector",
	Short:         "Collect readings from CT6 power meters into per-device time-series stores",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().BoolVar(&flagConfigure, "configure", false, "write a fresh default config file and exit")
	rootCmd.Flags().BoolVar(&flagShowTables, "show_tables", false, "print table summaries for every store and exit")
	rootCmd.Flags().BoolVar(&flagConvDbs, "conv_dbs", false, "import from the legacy relational store and exit")
	rootCmd.Flags().BoolVar(&flagRebuildDbs, "rebuild_dbs", false, "rebuild the rollup tables from raw data and exit")
	rootCmd.Flags().BoolVar(&flagShow, "show", false, "echo each incoming JSON record")
	rootCmd.Flags().BoolVar(&flagNoGui, "no_gui", false, "do not start the web surface")
	rootCmd.Flags().StringSliceVar(&flagInclude, "include", nil, "only ingest meters at these IP addresses")
	rootCmd.Flags().StringSliceVar(&flagExclude, "exclude", nil, "never ingest meters at these IP addresses")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if flagConfigure {
		path := config.DefaultConfigPath()
		if err := config.WriteDefaultConfig(path); err != nil {
			return err
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return nil
	}

	if err := config.LoadCollectorConfig(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := config.ActiveCollectorConfig

	if flagShowTables {
		return report.ShowTables(cfg.StorageDir, os.Stdout)
	}

	// Everything past this point writes to the stores.
	lock, err := lockfile.Acquire(pathing.GetLockfilePath())
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := pathing.EnsureDir(cfg.StorageDir); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagConvDbs {
		return legacyimport.Run(ctx, cfg.MySQL, cfg.StorageDir)
	}
	if flagRebuildDbs {
		return backfill.Rebuild(ctx, cfg.StorageDir)
	}

	return runCollector(ctx, stop, cfg)
}

func runCollector(ctx context.Context, stop context.CancelFunc, cfg *config.CollectorConfig) error {
	queue := ingest.NewQueue(ingest.DefaultQueueCapacity)
	processor := ingest.NewProcessor(cfg.StorageDir)

	manager := &session.Manager{
		Queue:     queue,
		Filter:    session.NewFilter(flagInclude, flagExclude),
		MeterPort: cfg.MeterPort,
		PingCheck: cfg.PingCheck,
	}
	if flagShow {
		manager.Echo = func(line []byte) { fmt.Println(string(line)) }
	}

	if !flagNoGui && cfg.BindAddress != "" {
		server := webserver.New(cfg.BindAddress, cfg.BindPort, cfg.AccessLogPath)
		manager.OnAccept = server.Publish
		go func() {
			if err := server.Run(ctx); err != nil {
				log.Errorf("Web surface failed: %v", err)
			}
		}()
	}

	seen := make(chan discovery.DeviceSeen, 16)
	listener := &discovery.Listener{
		InterfaceAddr: cfg.DiscoveryInterface,
		Port:          cfg.DiscoveryPort,
	}
	go func() {
		if err := listener.Run(ctx, seen); err != nil {
			log.Errorf("Discovery failed: %v", err)
			stop()
		}
	}()
	go manager.Run(ctx, seen)

	// The storage goroutine is this one: it drains the queue until the
	// shutdown signal, then finishes what is left and closes the stores.
	processor.Run(ctx, queue)
	log.Println("Shutdown complete")
	return nil
}
