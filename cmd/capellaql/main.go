// Command capellaql is the CLI entrypoint for the connection manager: a
// `serve` command that stays connected until interrupted, and a `ping`
// one-shot connectivity check.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/spf13/cobra"

	"github.com/zx8086/capellaql-sub003/internal/config"
	"github.com/zx8086/capellaql-sub003/internal/couchbase"
	"github.com/zx8086/capellaql-sub003/internal/logger"
	"github.com/zx8086/capellaql-sub003/internal/metrics"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "capellaql",
		Short: "Resilience and orchestration layer for a Couchbase cluster connection",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(serveCmd())
	root.AddCommand(pingCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect and stay alive until interrupted, running the periodic health probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, mgr, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer mgr.Close()

			done := make(chan os.Signal, 1)
			signal.Notify(done, os.Interrupt, syscall.SIGTERM)

			log.Info("capellaql serving", "bucket", appCfg.Couchbase.Bucket)
			<-done

			log.Info("capellaql: shutting down")
			return nil
		},
	}
}

func pingCmd() *cobra.Command {
	var dumpConfig bool
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Connect once, run a readiness probe, and report health",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, mgr, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer mgr.Close()

			if dumpConfig {
				out, dumpErr := config.DumpEffective(appCfg)
				if dumpErr != nil {
					return dumpErr
				}
				fmt.Println(out)
			}

			log.Info("capellaql.ping: ok", "connected", mgr.IsConnected(), "breaker", mgr.GetCircuitBreakerState().String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&dumpConfig, "dump-config", false, "print the effective, redacted configuration as YAML")
	return cmd
}

// bootstrap loads config, builds the logger/metrics registry, and connects
// the singleton Manager, mirroring the teacher's main.go bring-up sequence
// adapted from an HTTP server to a CLI.
func bootstrap() (*config.AppConfig, *couchbase.Manager, *slog.Logger, error) {
	appCfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("capellaql: config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:      appCfg.Log.Level,
		Format:     appCfg.Log.Format,
		Output:     appCfg.Log.Output,
		Filename:   appCfg.Log.Filename,
		MaxSize:    appCfg.Log.MaxSize,
		MaxBackups: appCfg.Log.MaxBackups,
		MaxAge:     appCfg.Log.MaxAge,
		Compress:   appCfg.Log.Compress,
	})

	var reg *metrics.Registry
	if appCfg.Metrics.Enabled {
		reg = metrics.New(appCfg.Metrics.Namespace)
	}

	connect := func(connStr string, opts interface{}) (couchbase.ClusterHandle, error) {
		clusterOpts, ok := opts.(*gocb.ClusterOptions)
		if !ok {
			return nil, fmt.Errorf("capellaql: unexpected cluster options type %T", opts)
		}
		cluster, connErr := gocb.Connect(connStr, *clusterOpts)
		if connErr != nil {
			return nil, connErr
		}
		return couchbase.WrapCluster(cluster), nil
	}

	mgr := couchbase.GetInstance(log, reg, connect)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.Initialize(ctx, &appCfg.Couchbase); err != nil {
		return nil, nil, nil, fmt.Errorf("capellaql: initialize: %w", err)
	}

	return appCfg, mgr, log, nil
}
