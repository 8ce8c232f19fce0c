/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command syncmasterd runs the Master side of the sync engine: the
// reference time source and the UDP responder that answers Slave
// exchanges.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nwtime/swsync/config"
	"github.com/nwtime/swsync/mastertime"
	"github.com/nwtime/swsync/responder"
	"github.com/nwtime/swsync/statsd"
)

var (
	cfgPathFlag  string
	verboseFlag  bool
	controlAddr  string
	syncPortFlag int
	metricsPort  int
)

var rootCmd = &cobra.Command{
	Use:   "syncmasterd",
	Short: "reference time source and UDP responder for the sync engine",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPathFlag, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&verboseFlag, "verbose", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&controlAddr, "control-addr", "127.0.0.1:12346", "address of the serve command's control endpoint")

	serveCmd.Flags().IntVar(&syncPortFlag, "port", 0, "override sync_port from config")
	serveCmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "override metrics_port from config")
	rootCmd.AddCommand(serveCmd, setReferenceTimeCmd, adjustReferenceTimeCmd)
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if cfgPathFlag != "" {
		cfg, err = config.ReadConfig(cfgPathFlag)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	if syncPortFlag != 0 {
		cfg.SyncPort = syncPortFlag
	}
	if metricsPort != 0 {
		cfg.MetricsPort = metricsPort
	}
	return cfg, cfg.Validate()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the reference time source and UDP responder until signaled",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		source := mastertime.New()
		stats := statsd.New()

		r, err := responder.New(fmt.Sprintf(":%d", cfg.SyncPort), source, stats)
		if err != nil {
			return fmt.Errorf("starting responder: %w", err)
		}
		defer r.Close()

		ctrl := newControlServer(controlAddr, source)
		exporter := statsd.NewPrometheusExporter(cfg.MetricsPort, stats, nil, cfg.SyncInterval)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() error { return r.Serve(ctx) })
		eg.Go(func() error { return ctrl.Start(ctx) })
		eg.Go(func() error { return exporter.Start(ctx) })

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		eg.Go(func() error {
			select {
			case <-sigCh:
				log.Info("received shutdown signal")
				cancel()
			case <-ctx.Done():
			}
			return nil
		})

		log.Infof("syncmasterd listening on %s", r.LocalAddr())
		if supported, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			log.Warningf("sd_notify failed: %v", err)
		} else if !supported {
			log.Debug("sd_notify not supported (not running under systemd)")
		}

		return eg.Wait()
	},
}

var setReferenceTimeCmd = &cobra.Command{
	Use:   "set-reference-time <YYYY-MM-DD HH:MM:SS>",
	Short: "rebase a running daemon's reference time to an absolute wall-clock value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newControlClient("http://" + controlAddr)
		return client.SetReferenceTime(args[0])
	},
}

var adjustReferenceTimeCmd = &cobra.Command{
	Use:   "adjust-reference-time <seconds>",
	Short: "add a delta, in seconds, to a running daemon's reference time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		delta, err := parseSeconds(args[0])
		if err != nil {
			return err
		}
		client := newControlClient("http://" + controlAddr)
		return client.AdjustReferenceTime(delta)
	},
}

func parseSeconds(s string) (float64, error) {
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
		return 0, fmt.Errorf("parsing %q as seconds: %w", s, err)
	}
	return f, nil
}

func main() {
	log.SetLevel(log.InfoLevel)
	cobra.OnInitialize(func() {
		if verboseFlag {
			log.SetLevel(log.DebugLevel)
		}
	})
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
