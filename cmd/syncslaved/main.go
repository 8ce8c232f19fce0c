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

// Command syncslaved runs the Slave side of the sync engine: it
// disciplines a software clock toward a configured Master and prints
// state transitions and periodic sample summaries to the console.
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
	"github.com/nwtime/swsync/controller"
	"github.com/nwtime/swsync/monitor"
	"github.com/nwtime/swsync/requester"
	"github.com/nwtime/swsync/statsd"
	"github.com/nwtime/swsync/swclock"
)

var (
	cfgPathFlag string
	verboseFlag bool
	masterFlag  string
	quietFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "syncslaved",
	Short: "disciplines a software clock toward a Master over UDP",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgPathFlag, "config", "", "path to a YAML config file")
	rootCmd.Flags().BoolVar(&verboseFlag, "verbose", false, "enable debug logging")
	rootCmd.Flags().StringVar(&masterFlag, "master", "", "override master_ip:sync_port from config")
	rootCmd.Flags().BoolVar(&quietFlag, "quiet", false, "disable the console status observer")
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
	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, args []string) error {
	if verboseFlag {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	masterAddr := fmt.Sprintf("%s:%d", cfg.MasterIP, cfg.SyncPort)
	if masterFlag != "" {
		masterAddr = masterFlag
	}

	clock := swclock.New(0, cfg.MaxRateAdjustment)
	stats := statsd.New()
	req, err := requester.Dial(masterAddr, clock, cfg.SyncTimeout, stats)
	if err != nil {
		return fmt.Errorf("connecting to master %s: %w", masterAddr, err)
	}
	defer req.Close()

	mon := monitor.New(monitor.DefaultHistorySize)
	if !quietFlag {
		mon.Subscribe(newConsoleObserver())
	}

	ctrl := controller.New(cfg, req, clock, mon, stats)
	exporter := statsd.NewPrometheusExporter(cfg.MetricsPort, stats, mon, cfg.SyncInterval)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return ctrl.Run(ctx) })
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

	log.Infof("syncslaved disciplining against master %s", masterAddr)
	if supported, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warningf("sd_notify failed: %v", err)
	} else if !supported {
		log.Debug("sd_notify not supported (not running under systemd)")
	}

	return eg.Wait()
}

func main() {
	log.SetLevel(log.InfoLevel)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
