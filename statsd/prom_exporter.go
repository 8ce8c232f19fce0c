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

package statsd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// RunningStats is satisfied by monitor.Monitor; it's declared here,
// at the consumer, so statsd doesn't need to import monitor.
type RunningStats interface {
	OffsetStats() (mean, stddev float64)
	DelayStats() (mean, stddev float64)
}

// PrometheusExporter serves Stats counters and offset/delay running
// statistics as Prometheus gauges.
type PrometheusExporter struct {
	registry   *prometheus.Registry
	stats      *Stats
	running    RunningStats
	listenPort int
	interval   time.Duration
	server     *http.Server
}

// NewPrometheusExporter creates an exporter that scrapes stats and
// running every interval and serves them on listenPort.
func NewPrometheusExporter(listenPort int, stats *Stats, running RunningStats, interval time.Duration) *PrometheusExporter {
	return &PrometheusExporter{
		registry:   prometheus.NewRegistry(),
		stats:      stats,
		running:    running,
		listenPort: listenPort,
		interval:   interval,
	}
}

// Start serves /metrics until ctx is cancelled.
func (e *PrometheusExporter) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	e.server = &http.Server{Addr: fmt.Sprintf(":%d", e.listenPort), Handler: mux}

	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			e.scrape()
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.server.Shutdown(shutdownCtx); err != nil {
			log.Warningf("[statsd] exporter shutdown: %v", err)
		}
	}()

	if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func (e *PrometheusExporter) scrape() {
	for key, val := range e.stats.Get() {
		e.setGauge(key, float64(val))
	}
	if e.running != nil {
		offsetMean, offsetStddev := e.running.OffsetStats()
		delayMean, delayStddev := e.running.DelayStats()
		e.setGauge("offset.mean", offsetMean)
		e.setGauge("offset.stddev", offsetStddev)
		e.setGauge("delay.mean", delayMean)
		e.setGauge("delay.stddev", delayStddev)
	}
}

func (e *PrometheusExporter) setGauge(key string, val float64) {
	name := flattenKey(key)
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: key})
	if err := e.registry.Register(g); err != nil {
		are := &prometheus.AlreadyRegisteredError{}
		if errors.As(err, are) {
			g = are.ExistingCollector.(prometheus.Gauge)
		} else {
			log.Errorf("[statsd] failed to register metric %s: %v", key, err)
			return
		}
	}
	g.Set(val)
}

func flattenKey(key string) string {
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, ".", "_")
	key = strings.ReplaceAll(key, "-", "_")
	return key
}
