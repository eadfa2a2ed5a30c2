// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package master

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/preforkd/internal/log"
)

// Reap outcomes recorded by Metrics.
const (
	reapExited    = "exited"
	reapSignaled  = "signaled"
	reapBootError = "boot_error"
)

// Metrics are the master's Prometheus metrics. Each Supervisor owns its
// own registry.
type Metrics struct {
	registry *prometheus.Registry

	desiredWorkers prometheus.Gauge
	rosterSize     prometheus.Gauge
	spawns         prometheus.Counter
	spawnFailures  prometheus.Counter
	reaps          *prometheus.CounterVec
	signals        *prometheus.CounterVec
	reloads        *prometheus.CounterVec
	stopsSent      *prometheus.CounterVec
}

// NewMetrics creates the metrics on a fresh registry, along with the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		desiredWorkers: f.NewGauge(prometheus.GaugeOpts{
			Name: "preforkd_desired_workers",
			Help: "Desired number of worker processes",
		}),
		rosterSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "preforkd_workers",
			Help: "Worker processes currently in the roster",
		}),
		spawns: f.NewCounter(prometheus.CounterOpts{
			Name: "preforkd_worker_spawns_total",
			Help: "Total worker processes spawned",
		}),
		spawnFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "preforkd_worker_spawn_failures_total",
			Help: "Total failed worker spawns",
		}),
		reaps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "preforkd_worker_reaps_total",
			Help: "Total worker processes reaped by outcome",
		}, []string{"outcome"}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "preforkd_signals_handled_total",
			Help: "Total signals handled by the master by signal name",
		}, []string{"signal"}),
		reloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "preforkd_reloads_total",
			Help: "Total configuration reloads by result",
		}, []string{"result"}),
		stopsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "preforkd_worker_stop_signals_total",
			Help: "Total stop signals sent to workers by signal name",
		}, []string{"signal"}),
	}
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MetricsServer serves /metrics on its own listener in the master.
type MetricsServer struct {
	srv *http.Server
	ln  net.Listener
}

// ServeMetrics starts serving m on addr. The listener is close-on-exec,
// so workers never inherit it.
func ServeMetrics(addr string, m *Metrics, logger *slog.Logger) (*MetricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", log.Error(err))
		}
	}()

	logger.Info("serving metrics", "addr", ln.Addr().String())
	return &MetricsServer{srv: srv, ln: ln}, nil
}

// Addr returns the address the server listens on.
func (s *MetricsServer) Addr() string { return s.ln.Addr().String() }

// Close shuts the server down.
func (s *MetricsServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
