// Package server exposes the monitor's operational surface over HTTP:
// Prometheus metrics, health and goroutine dumps, and a small JSON API for
// inspecting stats and steering the policy at runtime.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/chainsentry/evm-transfer-monitor/config"
	"github.com/chainsentry/evm-transfer-monitor/monitor/pending"
	"github.com/chainsentry/evm-transfer-monitor/monitor/policy"
	"github.com/chainsentry/evm-transfer-monitor/monitor/rpc"
	"github.com/chainsentry/evm-transfer-monitor/monitor/stats"
	"github.com/chainsentry/evm-transfer-monitor/runtime"
)

var log = logrus.WithField("prefix", "server")

const shutdownGrace = 2 * time.Second

// rpcView is the slice of the RPC gateway the API reads and resets.
type rpcView interface {
	Stats() rpc.Stats
	ResetCounters()
}

// queueView is the optional wallet-updates listener surface.
type queueView interface {
	Connected() bool
	Processed() int64
}

// Config wires the HTTP server to the components it exposes.
type Config struct {
	HTTP      *config.HTTPConfig
	Registry  *runtime.ServiceRegistry
	Collector *stats.Collector
	RPC       rpcView
	Policy    *policy.Policy
	Watchlist *policy.WatchedSet
	Index     *pending.Index
	Queue     queueView
}

// Service serves the monitoring and admin endpoints.
type Service struct {
	cfg          *Config
	server       *http.Server
	startFailure error
}

// NewService builds the HTTP service and its router.
func NewService(cfg *Config) *Service {
	s := &Service{cfg: cfg}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/goroutinez", s.goroutinezHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	api.HandleFunc("/stats/reset", s.resetStatsHandler).Methods(http.MethodPost)
	api.HandleFunc("/policy", s.policyHandler).Methods(http.MethodGet)
	api.HandleFunc("/policy", s.updatePolicyHandler).Methods(http.MethodPut)
	api.HandleFunc("/watchlist", s.watchlistHandler).Methods(http.MethodGet)
	api.HandleFunc("/watchlist", s.addWatchHandler).Methods(http.MethodPost)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           r,
		ReadHeaderTimeout: time.Second,
	}
	return s
}

// Start begins serving in the background.
func (s *Service) Start() {
	log.WithField("address", s.server.Addr).Info("Starting HTTP server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Could not serve HTTP")
			s.startFailure = err
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Service) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status surfaces a failed listen as unhealthy.
func (s *Service) Status() error {
	return s.startFailure
}
