// Package metrics exposes Prometheus instrumentation for the scan and
// execution pipelines.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Metrics struct {
	ScansTotal         prometheus.Counter
	AccountsDecoded    prometheus.Counter
	DecodeFailures     prometheus.Counter
	OpportunitiesFound *prometheus.CounterVec
	ExecutionsTotal    *prometheus.CounterVec
	ProfitBaseUnits    prometheus.Counter
	WalletBalance      prometheus.Gauge
}

// New registers the engine's collectors on reg. Pass a fresh registry in
// tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ScansTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "liquidator_scans_total",
			Help: "Completed scan cycles.",
		}),
		AccountsDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "liquidator_scan_accounts_decoded_total",
			Help: "Position accounts decoded successfully.",
		}),
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "liquidator_scan_decode_failures_total",
			Help: "Accounts that failed to decode.",
		}),
		OpportunitiesFound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liquidator_opportunities_found_total",
			Help: "Profitable opportunities discovered.",
		}, []string{"protocol"}),
		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liquidator_executions_total",
			Help: "Execution attempts by outcome.",
		}, []string{"protocol", "status"}),
		ProfitBaseUnits: factory.NewCounter(prometheus.CounterOpts{
			Name: "liquidator_profit_base_units_total",
			Help: "Cumulative realized profit estimate in base units.",
		}),
		WalletBalance: factory.NewGauge(prometheus.GaugeOpts{
			Name: "liquidator_wallet_balance_lamports",
			Help: "Last observed wallet balance.",
		}),
	}
}

// Server serves the /metrics endpoint.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

func NewServer(addr string, reg *prometheus.Registry, log zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Server{
		srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log: log.With().Str("component", "metrics").Logger(),
	}
}

func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("metrics listener started")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("metrics listener failed")
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
