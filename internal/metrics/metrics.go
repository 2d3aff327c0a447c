package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Poll loop metrics
	PollTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appwarden_poll_ticks_total",
			Help: "Total number of poll ticks by outcome",
		},
		[]string{"result"},
	)

	PollTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "appwarden_poll_tick_duration_seconds",
			Help:    "Duration of a single poll tick in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	WatchdogRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "appwarden_watchdog_restarts_total",
			Help: "Number of times the watchdog restarted the poll loop",
		},
	)

	// Session metrics
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appwarden_session_transitions_total",
			Help: "Session state transitions",
		},
		[]string{"from", "to"},
	)

	UsageSecondsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appwarden_usage_seconds_consumed_total",
			Help: "Budget seconds consumed by limited apps",
		},
		[]string{"app"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "appwarden_active_sessions",
			Help: "Number of session snapshots held in memory",
		},
	)

	// Enforcement metrics
	PresenterInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appwarden_presenter_invocations_total",
			Help: "Enforcement presenter invocations by prompt kind",
		},
		[]string{"kind"},
	)

	PresenterSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appwarden_presenter_suppressed_total",
			Help: "Prompts suppressed because one was already presenting",
		},
		[]string{"kind"},
	)

	// Storage metrics
	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appwarden_store_errors_total",
			Help: "Storage errors by operation",
		},
		[]string{"operation"},
	)

	DailyResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "appwarden_daily_resets_total",
			Help: "Completed daily usage resets",
		},
	)

	// Admin API metrics
	AdminRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appwarden_admin_requests_total",
			Help: "Admin API requests by route template and status code",
		},
		[]string{"route", "code"},
	)
)

func init() {
	prometheus.MustRegister(PollTicksTotal)
	prometheus.MustRegister(PollTickDuration)
	prometheus.MustRegister(WatchdogRestarts)
	prometheus.MustRegister(SessionTransitions)
	prometheus.MustRegister(UsageSecondsConsumed)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(PresenterInvocations)
	prometheus.MustRegister(PresenterSuppressed)
	prometheus.MustRegister(StoreErrors)
	prometheus.MustRegister(DailyResets)
	prometheus.MustRegister(AdminRequests)
}

// Server serves Prometheus metrics and a health probe
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
