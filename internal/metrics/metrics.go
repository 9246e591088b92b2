package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Time tracking metrics
	TrackedSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rovas_tracked_seconds",
			Help: "Seconds currently tracked and not yet reported",
		},
	)

	ActivityEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rovas_activity_events_total",
			Help: "Total activity events received by the time tracker",
		},
	)

	ClockRegressions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rovas_clock_regressions_total",
			Help: "Activity events whose timestamp was earlier than a previous one",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rovas_api_requests_total",
			Help: "Total requests sent to the Rovas API",
		},
		[]string{"endpoint", "outcome"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rovas_api_request_duration_seconds",
			Help:    "Rovas API request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"endpoint"},
	)

	// Submission metrics
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rovas_submissions_total",
			Help: "Total submissions by final state",
		},
		[]string{"state"},
	)

	ReportedMinutes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rovas_reported_minutes_total",
			Help: "Total minutes reported in completed submissions",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TrackedSeconds,
		ActivityEvents,
		ClockRegressions,
		APIRequestsTotal,
		APIRequestDuration,
		SubmissionsTotal,
		ReportedMinutes,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
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

// Handler returns the HTTP handler serving /metrics and /health.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
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
