// Package metrics exposes search counters and latencies to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Search outcomes used as the "outcome" label.
const (
	OutcomeSuccess    = "success"
	OutcomeValidation = "validation"
	OutcomeTimeout    = "timeout"
	OutcomeChallenge  = "challenge"
	OutcomeError      = "error"
)

var (
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serpd_searches_total",
			Help: "Total number of searches handled, by outcome and driver",
		},
		[]string{"outcome", "driver"},
	)

	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "serpd_search_duration_seconds",
			Help:    "Wall time of a search from launch to browser close",
			Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 45, 60},
		},
		[]string{"outcome"},
	)

	SearchResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "serpd_search_results",
			Help:    "Number of results returned by successful searches",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		},
	)

	BrowserLaunches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serpd_browser_launches_total",
			Help: "Total number of browser instances launched",
		},
		[]string{"driver"},
	)

	Challenges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serpd_challenges_total",
			Help: "Total number of searches stopped by a detected challenge page",
		},
		[]string{"source"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serpd_proxy_failures_total",
			Help: "Total number of searches that failed while routed through a proxy",
		},
		[]string{"proxy_url"},
	)
)

// RecordSearch counts one finished search. results is only observed for
// successful searches.
func RecordSearch(driver, outcome string, d time.Duration, results int) {
	SearchesTotal.WithLabelValues(outcome, driver).Inc()
	if outcome == OutcomeValidation {
		return
	}
	SearchDuration.WithLabelValues(outcome).Observe(d.Seconds())
	if outcome == OutcomeSuccess {
		SearchResults.Observe(float64(results))
	}
}

func RecordLaunch(driver string) {
	BrowserLaunches.WithLabelValues(driver).Inc()
}

func RecordChallenge(source string) {
	Challenges.WithLabelValues(source).Inc()
}

// RecordProxyFailure counts a failure against a proxy. Only scheme and host
// make it into the label so credentials never reach the scrape output.
func RecordProxyFailure(proxyURL *url.URL) {
	if proxyURL == nil {
		return
	}
	ProxyFailures.WithLabelValues(proxyURL.Scheme + "://" + proxyURL.Host).Inc()
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start listens on port and serves /metrics in the background. Port 0 picks a
// free port; see Addr.
func Start(port int, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("metrics: listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	logger.Info("metrics server listening", "addr", ln.Addr().String())
	return &Server{srv: srv, ln: ln}, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
