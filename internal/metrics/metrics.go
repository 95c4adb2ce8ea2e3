// Package metrics exposes a small, strictly additive Prometheus
// endpoint used only when the CLI is started with --metrics-addr. It
// is never required for a session to function correctly — the
// session controller's state machine and teardown logic do not read
// from it.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionState mirrors the Starting/Running/Draining/Exited state
	// machine as 0..3.
	SessionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kubeshell_session_state",
		Help: "Current session state: 0=Starting 1=Running 2=Draining 3=Exited",
	})

	// HelperDeathsTotal counts every supervised helper death observed,
	// whether it caused a ProxyLost teardown or was part of a normal
	// shutdown.
	HelperDeathsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kubeshell_helper_deaths_total",
		Help: "Total number of supervised helper process deaths observed",
	})

	// SettleProbeDuration records how long the post-tunnel settle
	// window (plus its in-pod confirmation probe) actually took.
	SettleProbeDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kubeshell_settle_probe_duration_seconds",
		Help: "Duration of the tunnel settle/confirmation step in seconds",
	})
)

func init() {
	prometheus.MustRegister(SessionState, HelperDeathsTotal, SettleProbeDuration)
}

// Server runs the /metrics endpoint until ctx is canceled. Errors
// after a successful ListenAndServe are not fatal to the session.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer returns a Server bound to addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start begins serving in the background; it does not block.
func (s *Server) Start() {
	go func() {
		_ = s.srv.ListenAndServe()
	}()
}

// Stop shuts the server down within the given grace period.
func (s *Server) Stop(grace time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
