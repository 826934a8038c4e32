// Package httpapi serves the liveness endpoint and the Prometheus
// exposition endpoint, generalizing the teacher's dashboard package
// (which served /metrics via promhttp.Handler alongside a bespoke JSON
// and HTML dashboard) down to what this worker actually needs exposed.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server serves /health always, and /metrics either on the same mux as
// /health or on its own listener when metricsPort differs from port.
type Server struct {
	liveness *http.Server
	metrics  *http.Server
	log      zerolog.Logger
}

// New builds a Server. When metricsPort equals port, /health and
// /metrics share one listener. When it differs, /metrics gets its own
// listener on metricsPort and the liveness listener on port serves
// only /health, so METRICS_PORT actually changes where metrics are
// exposed instead of being accepted and ignored.
func New(port, metricsPort int, log zerolog.Logger) *Server {
	livenessMux := http.NewServeMux()
	livenessMux.HandleFunc("/health", handleHealth)

	s := &Server{
		liveness: &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: livenessMux},
		log:      log,
	}

	if metricsPort == 0 || metricsPort == port {
		livenessMux.Handle("/metrics", promhttp.Handler())
		livenessMux.HandleFunc("/", handleNotFound)
		return s
	}

	livenessMux.HandleFunc("/", handleNotFound)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/", handleNotFound)
	s.metrics = &http.Server{Addr: fmt.Sprintf(":%d", metricsPort), Handler: metricsMux}
	return s
}

// Start begins serving in background goroutines, one per listener.
func (s *Server) Start() {
	go serve(s.liveness, "liveness", s.log)
	if s.metrics != nil {
		go serve(s.metrics, "metrics", s.log)
	}
}

func serve(srv *http.Server, name string, log zerolog.Logger) {
	log.Info().Str("addr", srv.Addr).Msg(name + " server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg(name + " server stopped unexpectedly")
	}
}

// Shutdown stops every listener this Server started, within the given
// timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.liveness.Shutdown(ctx)
	if s.metrics != nil {
		if mErr := s.metrics.Shutdown(ctx); mErr != nil && err == nil {
			err = mErr
		}
	}
	return err
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	http.NotFound(w, r)
}
