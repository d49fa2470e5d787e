package perf

import (
	"context"
	"expvar"
	"log/slog"
	"net"
	"net/http"

	"github.com/encodeous/metric"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the prometheus metrics at /metrics and the rolling
// expvar metrics at /debug/metrics
type Server struct {
	httpserver http.Server
	listen     net.Listener
	log        *slog.Logger
}

func NewServer(listenAddr string, log *slog.Logger) (*Server, error) {
	listen, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	mux.Handle("/debug/vars", expvar.Handler())
	return &Server{
		httpserver: http.Server{
			Handler: mux,
		},
		listen: listen,
		log:    log,
	}, nil
}

func (s *Server) Addr() net.Addr {
	return s.listen.Addr()
}

func (s *Server) Start() {
	s.log.Info("starting metrics server", "listenAddr", s.listen.Addr())
	go func() {
		err := s.httpserver.Serve(s.listen)
		s.log.Info("stopped metrics server", "err", err)
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpserver.Shutdown(ctx)
}
