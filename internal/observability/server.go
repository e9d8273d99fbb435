package observability

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// MetricsServer exposes /metrics over HTTP as a lifecycle component.
type MetricsServer struct {
	addr    string
	metrics *Metrics

	mu      sync.Mutex
	server  *http.Server
	started bool
	wg      sync.WaitGroup
}

func NewMetricsServer(addr string, metrics *Metrics) *MetricsServer {
	return &MetricsServer{addr: addr, metrics: metrics}
}

func (s *MetricsServer) Name() string {
	return "metrics"
}

func (s *MetricsServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.addr == "" {
		return nil
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrap(err, "listen metrics")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithField("object", "MetricsServer").WithField("error", err.Error()).Error("metrics server failed")
		}
	}()
	log.WithField("object", "MetricsServer").WithField("addr", listener.Addr().String()).Info("serving metrics")
	return nil
}

func (s *MetricsServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	return errors.Wrap(err, "shutdown metrics")
}
