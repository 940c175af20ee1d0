package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/nestroute/mrtd/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves the prometheus registry over HTTP.
type MetricsServer struct {
	bind     string
	registry *prometheus.Registry
	server   *http.Server
	addr     net.Addr
}

func NewMetricsServer(bind string, registry *prometheus.Registry) *MetricsServer {
	return &MetricsServer{bind: bind, registry: registry}
}

func (m *MetricsServer) String() string {
	return "metrics-server"
}

// Start listens on the bind address and serves /metrics in the background.
func (m *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", m.bind)
	if err != nil {
		return err
	}
	m.addr = ln.Addr()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))
	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			core.Log.Error(m, "Metrics server failed", "err", err)
		}
	}()
	core.Log.Info(m, "Serving metrics", "addr", m.addr)
	return nil
}

// Addr returns the listening address once started.
func (m *MetricsServer) Addr() net.Addr {
	return m.addr
}

func (m *MetricsServer) Stop() {
	if m.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.server.Shutdown(ctx); err != nil {
		core.Log.Warn(m, "Unable to stop metrics server", "err", err)
	}
	m.server = nil
}
