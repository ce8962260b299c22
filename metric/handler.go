package metric

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/ctcgateway/errors"
	"github.com/c360/ctcgateway/pkg/security"
	"github.com/c360/ctcgateway/pkg/tlsutil"
)

// Server exposes the registry on an HTTP endpoint alongside /health
type Server struct {
	port     int
	path     string
	registry *MetricsRegistry
	health   http.Handler
	security security.Config

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	stopped  bool
}

// NewServer creates a metrics server. health may be nil, in which case
// /health always answers OK.
func NewServer(port int, path string, registry *MetricsRegistry, health http.Handler, securityCfg security.Config) *Server {
	if path == "" {
		path = "/metrics"
	}
	if port == 0 {
		port = 9090
	}

	return &Server{
		port:     port,
		path:     path,
		registry: registry,
		health:   health,
		security: securityCfg,
	}
}

// Start listens and serves until Stop is called. It returns nil after a
// clean Stop, including a Stop that happened before Start.
func (s *Server) Start() error {
	s.mu.Lock()

	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(fmt.Errorf("server already running"),
			"Server", "Start", "cannot start server that is already running")
	}
	if s.registry == nil {
		s.mu.Unlock()
		return errors.WrapFatal(fmt.Errorf("nil registry"), "Server", "Start", "metrics registry not provided")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.registry.PrometheusRegistry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	if s.health != nil {
		mux.Handle("/health", s.health)
	} else {
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	tlsConfig, err := tlsutil.LoadServerTLSConfig(s.security.TLS.Server)
	if err != nil {
		s.mu.Unlock()
		return errors.WrapFatal(err, "Server", "Start", "load TLS config")
	}
	server.TLSConfig = tlsConfig

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		s.mu.Unlock()
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on port %d", s.port))
	}
	s.server = server
	s.listener = listener
	s.mu.Unlock()

	if tlsConfig != nil {
		err = server.ServeTLS(listener, "", "")
	} else {
		err = server.Serve(listener)
	}
	if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("serve on port %d", s.port))
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.stopped = true
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shutdown HTTP server")
	}
	return nil
}

// Address returns the metrics URL
func (s *Server) Address() string {
	scheme := "http"
	if s.security.TLS.Server.Enabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://localhost:%d%s", scheme, s.port, s.path)
}
