package common

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/ledgerindex/gateway/config"
	"github.com/ledgerindex/gateway/log"
)

// profilingService serves the runtime profiles of the gateway on the
// metrics pprof endpoint.
type profilingService struct {
	server *http.Server
	logger *log.Logger
}

func newProfilingService(cfg *config.MetricsConfig, logger *log.Logger) *profilingService {
	// Own mux so that nothing registered on http.DefaultServeMux leaks out.
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return &profilingService{
		server: &http.Server{
			Addr:              cfg.PprofEndpoint,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			// CPU profiles and traces stream for their requested duration.
			WriteTimeout: 65 * time.Second,
		},
		logger: logger.WithModule("pprof"),
	}
}

// start binds the endpoint and serves in the background until ctx is done.
// It returns the bound address.
func (s *profilingService) start(ctx context.Context) (string, error) {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return "", err
	}
	addr := listener.Addr().String()
	s.logger.Info("serving runtime profiles", "listen_addr", addr)

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("pprof server stopped", "err", err, "listen_addr", addr)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("pprof server shutdown", "err", err)
		}
	}()
	return addr, nil
}
