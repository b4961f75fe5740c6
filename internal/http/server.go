package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Server struct {
	Engine *gin.Engine
	srv    *http.Server
}

// NewServer builds the HTTP server. WriteTimeout stays zero because chat
// responses are long-lived event streams.
func NewServer(address string, cfg RouterConfig) *Server {
	engine := NewRouter(cfg)
	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              address,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	// Event streams end only with their request context, so shutdown
	// cancels the base context. Detached producers are unaffected.
	srv.RegisterOnShutdown(cancel)
	return &Server{Engine: engine, srv: srv}
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
