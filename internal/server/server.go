package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server is the HTTP listener carrying the WebSocket endpoint and a health
// probe.
type Server struct {
	hub    *Hub
	httpd  *http.Server
	logger *zap.Logger
}

// NewServer assembles the routes. pinger is the storage health check; nil
// makes /healthz unconditionally healthy.
func NewServer(addr string, hub *Hub, pinger func(context.Context) error, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if pinger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pinger(ctx); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		hub: hub,
		httpd: &http.Server{
			Addr:    addr,
			Handler: mux,
			// No read/write timeouts: WebSocket connections are long-lived.
		},
		logger: logger,
	}
}

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	s.logger.Info("websocket server listening", zap.String("address", s.httpd.Addr))
	err := s.httpd.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight handlers up
// to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpd.Shutdown(ctx)
}
