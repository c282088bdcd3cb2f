package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/server"
)

type RelayApp struct {
	log            *log.Logger
	srv            *http.Server
	cs             *server.ChatServer
	allowedOrigins []string
}

// NewRelayApp registers the relay routes on mux. Routes already on mux, such
// as the stats endpoint, are served alongside them.
func NewRelayApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, cfg *config.Config) *RelayApp {
	s := &RelayApp{
		log:            logger,
		cs:             cs,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /healthz", s.healthCheck)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = handlers.CombinedLoggingHandler(logger.Writer(), h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *RelayApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *RelayApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown stops accepting HTTP requests. Upgraded websocket connections are
// hijacked and not tracked by the HTTP server; ChatServer.Shutdown closes them.
func (s *RelayApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
