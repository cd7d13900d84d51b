package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/Finlytic/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/Finlytic/internal/api/middlewares"
	"github.com/markdave123-py/Finlytic/internal/config"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds and wires all routes. The ingest endpoint streams SSE
// for the life of a job, so it sits outside the request timeout that caps
// everything else.
func NewServer(cfg *config.Config, logger *slog.Logger, auth *handlers.AuthHandler, ingest *handlers.IngestHandler, chat *handlers.ChatHandler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Group(func(public chi.Router) {
			public.Use(middleware.Timeout(60 * time.Second))
			public.Post("/signup", auth.Signup)
			public.Post("/login", auth.Login)
		})

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware)

			protected.Post("/ingest", ingest.Ingest)

			protected.Group(func(timed chi.Router) {
				timed.Use(middleware.Timeout(60 * time.Second))
				timed.Get("/ingest/jobs/{jobID}", ingest.GetJob)
				timed.Post("/chat/query", chat.QuerySession)
			})
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv, logger: logger}
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
