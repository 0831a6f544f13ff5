// Package httpapi exposes the Service over the HTTP surface of spec.md
// §6.1: a chi router under /api/rag with JSON bodies and a uniform
// {"detail": "..."} error shape.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ragserve/ragserve/internal/service"
)

// Server wires HTTP handlers onto a Service.
type Server struct {
	svc    *service.Service
	router http.Handler
}

// New constructs a Server. allowedOrigins configures CORS; pass nil to
// allow any origin (suitable for a purely local deployment).
func New(svc *service.Service, allowedOrigins []string) *Server {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Logger)
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{svc: svc, router: mux}

	mux.Route("/api/rag", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handleUpdateConfig)
		r.Post("/index", s.handleIndex)
		r.Post("/query", s.handleQuery)
		r.Post("/clear", s.handleClear)
	})

	return s
}

// ServeHTTP lets Server satisfy http.Handler directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
