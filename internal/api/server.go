// Package api wires the HTTP surface from spec.md §6, grounded on the
// teacher's internal/api/server.go (chi + cors + middleware stack) and
// router.go (route registration shape), adapted to this service's
// success/error envelope instead of the teacher's {"data": ...} shape.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/deckforge/deckforge/internal/api/handlers"
	"github.com/deckforge/deckforge/internal/deckstore"
	"github.com/deckforge/deckforge/internal/orchestrator"
)

// Server is the REST API server fronting the orchestrator and deck store.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	port       int
}

// Config holds the subset of ServerConfig this package needs.
type Config struct {
	Port int
}

// NewServer builds the router and wires every handler.
func NewServer(cfg Config, o *orchestrator.Orchestrator, store *deckstore.Store) *Server {
	s := &Server{router: chi.NewRouter(), port: cfg.Port}
	s.setupMiddleware()
	s.setupRoutes(o, store)
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Use(jsonContentTypeMiddleware)
}

// jsonContentTypeMiddleware enforces application/json for bodied requests.
func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			if r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}
			ct := r.Header.Get("Content-Type")
			if ct == "" || (ct != "application/json" && !strings.HasPrefix(ct, "application/json;")) {
				http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) setupRoutes(o *orchestrator.Orchestrator, store *deckstore.Store) {
	s.router.Get("/health", handlers.HealthCheck)

	chatHandler := handlers.NewChatHandler(o)
	deckHandler := handlers.NewDeckHandler(store)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/chat", chatHandler.Chat)

		r.Route("/decks", func(r chi.Router) {
			r.Get("/", deckHandler.ListDecks)
			r.Post("/", deckHandler.CreateDeck)
			r.Get("/{id}", deckHandler.GetDeck)
			r.Put("/{id}", deckHandler.UpdateDeck)
			r.Delete("/{id}", deckHandler.DeleteDeck)
			r.Post("/{id}/token", deckHandler.IssueToken)
		})
	})
}

// Router exposes the underlying chi router, primarily for httptest-based
// handler tests.
func (s *Server) Router() http.Handler { return s.router }

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("deckforge API server starting on port %d", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("deckforge API server error: %v", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Port returns the configured listen port.
func (s *Server) Port() int { return s.port }
