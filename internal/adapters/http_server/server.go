package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

// requestTimeout bounds every route except the event stream.
const requestTimeout = 15 * time.Second

type Server struct{ mux *chi.Mux }

// New builds the router. Browser clients from origins may call the API and
// read the event stream; with no origins CORS is not enabled.
func New(origins ...string) *Server {
	m := chi.NewRouter()

	// middlewares must be registered before any route
	if len(origins) > 0 {
		m.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "If-None-Match", "Last-Event-ID"},
			ExposedHeaders: []string{"ETag", "Location"},
			MaxAge:         300,
		}))
	}
	m.Use(chimw.RealIP)
	m.Use(chimw.RequestID)
	m.Use(chimw.Recoverer)
	m.Use(Metrics)
	m.Use(Logger(log.Logger))

	return &Server{mux: m}
}

func (s *Server) Mux() http.Handler { return s.mux }

// Mount attaches any extra handler (e.g., /metrics) to the router.
func (s *Server) Mount(path string, h http.Handler) {
	s.mux.Handle(path, h)
}
