package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/italolelis/debrid_streamer/internal/telemetry"
)

// Handlers groups the endpoint handlers mounted by NewRouter. Nil handlers are not mounted.
type Handlers struct {
	Acquire *AcquireHandler
	Search  *SearchHandler
	Library *LibraryHandler
	Stream  *StreamHandler
}

// NewRouter wires the middleware chain and every endpoint.
func NewRouter(h Handlers, tel *telemetry.Telemetry, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(telemetry.HTTPLogging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Range", APIKeyHeader},
		ExposedHeaders:   []string{"Content-Length", "Content-Range", "Accept-Ranges", telemetry.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", HandleHealth)
	r.Method(http.MethodGet, "/metrics", tel.Handler())

	if h.Acquire != nil {
		r.Mount("/acquire", h.Acquire.Routes())
	}

	if h.Search != nil {
		r.Get("/search", h.Search.HandleSearch)
	}

	if h.Library != nil {
		r.Mount("/library", h.Library.Routes())
	}

	if h.Stream != nil {
		r.Get("/stream", h.Stream.HandleStream)
	}

	return r
}
