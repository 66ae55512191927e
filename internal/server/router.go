package server

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/maneesh/musicbox/internal/handlers"
	"github.com/maneesh/musicbox/internal/media"
	"github.com/maneesh/musicbox/internal/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Options tunes the HTTP surface
type Options struct {
	AllowedOrigins []string
	PublicBaseURL  string
	MaxUploadBytes int64
}

// NewRouter builds the HTTP handler of the service: routes, tracing,
// metrics, request logging and CORS.
func NewRouter(svc *media.Service, m *metrics.Metrics, opts Options) http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(handlers.NotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(handlers.MethodNotAllowed)

	// Probes and scrapes are neither traced nor instrumented
	router.HandleFunc("/health", handlers.Health).Methods(http.MethodGet)
	if m != nil {
		router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	route := func(method, path, name string, h http.Handler) {
		router.Handle(path, otelhttp.NewHandler(m.Instrument(name, h), method+" "+path)).Methods(method)
	}
	route(http.MethodPost, "/upload", "upload", handlers.NewUploadHandler(svc, m, opts.MaxUploadBytes))
	route(http.MethodGet, "/music", "music", handlers.NewListHandler(svc, opts.PublicBaseURL))
	route(http.MethodGet, "/file/{id}", "file", handlers.NewFileHandler(svc, m))
	route(http.MethodPost, "/login", "login", handlers.NewLoginHandler(svc))

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	return corsHandler(withRequestLogging(router))
}
