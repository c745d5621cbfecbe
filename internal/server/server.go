// Package server wires the HTTP surface: the conversion endpoints, the media
// extraction endpoints, health and metrics. Handlers stay thin; conversion
// semantics live in internal/convert and internal/media.
package server

import (
	"context"
	"net/http"

	"github.com/rs/cors"

	"github.com/local/savemedia/internal/config"
	"github.com/local/savemedia/internal/convert"
	"github.com/local/savemedia/internal/limiter"
	"github.com/local/savemedia/internal/media"
	"github.com/local/savemedia/internal/metrics"
)

// ArtifactArchive receives copies of finished conversion outputs.
// Implemented by *storage.Archive.
type ArtifactArchive interface {
	Store(ctx context.Context, requestID, name, contentType string, data []byte)
}

// Server holds the handler dependencies.
type Server struct {
	cfg       config.Config
	converter *convert.Service
	extractor *media.Extractor
	limiter   limiter.Limiter
	archive   ArtifactArchive
}

// New assembles a Server from its dependencies. archive may be nil.
func New(cfg config.Config, svc *convert.Service, ext *media.Extractor, lim limiter.Limiter, arch ArtifactArchive) *Server {
	return &Server{
		cfg:       cfg,
		converter: svc,
		extractor: ext,
		limiter:   lim,
		archive:   arch,
	}
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /convert/to-pdf", s.handleToPDF)
	mux.HandleFunc("POST /convert/from-pdf", s.handleFromPDF)

	mux.HandleFunc("GET /media/platforms", s.handlePlatforms)
	mux.HandleFunc("POST /media/info", s.handleMediaInfo)
	mux.HandleFunc("POST /media/extract", s.handleMediaExtract)

	return s.corsMiddleware().Handler(mux)
}

// corsMiddleware allows everything when no origin allowlist is configured,
// and restricts to the configured origins otherwise.
func (s *Server) corsMiddleware() *cors.Cors {
	if len(s.cfg.Server.AllowedOrigins) == 0 {
		return cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"*"},
		})
	}
	return cors.New(cors.Options{
		AllowedOrigins:   s.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-API-Key"},
		AllowCredentials: true,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "savemedia",
		"endpoints": []string{
			"POST /convert/to-pdf",
			"POST /convert/from-pdf",
			"GET /media/platforms",
			"POST /media/info",
			"POST /media/extract",
			"GET /health",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"office_available":    s.converter.OfficeAvailable(),
		"extractor_available": s.extractor.IsAvailable(),
	})
}
