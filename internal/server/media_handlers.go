package server

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/savemedia/internal/media"
	"github.com/local/savemedia/internal/metrics"
)

type mediaRequest struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
	Format  string `json:"format"`
}

// checkMediaAccess enforces the optional API key and the per-client rate
// limit shared by the media endpoints. Returns false after writing the
// error response.
func (s *Server) checkMediaAccess(w http.ResponseWriter, r *http.Request) bool {
	if key := s.cfg.Media.APIKey; key != "" {
		if r.Header.Get("X-API-Key") != key {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return false
		}
	}

	allowed, err := s.limiter.Allow(r.Context(), clientIP(r))
	if err != nil {
		log.Warn().Err(err).Msg("rate limit check errored, allowing request")
		return true
	}
	if !allowed {
		metrics.IncRateLimited()
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

// decodeMediaRequest parses the JSON body and validates the URL.
func decodeMediaRequest(w http.ResponseWriter, r *http.Request) (*mediaRequest, bool) {
	var req mediaRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, http.StatusBadRequest, "url must be a valid http(s) URL")
		return nil, false
	}
	return &req, true
}

func (s *Server) handlePlatforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"platforms": media.Platforms()})
}

func (s *Server) handleMediaInfo(w http.ResponseWriter, r *http.Request) {
	if !s.checkMediaAccess(w, r) {
		return
	}
	req, ok := decodeMediaRequest(w, r)
	if !ok {
		return
	}

	platform := media.DetectPlatform(req.URL)
	info, err := s.extractor.Info(r.Context(), req.URL)
	if err != nil {
		metrics.IncMedia(platform, "error")
		writeMediaError(w, err)
		return
	}
	metrics.IncMedia(platform, "success")
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleMediaExtract(w http.ResponseWriter, r *http.Request) {
	if !s.checkMediaAccess(w, r) {
		return
	}
	req, ok := decodeMediaRequest(w, r)
	if !ok {
		return
	}

	quality := strings.ToLower(req.Quality)
	switch quality {
	case "":
		quality = "high"
	case "high", "medium", "low":
	default:
		writeError(w, http.StatusBadRequest, "quality must be high, medium or low")
		return
	}
	format := strings.ToLower(req.Format)
	switch format {
	case "":
		format = "mp4"
	case "mp4", "mp3":
	default:
		writeError(w, http.StatusBadRequest, "format must be mp4 or mp3")
		return
	}

	platform := media.DetectPlatform(req.URL)
	result, err := s.extractor.Extract(r.Context(), req.URL, quality, format)
	if err != nil {
		metrics.IncMedia(platform, "error")
		writeMediaError(w, err)
		return
	}
	metrics.IncMedia(platform, "success")
	writeJSON(w, http.StatusOK, result)
}

// clientIP prefers X-Forwarded-For so limits follow the real client when
// the service sits behind a proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.Index(xff, ","); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
