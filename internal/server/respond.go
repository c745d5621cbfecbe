package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/local/savemedia/internal/convert"
	"github.com/local/savemedia/internal/filetype"
	"github.com/local/savemedia/internal/media"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeConversionError maps the conversion error taxonomy onto HTTP status
// codes: client mistakes get 4xx, missing tools 503, everything else 500.
func writeConversionError(w http.ResponseWriter, err error) {
	var unsupported *filetype.UnsupportedError
	if errors.As(err, &unsupported) {
		writeError(w, http.StatusBadRequest, unsupported.Error())
		return
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		writeError(w, http.StatusRequestEntityTooLarge, "uploaded file is too large")
		return
	}
	var unavailable *convert.UnavailableError
	if errors.As(err, &unavailable) {
		writeError(w, http.StatusServiceUnavailable, unavailable.Error())
		return
	}
	var timeout *convert.TimeoutError
	if errors.As(err, &timeout) {
		writeError(w, http.StatusInternalServerError, timeout.Error())
		return
	}
	log.Error().Err(err).Msg("conversion failed")
	writeError(w, http.StatusInternalServerError, "conversion failed")
}

// writeMediaError maps media extraction errors onto status codes.
func writeMediaError(w http.ResponseWriter, err error) {
	var unavailable *media.UnavailableError
	if errors.As(err, &unavailable) {
		writeError(w, http.StatusServiceUnavailable, unavailable.Error())
		return
	}
	var timeout *media.TimeoutError
	if errors.As(err, &timeout) {
		writeError(w, http.StatusGatewayTimeout, timeout.Error())
		return
	}
	var extraction *media.ExtractionError
	if errors.As(err, &extraction) {
		writeError(w, http.StatusUnprocessableEntity, extraction.Error())
		return
	}
	log.Error().Err(err).Msg("media request failed")
	writeError(w, http.StatusInternalServerError, "media request failed")
}
