package server

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/savemedia/internal/config"
	"github.com/local/savemedia/internal/convert"
	"github.com/local/savemedia/internal/metrics"
	"github.com/local/savemedia/internal/tempscope"
)

// multipartMemory caps the in-memory portion of multipart parsing; larger
// parts spill to disk and are captured into the request scope anyway.
const multipartMemory = 10 << 20

// handleToPDF converts one or more uploaded files to PDF.
// Field "files" carries the uploads ("file" accepted for single-file
// clients); "combine" overrides the configured default for multi-file
// requests.
func (s *Server) handleToPDF(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeConversionError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	combine := s.cfg.Convert.CombineDefault
	if v := r.FormValue("combine"); v != "" {
		combine = config.ParseBool(v)
	}

	sc, err := tempscope.New(s.cfg.Convert.TempDir)
	if err != nil {
		log.Error().Err(err).Msg("failed to create request scope")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer sc.Close()

	uploads := make([]convert.Upload, 0, len(headers))
	for i, fh := range headers {
		if fh.Size == 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("file %q is empty", fh.Filename))
			return
		}
		// reject unsupported extensions before touching the bytes
		if _, err := s.converter.ByName(fh.Filename); err != nil {
			writeConversionError(w, err)
			return
		}
		up, err := materialize(sc, fh, fmt.Sprintf("in_%02d", i))
		if err != nil {
			writeConversionError(w, err)
			return
		}
		metrics.ObserveUpload(fh.Size)
		uploads = append(uploads, up)
	}

	artifact, err := s.converter.ToPDF(r.Context(), sc, uploads, combine)
	if err != nil {
		writeConversionError(w, err)
		return
	}
	s.serveArtifact(w, r, sc.ID(), artifact)
}

// handleFromPDF converts an uploaded PDF to image, text or docx.
func (s *Server) handleFromPDF(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeConversionError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	fh := headers[0]
	if fh.Size == 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file %q is empty", fh.Filename))
		return
	}

	format := strings.ToLower(r.FormValue("format"))
	switch format {
	case "image", "text", "docx":
	case "":
		writeError(w, http.StatusBadRequest, "format is required (image, text or docx)")
		return
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
		return
	}

	var opts convert.RenderOptions
	if v := r.FormValue("dpi"); v != "" {
		dpi, err := strconv.Atoi(v)
		if err != nil || dpi < 36 || dpi > 600 {
			writeError(w, http.StatusBadRequest, "dpi must be an integer between 36 and 600")
			return
		}
		opts.DPI = dpi
	}
	if v := r.FormValue("gray"); v != "" {
		opts.Grayscale = config.ParseBool(v)
	}

	sc, err := tempscope.New(s.cfg.Convert.TempDir)
	if err != nil {
		log.Error().Err(err).Msg("failed to create request scope")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer sc.Close()

	up, err := materialize(sc, fh, "in_00")
	if err != nil {
		writeConversionError(w, err)
		return
	}
	metrics.ObserveUpload(fh.Size)

	artifact, err := s.converter.FromPDF(r.Context(), sc, up, format, opts)
	if err != nil {
		writeConversionError(w, err)
		return
	}
	s.serveArtifact(w, r, sc.ID(), artifact)
}

// materialize copies one multipart part into the scope, preserving the
// original extension so type detection can see it.
func materialize(sc *tempscope.Scope, fh *multipart.FileHeader, base string) (convert.Upload, error) {
	part, err := fh.Open()
	if err != nil {
		return convert.Upload{}, err
	}
	defer part.Close()

	name := base + strings.ToLower(extOf(fh.Filename))
	path, _, err := sc.CreateFile(name, part)
	if err != nil {
		return convert.Upload{}, err
	}
	return convert.Upload{Name: fh.Filename, Path: path}, nil
}

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
}

// archiveTimeout bounds the background artifact upload.
const archiveTimeout = 30 * time.Second

// serveArtifact streams a finished artifact as an attachment and hands a
// copy to the archive when one is configured. Archival runs in the
// background, detached from the request context: a slow bucket or a client
// that hangs up must not stall or cancel either side.
func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, requestID string, a convert.Artifact) {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		log.Error().Err(err).Str("path", a.Path).Msg("failed to read artifact")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if s.archive != nil {
		go func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
			defer cancel()
			s.archive.Store(ctx, requestID, a.Filename, a.MediaType, data)
		}(r.Context())
	}

	w.Header().Set("Content-Type", a.MediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		log.Debug().Err(err).Msg("client went away during artifact write")
	}
}
