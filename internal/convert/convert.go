// Package convert implements the conversion paths behind the HTTP surface:
// anything-to-PDF (images, plain text, office documents, PDF passthrough,
// optional combine) and PDF-to-image/text/docx. The actual byte-level work is
// delegated to pdfcpu, gofpdf, go-fitz and a headless LibreOffice process;
// this package only routes, enforces the per-request lifecycle and maps
// failures onto the error taxonomy.
package convert

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/savemedia/internal/filetype"
	"github.com/local/savemedia/internal/metrics"
	"github.com/local/savemedia/internal/pdfcheck"
	"github.com/local/savemedia/internal/tempscope"
)

// Upload is one materialized input file, already inside the request scope.
type Upload struct {
	Name string // original client filename
	Path string // location on disk, owned by the scope
}

// Artifact is the output of a conversion, staged inside the request scope.
// It is deleted with the scope once the response has been handed off.
type Artifact struct {
	Path      string
	MediaType string
	Filename  string
}

// Service routes conversion requests to the appropriate delegate.
type Service struct {
	detector *filetype.Detector
	office   DocumentConverter
	dpi      int
}

// NewService creates a conversion service. dpi is the default render
// resolution for PDF-to-image requests.
func NewService(det *filetype.Detector, office DocumentConverter, dpi int) *Service {
	if dpi <= 0 {
		dpi = 200
	}
	return &Service{detector: det, office: office, dpi: dpi}
}

// ToPDF converts each upload to a PDF. With combine set, the per-input PDFs
// are concatenated in input order into a single document; otherwise multiple
// inputs come back as a zip of individual PDFs. All intermediates live in the
// scope and are released with it.
func (s *Service) ToPDF(ctx context.Context, sc *tempscope.Scope, uploads []Upload, combine bool) (Artifact, error) {
	if len(uploads) == 0 {
		return Artifact{}, &Error{Stage: "input", Err: fmt.Errorf("no files supplied")}
	}

	pdfPaths := make([]string, 0, len(uploads))
	for i, up := range uploads {
		p, err := s.toSinglePDF(ctx, sc, up, i)
		if err != nil {
			return Artifact{}, err
		}
		pdfPaths = append(pdfPaths, p)
	}

	if len(pdfPaths) == 1 {
		return Artifact{
			Path:      pdfPaths[0],
			MediaType: "application/pdf",
			Filename:  replaceExt(uploads[0].Name, ".pdf"),
		}, nil
	}

	if combine {
		start := time.Now()
		out := sc.Path("combined.pdf")
		if err := combinePDFs(pdfPaths, out); err != nil {
			metrics.ObserveConversion("combine", "error", time.Since(start))
			return Artifact{}, err
		}
		metrics.ObserveConversion("combine", "success", time.Since(start))
		return Artifact{Path: out, MediaType: "application/pdf", Filename: "combined.pdf"}, nil
	}

	out := sc.Path("converted.zip")
	names := make([]string, len(pdfPaths))
	for i, up := range uploads {
		names[i] = fmt.Sprintf("%02d_%s", i+1, replaceExt(filepath.Base(up.Name), ".pdf"))
	}
	if err := zipFiles(out, pdfPaths, names); err != nil {
		return Artifact{}, &Error{Stage: "zip", Err: err}
	}
	return Artifact{Path: out, MediaType: "application/zip", Filename: "converted.zip"}, nil
}

// toSinglePDF converts one upload into a PDF inside the scope.
func (s *Service) toSinglePDF(ctx context.Context, sc *tempscope.Scope, up Upload, idx int) (string, error) {
	info, err := s.detector.Detect(up.Path)
	if err != nil {
		return "", err
	}

	start := time.Now()
	out := sc.Path(fmt.Sprintf("out_%02d.pdf", idx))
	kind := string(info.Kind)

	switch info.Kind {
	case filetype.KindPDF:
		// passthrough; the upload itself is the page source
		out = up.Path
	case filetype.KindImage:
		err = imageToPDF(up.Path, out)
	case filetype.KindText:
		err = textToPDF(up.Path, out)
	case filetype.KindOffice:
		out, err = s.office.Convert(ctx, up.Path, sc.Dir(), "pdf")
	default:
		err = &filetype.UnsupportedError{Extension: info.Extension}
	}

	if err != nil {
		metrics.ObserveConversion(kind, "error", time.Since(start))
		return "", err
	}
	metrics.ObserveConversion(kind, "success", time.Since(start))
	log.Info().Str("kind", kind).Str("file", up.Name).Dur("duration", time.Since(start)).Msg("converted to pdf")
	return out, nil
}

// FromPDF converts an uploaded PDF to the requested target format.
// Supported targets: "image" (zip of page PNGs), "text", "docx".
func (s *Service) FromPDF(ctx context.Context, sc *tempscope.Scope, up Upload, target string, opts RenderOptions) (Artifact, error) {
	if !pdfcheck.IsPDF(up.Path) {
		return Artifact{}, &filetype.UnsupportedError{Extension: strings.ToLower(filepath.Ext(up.Name)), Detail: "not a PDF"}
	}

	start := time.Now()
	switch target {
	case "image":
		if opts.DPI <= 0 {
			opts.DPI = s.dpi
		}
		out := sc.Path("pages.zip")
		if err := pdfToImagesZip(up.Path, out, opts); err != nil {
			metrics.ObserveConversion("pdf-image", "error", time.Since(start))
			return Artifact{}, err
		}
		metrics.ObserveConversion("pdf-image", "success", time.Since(start))
		return Artifact{
			Path:      out,
			MediaType: "application/zip",
			Filename:  stem(up.Name) + "_pages.zip",
		}, nil

	case "text":
		s.warnIfScanned(up.Path)
		text, err := pdfToText(up.Path)
		if err != nil {
			metrics.ObserveConversion("pdf-text", "error", time.Since(start))
			return Artifact{}, err
		}
		out := sc.Path(stem(up.Name) + ".txt")
		if _, _, err := sc.CreateFile(filepath.Base(out), strings.NewReader(text)); err != nil {
			return Artifact{}, &Error{Stage: "text-extract", Err: err}
		}
		metrics.ObserveConversion("pdf-text", "success", time.Since(start))
		return Artifact{Path: out, MediaType: "text/plain; charset=utf-8", Filename: stem(up.Name) + ".txt"}, nil

	case "docx":
		s.warnIfScanned(up.Path)
		out, err := s.office.Convert(ctx, up.Path, sc.Dir(), "docx")
		if err != nil {
			metrics.ObserveConversion("pdf-docx", "error", time.Since(start))
			return Artifact{}, err
		}
		metrics.ObserveConversion("pdf-docx", "success", time.Since(start))
		return Artifact{
			Path:      out,
			MediaType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			Filename:  stem(up.Name) + ".docx",
		}, nil
	}

	return Artifact{}, &Error{Stage: "input", Err: fmt.Errorf("unknown target format %q", target)}
}

// warnIfScanned logs when a text-bearing conversion targets a PDF that the
// probe finds no extractable text in. Diagnostic only; scanned input still
// produces an (empty-ish) result rather than an error.
func (s *Service) warnIfScanned(pdfPath string) {
	ok, diag, err := pdfcheck.HasExtractableText(pdfPath, 0)
	if err != nil {
		log.Debug().Err(err).Msg("extractability probe failed")
		return
	}
	if !ok {
		log.Warn().Int("total_pages", diag.TotalPages).Int("chars", diag.TotalCharsInSample).
			Msg("pdf appears to have no extractable text; output may be empty")
	}
}

// OfficeAvailable reports whether the office converter binary is present.
func (s *Service) OfficeAvailable() bool { return s.office.IsAvailable() }

// ByName checks whether a filename's extension is convertible, without
// looking at the bytes. Used to reject uploads early.
func (s *Service) ByName(name string) (filetype.Info, error) {
	return s.detector.ByName(name)
}

func stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func replaceExt(name, ext string) string {
	return stem(name) + ext
}
