package convert

import (
	"archive/zip"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// PageBreakDelimiter separates pages in extracted plain text.
const PageBreakDelimiter = "\n\n----- PAGE BREAK -----\n\n"

// RenderOptions controls PDF page rendering.
type RenderOptions struct {
	DPI       int
	Grayscale bool
	// MaxWidth bounds the rendered image width in pixels; 0 means unbounded.
	MaxWidth int
}

// pdfToText extracts the text of every page, in order, separated by
// PageBreakDelimiter.
func pdfToText(pdfPath string) (string, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return "", &Error{Stage: "text-extract", Err: fmt.Errorf("open pdf: %w", err)}
	}
	defer doc.Close()

	pages := make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			log.Warn().Err(err).Int("page", i+1).Msg("failed to extract text from page")
			text = ""
		}
		pages = append(pages, strings.TrimRight(text, "\n"))
	}
	return strings.Join(pages, PageBreakDelimiter), nil
}

// pdfToImagesZip renders every page as PNG and writes them into a zip archive
// at zipPath, entries named page_001.png onward.
func pdfToImagesZip(pdfPath, zipPath string, opts RenderOptions) error {
	if opts.DPI <= 0 {
		opts.DPI = 200
	}

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return &Error{Stage: "render", Err: fmt.Errorf("open pdf: %w", err)}
	}
	defer doc.Close()

	out, err := os.Create(zipPath)
	if err != nil {
		return &Error{Stage: "render", Err: fmt.Errorf("create zip: %w", err)}
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for i := 0; i < doc.NumPage(); i++ {
		img, err := doc.ImageDPI(i, float64(opts.DPI))
		if err != nil {
			zw.Close()
			return &Error{Stage: "render", Err: fmt.Errorf("render page %d: %w", i+1, err)}
		}

		var final image.Image = img
		if opts.MaxWidth > 0 && img.Bounds().Dx() > opts.MaxWidth {
			final = imaging.Resize(final, opts.MaxWidth, 0, imaging.Lanczos)
		}
		if opts.Grayscale {
			final = imaging.Grayscale(final)
		}

		w, err := zw.Create(fmt.Sprintf("page_%03d.png", i+1))
		if err != nil {
			zw.Close()
			return &Error{Stage: "render", Err: err}
		}
		if err := imaging.Encode(w, final, imaging.PNG); err != nil {
			zw.Close()
			return &Error{Stage: "render", Err: fmt.Errorf("encode page %d: %w", i+1, err)}
		}
		log.Debug().Int("page", i+1).Int("dpi", opts.DPI).Bool("gray", opts.Grayscale).Msg("rendered page")
	}
	if err := zw.Close(); err != nil {
		return &Error{Stage: "render", Err: err}
	}
	return nil
}
