package convert

import (
	"fmt"
	"os"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// textToPDF lays a plain-text file out as an A4 PDF: one paragraph per input
// line, long lines wrapped, pages broken automatically.
func textToPDF(textPath, outPath string) error {
	data, err := os.ReadFile(textPath)
	if err != nil {
		return &Error{Stage: "text", Err: fmt.Errorf("read input: %w", err)}
	}

	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(40, 40, 40)
	pdf.SetAutoPageBreak(true, 40)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 11)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			pdf.Ln(13)
			continue
		}
		pdf.MultiCell(0, 13, tr(line), "", "L", false)
	}

	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return &Error{Stage: "text", Err: err}
	}
	return nil
}
