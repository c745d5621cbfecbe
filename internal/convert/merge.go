package convert

import (
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// combinePDFs concatenates the given PDFs into outPath in input order.
func combinePDFs(inputs []string, outPath string) error {
	if err := api.MergeCreateFile(inputs, outPath, false, nil); err != nil {
		return &Error{Stage: "combine", Err: err}
	}
	return nil
}

// PageCount returns the number of pages in a PDF.
func PageCount(pdfPath string) (int, error) {
	return api.PageCountFile(pdfPath)
}
