// Package pdfcheck probes whether a PDF carries extractable text, by sampling
// a handful of pages and counting non-whitespace characters. Scanned
// documents come back empty from text extraction; the probe lets callers warn
// about that up front instead of returning a blank result.
package pdfcheck

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/ledongthuc/pdf"
)

// DefaultThreshold is used when a non-positive threshold is passed in.
const DefaultThreshold = 300

// maxSampledPages bounds the probe cost on large documents.
const maxSampledPages = 5

var whitespaceRegex = regexp.MustCompile(`\s+`)

// PageProbe captures the result of probing a single page.
type PageProbe struct {
	PageNum   int    `json:"page_num"`
	CharCount int    `json:"char_count"`
	Err       string `json:"err,omitempty"`
}

// Diagnostics describes one extractability check.
type Diagnostics struct {
	FilePath           string      `json:"file_path"`
	TotalPages         int         `json:"total_pages"`
	SampledPages       []int       `json:"sampled_pages"`
	TotalCharsInSample int         `json:"total_chars_in_sample"`
	Threshold          int         `json:"threshold"`
	Probes             []PageProbe `json:"probes"`
	HasExtractableText bool        `json:"has_extractable_text"`
}

// HasExtractableText samples pages of the PDF at pdfPath and reports whether
// the total non-whitespace character count reaches threshold.
func HasExtractableText(pdfPath string, threshold int) (bool, *Diagnostics, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	f, r, err := pdf.Open(pdfPath)
	if err != nil {
		return false, nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	total := r.NumPage()
	diag := &Diagnostics{
		FilePath:   pdfPath,
		TotalPages: total,
		Threshold:  threshold,
	}
	if total == 0 {
		return false, diag, nil
	}

	pages := samplePages(total)
	diag.SampledPages = pages

	for _, n := range pages {
		probe := PageProbe{PageNum: n}
		page := r.Page(n)
		if page.V.IsNull() {
			probe.Err = "null page"
			diag.Probes = append(diag.Probes, probe)
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			probe.Err = err.Error()
			diag.Probes = append(diag.Probes, probe)
			continue
		}
		probe.CharCount = len(whitespaceRegex.ReplaceAllString(text, ""))
		diag.TotalCharsInSample += probe.CharCount
		diag.Probes = append(diag.Probes, probe)

		if diag.TotalCharsInSample >= threshold {
			break
		}
	}

	diag.HasExtractableText = diag.TotalCharsInSample >= threshold
	return diag.HasExtractableText, diag, nil
}

// samplePages picks first, last and evenly spread middle pages (1-based).
func samplePages(total int) []int {
	if total <= maxSampledPages {
		out := make([]int, total)
		for i := range out {
			out[i] = i + 1
		}
		return out
	}
	picked := map[int]struct{}{1: {}, total: {}}
	step := float64(total-1) / float64(maxSampledPages-1)
	for i := 1; i < maxSampledPages-1; i++ {
		picked[1+int(float64(i)*step)] = struct{}{}
	}
	out := make([]int, 0, len(picked))
	for p := range picked {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// IsPDF reports whether the file at path starts with the PDF signature.
func IsPDF(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	sig := make([]byte, 5)
	if _, err := f.Read(sig); err != nil {
		return false
	}
	return string(sig) == "%PDF-"
}
