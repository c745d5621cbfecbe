package convert

import (
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// imageToPDF imports a single image as a one-page PDF sized to the image.
func imageToPDF(imgPath, outPath string) error {
	if err := api.ImportImagesFile([]string{imgPath}, outPath, nil, nil); err != nil {
		return &Error{Stage: "image", Err: err}
	}
	return nil
}
