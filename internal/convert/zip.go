package convert

import (
	"archive/zip"
	"io"
	"os"
)

// zipFiles writes the given files into a zip archive at outPath, one entry
// per file under the corresponding name. names must match paths in length.
func zipFiles(outPath string, paths, names []string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for i, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			zw.Close()
			return err
		}
		w, err := zw.Create(names[i])
		if err != nil {
			f.Close()
			zw.Close()
			return err
		}
		if _, err := io.Copy(w, f); err != nil {
			f.Close()
			zw.Close()
			return err
		}
		f.Close()
	}
	return zw.Close()
}
