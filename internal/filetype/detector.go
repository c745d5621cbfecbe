package filetype

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Kind selects the conversion path for an input file.
type Kind string

const (
	KindImage  Kind = "image"
	KindText   Kind = "text"
	KindOffice Kind = "office"
	KindPDF    Kind = "pdf"
)

// dispatch maps lowercased extensions to conversion kinds. First exact match
// wins; unrecognized extensions fail closed.
var dispatch = map[string]Kind{
	".png":  KindImage,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".webp": KindImage,
	".tiff": KindImage,
	".tif":  KindImage,
	".bmp":  KindImage,
	".gif":  KindImage,

	".txt": KindText,
	".md":  KindText,
	".csv": KindText,
	".log": KindText,

	".doc":  KindOffice,
	".docx": KindOffice,
	".odt":  KindOffice,
	".rtf":  KindOffice,
	".ppt":  KindOffice,
	".pptx": KindOffice,
	".odp":  KindOffice,
	".xls":  KindOffice,
	".xlsx": KindOffice,
	".ods":  KindOffice,

	".pdf": KindPDF,
}

// Info describes a detected input file.
type Info struct {
	Kind      Kind
	Extension string
	MIMEType  string
}

// Detector resolves conversion kinds from file names and magic bytes.
type Detector struct{}

// New creates a new file type detector.
func New() *Detector {
	return &Detector{}
}

// ByName resolves the conversion kind from the file's extension alone.
func (d *Detector) ByName(name string) (Info, error) {
	ext := strings.ToLower(filepath.Ext(name))
	kind, ok := dispatch[ext]
	if !ok {
		return Info{}, &UnsupportedError{Extension: ext}
	}
	return Info{Kind: kind, Extension: ext}, nil
}

// Detect resolves the conversion kind for a file on disk, cross-checking the
// extension against magic bytes. The extension decides the dispatch; sniffing
// catches mislabeled uploads (a .txt that is really a PDF, an image with a
// wrong suffix) and office formats hiding behind generic ZIP/OLE containers.
func (d *Detector) Detect(path string) (Info, error) {
	info, err := d.ByName(path)
	if err != nil {
		return Info{}, err
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("detect file type: %w", err)
	}
	mimeType := mtype.String()
	log.Debug().Str("mime", mimeType).Str("ext", info.Extension).Str("file", path).Msg("detected file type")

	// Modern office formats are ZIP containers and legacy ones OLE storage;
	// mimetype reports the container for truncated or unusual files. The
	// extension already routed those to the office path, so only reconcile
	// the reported MIME.
	switch mimeType {
	case "application/zip", "application/x-ole-storage", "application/x-cfb":
		if info.Kind == KindOffice {
			mimeType = officeMIME(info.Extension)
		}
	}

	sniffed := sniffKind(mimeType)
	if sniffed != "" && sniffed != info.Kind {
		log.Warn().Str("ext", info.Extension).Str("mime", mimeType).Msg("extension disagrees with magic bytes")
		return Info{}, &UnsupportedError{Extension: info.Extension, Detail: "content does not match extension"}
	}

	info.MIMEType = mimeType
	return info, nil
}

// sniffKind classifies a MIME type into a conversion kind, or "" when the
// type carries no routing signal.
func sniffKind(mimeType string) Kind {
	switch {
	case mimeType == "application/pdf":
		return KindPDF
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "text/"):
		return KindText
	case strings.HasPrefix(mimeType, "application/vnd."), mimeType == "application/msword", mimeType == "application/rtf":
		return KindOffice
	}
	return ""
}

func officeMIME(ext string) string {
	switch ext {
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".odt":
		return "application/vnd.oasis.opendocument.text"
	case ".ods":
		return "application/vnd.oasis.opendocument.spreadsheet"
	case ".odp":
		return "application/vnd.oasis.opendocument.presentation"
	case ".doc":
		return "application/msword"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".ppt":
		return "application/vnd.ms-powerpoint"
	}
	return "application/octet-stream"
}

// UnsupportedError reports an input the dispatch table does not cover.
type UnsupportedError struct {
	Extension string
	Detail    string
}

func (e *UnsupportedError) Error() string {
	ext := e.Extension
	if ext == "" {
		ext = "(none)"
	}
	if e.Detail != "" {
		return fmt.Sprintf("unsupported file type %s: %s", ext, e.Detail)
	}
	return fmt.Sprintf("unsupported file type %s", ext)
}
