// Package attachment validates uploaded files and turns them into prompt
// input: PDF text or inline media for the cloud backend.
package attachment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

var (
	ErrEmptyFilename       = errors.New("empty file")
	ErrUnsupportedFileType = errors.New("unsupported file type")
)

type Kind string

const (
	KindPDF   Kind = "pdf"
	KindMedia Kind = "media"
)

const (
	octetStream  = "application/octet-stream"
	fallbackMime = "image/jpeg"
)

var allowedExtensions = map[string]bool{
	"pdf":  true,
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
	"webp": true,
	"heic": true,
	"heif": true,
	"mp4":  true,
	"mpeg": true,
	"mov":  true,
	"webm": true,
	"mp3":  true,
	"wav":  true,
}

type Attachment struct {
	Name     string
	MimeType string
	Size     int64
	Kind     Kind
	Data     []byte
}

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

func Allowed(name string) bool {
	return allowedExtensions[Extension(name)]
}

// Inspect checks the file name against the allow-list and settles its MIME
// type. declaredMime wins unless it is missing or generic.
func Inspect(name, declaredMime string, data []byte) (*Attachment, error) {
	if name == "" {
		return nil, ErrEmptyFilename
	}
	if !Allowed(name) {
		return nil, ErrUnsupportedFileType
	}

	kind := KindMedia
	if Extension(name) == "pdf" {
		kind = KindPDF
	}

	return &Attachment{
		Name:     name,
		MimeType: resolveMime(declaredMime, data),
		Size:     int64(len(data)),
		Kind:     kind,
		Data:     data,
	}, nil
}

func resolveMime(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != octetStream {
		return declared
	}
	if len(data) > 0 {
		if detected := mimetype.Detect(data); detected != nil && !detected.Is(octetStream) {
			return detected.String()
		}
	}
	return fallbackMime
}

// ExtractPDFText returns the plain text of every page.
func ExtractPDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	text, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, text); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
