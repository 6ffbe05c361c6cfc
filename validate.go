package formbuf

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// FileValidator checks a file part against a media type allow-list and a size cap.
type FileValidator struct {
	allowed     map[string]struct{}
	maxFileSize DataSize
	sniff       bool
}

// NewFileValidator builds a validator. With sniff set, the detected content type must
// also match the declared one.
func NewFileValidator(allowed []string, maxFileSize DataSize, sniff bool) *FileValidator {
	m := make(map[string]struct{}, len(allowed))
	for _, t := range allowed {
		m[mediaType(t)] = struct{}{}
	}

	return &FileValidator{
		allowed:     m,
		maxFileSize: maxFileSize,
		sniff:       sniff,
	}
}

// Validate returns part unchanged if it passes, or an error wrapping
// ErrUnsupportedMediaType or ErrPayloadTooLarge.
func (v *FileValidator) Validate(part FilePart) (FilePart, error) {
	mt := mediaType(part.MimeType)
	if _, ok := v.allowed[mt]; !ok {
		return FilePart{}, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, part.MimeType)
	}

	if DataSize(part.Size()) > v.maxFileSize {
		return FilePart{}, fmt.Errorf("%w: file is %d bytes, limit is %d", ErrPayloadTooLarge, part.Size(), v.maxFileSize)
	}

	if v.sniff {
		detected := mimetype.Detect(part.Content)
		if !detected.Is(canonicalMediaType(mt)) {
			return FilePart{}, fmt.Errorf("%w: declared %q, content is %q", ErrUnsupportedMediaType, part.MimeType, detected.String())
		}
	}

	return part, nil
}

// mediaType lower-cases a Content-Type value and strips its parameters.
func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func canonicalMediaType(mt string) string {
	switch mt {
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	case "image/x-png":
		return "image/png"
	}
	return mt
}
