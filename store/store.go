// Package store persists accepted image files.
package store

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -source=$GOFILE -destination=mock/$GOFILE -package=mock

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

var (
	ErrNotFound    = errors.New("object not found")
	ErrInvalidName = errors.New("invalid object name")
)

// Object describes a stored file.
type Object struct {
	Name     string
	MimeType string
	Size     int64
	// Digest is the hex BLAKE3 hash of the content, empty when the backend does not report it.
	Digest  string
	ModTime time.Time
}

type Store interface {
	// Save stores data under a freshly generated name derived from originalName.
	Save(ctx context.Context, originalName, mimeType string, data []byte) (Object, error)
	// Delete removes name. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]Object, error)
	Open(ctx context.Context, name string) (io.ReadCloser, Object, error)
}

var extByMime = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

var imageName = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|webp)$`)

// NewName returns a unique name of the form menu_<unix ms>_<32 hex><ext>.
// The extension follows mimeType when it is a known image type, the original name otherwise.
func NewName(originalName, mimeType string, now time.Time) string {
	ext, ok := extByMime[strings.ToLower(mimeType)]
	if !ok {
		ext = strings.ToLower(path.Ext(originalName))
	}

	id := uuid.New()
	return "menu_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + hex.EncodeToString(id[:]) + ext
}

// MimeTypeOf returns the media type served for name, judged by its extension.
func MimeTypeOf(name string) string {
	if mt, ok := mimeByExt[strings.ToLower(path.Ext(name))]; ok {
		return mt
	}
	return "application/octet-stream"
}

// IsImageName reports whether name has one of the image extensions this store serves.
func IsImageName(name string) bool {
	return imageName.MatchString(name)
}

// ValidName rejects names that could escape the store's namespace.
func ValidName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return ErrInvalidName
	}
	return nil
}

// Digest returns the hex BLAKE3 hash of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
