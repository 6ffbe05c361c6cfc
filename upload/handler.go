// Package upload serves the menu image endpoints: upload, list, download and delete.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mazrean/formbuf"
	httpform "github.com/mazrean/formbuf/http"
	"github.com/mazrean/formbuf/imageproc"
	"github.com/mazrean/formbuf/store"
)

const (
	statusSuccess = "SUCCESS"
	statusError   = "ERROR"

	defaultPrefix      = "/api/images/menu"
	defaultConcurrency = 4
)

type Handler struct {
	store       store.Store
	normalizer  *imageproc.Normalizer
	logger      logrus.FieldLogger
	options     []formbuf.ParserOption
	prefix      string
	concurrency int
}

type Option func(*Handler)

// WithNormalizer runs every accepted file through n before it is stored.
func WithNormalizer(n *imageproc.Normalizer) Option {
	return func(h *Handler) {
		h.normalizer = n
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithParserOptions sets the options every upload is parsed with.
func WithParserOptions(options ...formbuf.ParserOption) Option {
	return func(h *Handler) {
		h.options = options
	}
}

// WithPrefix sets the URL path the routes are mounted on.
// default: /api/images/menu
func WithPrefix(prefix string) Option {
	return func(h *Handler) {
		h.prefix = strings.TrimSuffix(prefix, "/")
	}
}

// WithConcurrency bounds how many files of one upload are stored at the same time.
// default: 4
func WithConcurrency(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.concurrency = n
		}
	}
}

func NewHandler(s store.Store, options ...Option) *Handler {
	h := &Handler{
		store:       s,
		logger:      logrus.StandardLogger(),
		prefix:      defaultPrefix,
		concurrency: defaultConcurrency,
	}
	for _, opt := range options {
		opt(h)
	}

	return h
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+h.prefix, h.upload)
	mux.HandleFunc("GET "+h.prefix, h.list)
	mux.HandleFunc("GET "+h.prefix+"/{filename}", h.serve)
	mux.HandleFunc("DELETE "+h.prefix+"/{filename}", h.delete)
}

type response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type imageInfo struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName,omitempty"`
	FieldName    string `json:"fieldName,omitempty"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimetype"`
	Digest       string `json:"digest,omitempty"`
	URL          string `json:"url"`
}

type rejection struct {
	FieldName string `json:"fieldName,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Reason    string `json:"reason"`
}

type uploadData struct {
	Images   []imageInfo       `json:"images"`
	Fields   map[string]string `json:"fields,omitempty"`
	Rejected []rejection       `json:"rejected,omitempty"`
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)

	result, err := httpform.Parse(r, h.options...)
	if err != nil {
		logger.WithError(err).Info("failed to parse upload")

		code := formbuf.StatusCode(err)
		switch code {
		case http.StatusRequestEntityTooLarge:
			writeError(w, code, "FILE_TOO_LARGE", "file too large")
		case http.StatusBadRequest, http.StatusRequestTimeout:
			writeError(w, code, "INVALID_FORMAT", "invalid upload format")
		default:
			writeError(w, code, "INTERNAL_ERROR", "internal server error")
		}
		return
	}

	rejected := make([]rejection, 0, len(result.Rejections))
	for _, rej := range result.Rejections {
		rejected = append(rejected, rejection{
			FieldName: rej.FieldName,
			Filename:  rej.Filename,
			Reason:    rej.Err.Error(),
		})
	}

	if len(result.Files) == 0 {
		switch {
		case rejectedWith(result.Rejections, formbuf.ErrPayloadTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file too large")
		case rejectedWith(result.Rejections, formbuf.ErrUnsupportedMediaType):
			writeError(w, http.StatusBadRequest, "INVALID_FILE_TYPE", "file type not allowed, use JPEG, PNG or WebP")
		default:
			writeError(w, http.StatusBadRequest, "NO_FILE", "no image was sent")
		}
		return
	}

	files := make([]formbuf.FilePart, 0, len(result.Files))
	for _, f := range result.Files {
		if h.normalizer != nil {
			img, err := h.normalizer.Normalize(f.Content)
			if err != nil {
				logger.WithError(err).WithField("filename", f.Filename).Info("image rejected")
				rejected = append(rejected, rejection{
					FieldName: f.FieldName,
					Filename:  f.Filename,
					Reason:    err.Error(),
				})
				continue
			}
			f.Content, f.MimeType = img.Content, img.MimeType
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_IMAGE", "the uploaded file is not a valid image")
		return
	}

	objects, err := h.saveAll(r.Context(), files)
	if err != nil {
		logger.WithError(err).Error("failed to store images")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	images := make([]imageInfo, 0, len(objects))
	for i, obj := range objects {
		images = append(images, imageInfo{
			Filename:     obj.Name,
			OriginalName: files[i].Filename,
			FieldName:    files[i].FieldName,
			Size:         obj.Size,
			MimeType:     obj.MimeType,
			Digest:       obj.Digest,
			URL:          h.prefix + "/" + obj.Name,
		})
		logger.WithFields(logrus.Fields{
			"filename": obj.Name,
			"original": files[i].Filename,
			"size":     obj.Size,
		}).Info("image stored")
	}

	writeJSON(w, http.StatusOK, response{
		Status:  statusSuccess,
		Message: "image uploaded",
		Data: uploadData{
			Images:   images,
			Fields:   result.Fields,
			Rejected: rejected,
		},
	})
}

// saveAll stores files concurrently. If any save fails, the files already stored are removed again.
func (h *Handler) saveAll(ctx context.Context, files []formbuf.FilePart) ([]store.Object, error) {
	objects := make([]store.Object, len(files))
	saved := make([]bool, len(files))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(h.concurrency)
	for i, f := range files {
		eg.Go(func() error {
			obj, err := h.store.Save(egCtx, f.Filename, f.MimeType, f.Content)
			if err != nil {
				return fmt.Errorf("failed to save %q: %w", f.Filename, err)
			}
			objects[i] = obj
			saved[i] = true
			return nil
		})
	}

	err := eg.Wait()
	if err == nil {
		return objects, nil
	}

	cleanupCtx := context.WithoutCancel(ctx)
	for i, ok := range saved {
		if !ok {
			continue
		}
		if delErr := h.store.Delete(cleanupCtx, objects[i].Name); delErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to roll back %q: %w", objects[i].Name, delErr))
		}
	}

	return nil, err
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	objects, err := h.store.List(r.Context())
	if err != nil {
		h.requestLogger(r).WithError(err).Error("failed to list images")
		writeError(w, http.StatusInternalServerError, "READ_DIR_ERROR", "failed to list images")
		return
	}

	images := make([]imageInfo, 0, len(objects))
	for _, obj := range objects {
		images = append(images, imageInfo{
			Filename: obj.Name,
			Size:     obj.Size,
			MimeType: obj.MimeType,
			URL:      h.prefix + "/" + obj.Name,
		})
	}

	writeJSON(w, http.StatusOK, response{
		Status: statusSuccess,
		Data:   images,
	})
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")

	rc, obj, err := h.store.Open(r.Context(), name)
	switch {
	case errors.Is(err, store.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "INVALID_FILENAME", "invalid file name")
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "IMAGE_NOT_FOUND", "image not found")
		return
	case err != nil:
		h.requestLogger(r).WithError(err).Error("failed to open image")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", store.MimeTypeOf(name))
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	w.Header().Set("ETag", `"`+name+`"`)
	w.Header().Set("Vary", "Accept-Encoding")

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, name, obj.ModTime, rs)
		return
	}

	_, err = io.Copy(w, rc)
	if err != nil {
		h.requestLogger(r).WithError(err).Info("failed to send image")
	}
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")

	err := h.store.Delete(r.Context(), name)
	switch {
	case errors.Is(err, store.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "INVALID_FILENAME", "invalid file name")
		return
	case err != nil:
		h.requestLogger(r).WithError(err).Error("failed to delete image")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	h.requestLogger(r).WithField("filename", name).Info("image deleted")
	writeJSON(w, http.StatusOK, response{
		Status:  statusSuccess,
		Message: "image deleted",
	})
}

func rejectedWith(rejections []formbuf.Rejection, target error) bool {
	for _, r := range rejections {
		if errors.Is(r, target) {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, response{
		Status:  statusError,
		Message: message,
		Code:    errCode,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
