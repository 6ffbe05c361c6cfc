// Package imageproc normalises uploaded images before they are stored:
// it bounds their dimensions, applies EXIF orientation and downscales oversized images.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"
)

var (
	// ErrUndecodable is returned when the content is not an image of a supported format.
	ErrUndecodable = errors.New("undecodable image")
	// ErrTooManyPixels is returned when the image is larger than MaxPixels.
	ErrTooManyPixels = errors.New("image has too many pixels")
)

type Config struct {
	MaxWidth, MaxHeight int
	// MaxPixels bounds width*height before the image is fully decoded.
	MaxPixels int
	Filter    imaging.ResampleFilter
	JpegOpts  *jpeg.Options
}

var DefaultConfig = Config{
	MaxWidth:  1920,
	MaxHeight: 1920,
	MaxPixels: 8192 * 8192,
	Filter:    imaging.Lanczos,
	JpegOpts:  &jpeg.Options{Quality: 85},
}

type Normalizer struct {
	cfg Config
}

func NewNormalizer(cfg Config) *Normalizer {
	return &Normalizer{cfg: cfg}
}

// Image is a normalised image ready to be stored.
type Image struct {
	Content  []byte
	MimeType string
	Width    int
	Height   int
	// Changed is false when Content is the original input.
	Changed bool
}

// Normalize checks data and returns it unchanged when it already fits the limits.
// Otherwise the image is rotated upright, fitted into MaxWidth x MaxHeight and re-encoded.
// WebP input that needs changes is re-encoded as PNG.
func (n *Normalizer) Normalize(data []byte) (Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}

	if n.cfg.MaxPixels > 0 && cfg.Width*cfg.Height > n.cfg.MaxPixels {
		return Image{}, fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}

	orient := 1
	if format == "jpeg" {
		orient = exifOrient(data)
	}
	w, h := rotwh(orient, cfg.Width, cfg.Height)

	fits := (n.cfg.MaxWidth <= 0 || w <= n.cfg.MaxWidth) && (n.cfg.MaxHeight <= 0 || h <= n.cfg.MaxHeight)
	if fits && orient == 1 {
		return Image{
			Content:  data,
			MimeType: mimeOf(format),
			Width:    w,
			Height:   h,
		}, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}

	img := rotimg(orient, imaging.Clone(src))
	if !fits {
		img = imaging.Fit(img, limit(n.cfg.MaxWidth, w), limit(n.cfg.MaxHeight, h), n.cfg.Filter)
	}

	var buf bytes.Buffer
	mimeType := "image/png"
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, n.cfg.JpegOpts)
		mimeType = "image/jpeg"
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return Image{}, fmt.Errorf("failed to encode image: %w", err)
	}

	b := img.Bounds()
	return Image{
		Content:  buf.Bytes(),
		MimeType: mimeType,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Changed:  true,
	}, nil
}

func limit(bound, actual int) int {
	if bound <= 0 {
		return actual
	}
	return bound
}

func mimeOf(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	}
	return "application/octet-stream"
}

func exifOrient(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err == nil && x != nil {
		orient, err := x.Get(exif.Orientation)
		if err == nil && orient != nil && orient.Count != 0 {
			if i, err := orient.Int(0); err == nil && i >= 1 && i <= 8 {
				return i
			}
		}
	}
	return 1
}

func rotwh(orient int, w, h int) (int, int) {
	switch orient {
	case 5, 6, 7, 8:
		w, h = h, w
	}
	return w, h
}

func rotimg(orient int, img *image.NRGBA) *image.NRGBA {
	switch orient {
	case 2:
		img = imaging.FlipH(img)
	case 3:
		img = imaging.Rotate180(img)
	case 4:
		img = imaging.FlipV(img)
	case 5:
		img = imaging.Transpose(img)
	case 6:
		img = imaging.Rotate270(img)
	case 7:
		img = imaging.Transverse(img)
	case 8:
		img = imaging.Rotate90(img)
	}
	return img
}
