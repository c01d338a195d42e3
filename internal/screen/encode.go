package screen

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const (
	DefaultMaxDimension = 1280
	DefaultJPEGQuality  = 75
)

// EncodeOptions controls how a frame is compressed before upload.
type EncodeOptions struct {
	// MaxDimension caps the longest side; zero means DefaultMaxDimension.
	MaxDimension int
	// Quality is the JPEG quality, 1-100; zero means DefaultJPEGQuality.
	Quality int
}

// Encoded is a compressed frame ready to attach to a model request.
type Encoded struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// EncodeForModel downsizes img so its longest side fits MaxDimension, drops
// any alpha channel and encodes it as JPEG.
func EncodeForModel(img image.Image, opts EncodeOptions) (*Encoded, error) {
	if img == nil {
		return nil, errors.New("no image to encode")
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultMaxDimension
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultJPEGQuality
	}

	src := img.Bounds()
	if src.Empty() {
		return nil, errors.New("image has no pixels")
	}
	w, h := FitWithin(src.Dx(), src.Dy(), opts.MaxDimension)

	// RGBA with an opaque fill flattens transparency the way an RGB conversion would.
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if w == src.Dx() && h == src.Dy() {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return &Encoded{Data: buf.Bytes(), MIMEType: "image/jpeg", Width: w, Height: h}, nil
}

// FitWithin scales (w, h) down, preserving aspect ratio, so that neither side
// exceeds limit. Sizes already within bounds are returned unchanged.
func FitWithin(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		return limit, atLeastOne(h * limit / w)
	}
	return atLeastOne(w * limit / h), limit
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
