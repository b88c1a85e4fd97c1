// Package texture decodes raster tiles and hands them to an Uploader.
package texture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG decoder registration
	_ "image/png"  // PNG decoder registration

	_ "golang.org/x/image/bmp"  // BMP decoder registration
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // WebP decoder registration
)

// ErrEmptyImage is returned for images with no pixels.
var ErrEmptyImage = errors.New("empty image")

// Decode decodes a PNG, JPEG, WebP or BMP tile into RGBA.
// Images wider or taller than maxSize are scaled down to fit; maxSize <= 0 disables scaling.
func Decode(data []byte, maxSize int) (*image.RGBA, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding tile image: %w", err)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, format, ErrEmptyImage
	}

	if maxSize > 0 && (b.Dx() > maxSize || b.Dy() > maxSize) {
		return Downscale(img, maxSize), format, nil
	}
	return ToRGBA(img), format, nil
}

// ToRGBA returns img as a tightly packed RGBA image with origin (0,0).
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) && rgba.Stride == 4*rgba.Rect.Dx() {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// Downscale scales img so that neither side exceeds maxSize, keeping the aspect ratio.
func Downscale(img image.Image, maxSize int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w >= h {
		h = max(1, h*maxSize/w)
		w = maxSize
	} else {
		w = max(1, w*maxSize/h)
		h = maxSize
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
