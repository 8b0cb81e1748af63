// Package stream runs the capture loop that ties the lane cameras, the motion
// detectors and the phase controller together, and serves the composited
// result to viewers as a multipart MJPEG stream.
package stream

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
)

// ErrMissingLane is returned by Compose when a lane frame is absent.
var ErrMissingLane = errors.New("stream: missing lane frame")

// Compose places left and right side by side. The result is as wide as both
// inputs together and as tall as the taller one.
func Compose(left, right *image.RGBA) (*image.RGBA, error) {
	if left == nil || right == nil {
		return nil, ErrMissingLane
	}
	lb, rb := left.Bounds(), right.Bounds()
	h := lb.Dy()
	if rb.Dy() > h {
		h = rb.Dy()
	}

	dst := image.NewRGBA(image.Rect(0, 0, lb.Dx()+rb.Dx(), h))
	draw.Draw(dst, image.Rect(0, 0, lb.Dx(), lb.Dy()), left, lb.Min, draw.Src)
	draw.Draw(dst, image.Rect(lb.Dx(), 0, lb.Dx()+rb.Dx(), rb.Dy()), right, rb.Min, draw.Src)
	return dst, nil
}

// Encode returns img as a JPEG at the given quality (1-100).
func Encode(img image.Image, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
