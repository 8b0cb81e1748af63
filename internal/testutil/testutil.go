// Package testutil provides shared test fixtures: synthetic camera frames and
// a few assertion helpers used across the handler tests.
package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"net/http"
	"net/http/httptest"
	"testing"
)

// SolidFrame returns a w×h frame filled with c.
func SolidFrame(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// WithBlock returns a copy of base with r painted in c.
func WithBlock(base *image.RGBA, r image.Rectangle, c color.Color) *image.RGBA {
	img := image.NewRGBA(base.Bounds())
	copy(img.Pix, base.Pix)
	draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// LocalRequest creates a request that the debug routes accept as coming from
// the local machine.
func LocalRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:40000"
	return req
}
