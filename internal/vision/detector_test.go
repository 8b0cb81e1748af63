package vision

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/joselamego/IntelligentTrafficControl/internal/testutil"
)

func defaultOptions() Options {
	return Options{KernelSize: 5, Threshold: 30, MinArea: 500}
}

func newDetector(t *testing.T, opts Options) *Detector {
	t.Helper()
	d := NewDetector(opts)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestMakeOdd(t *testing.T) {
	tests := []struct{ in, want int }{
		{-3, 1}, {0, 1}, {1, 1}, {2, 1}, {4, 3}, {5, 5}, {10, 9}, {11, 11},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MakeOdd(tt.in), "MakeOdd(%d)", tt.in)
	}
}

func TestDetect_FirstFrameSeedsBackground(t *testing.T) {
	d := newDetector(t, Options{KernelSize: 5, Threshold: 30, MinArea: 0})
	assert.False(t, d.HasBackground())

	busy := testutil.WithBlock(testutil.SolidFrame(160, 120, color.Black), image.Rect(10, 10, 150, 110), color.White)
	res, err := d.Detect(busy)
	require.NoError(t, err)
	assert.False(t, res.Motion, "first frame never reports motion")
	assert.Empty(t, res.Boxes)
	assert.True(t, d.HasBackground())

	// the stored reference is that frame, so repeating it shows nothing
	res, err = d.Detect(busy)
	require.NoError(t, err)
	assert.False(t, res.Motion)
}

func TestDetect_MovingBlock(t *testing.T) {
	d := newDetector(t, defaultOptions())
	bg := testutil.SolidFrame(320, 240, color.Black)

	_, err := d.Detect(bg)
	require.NoError(t, err)

	block := image.Rect(100, 80, 140, 120)
	res, err := d.Detect(testutil.WithBlock(bg, block, color.White))
	require.NoError(t, err)
	require.True(t, res.Motion)
	require.Len(t, res.Boxes, 1)
	assert.True(t, block.In(res.Boxes[0]), "box %v should cover block %v", res.Boxes[0], block)

	// background advanced to the block frame; holding still clears motion
	res, err = d.Detect(testutil.WithBlock(bg, block, color.White))
	require.NoError(t, err)
	assert.False(t, res.Motion)
}

func TestDetect_BelowThreshold(t *testing.T) {
	d := newDetector(t, defaultOptions())
	_, err := d.Detect(testutil.SolidFrame(64, 64, color.Gray{Y: 100}))
	require.NoError(t, err)

	res, err := d.Detect(testutil.SolidFrame(64, 64, color.Gray{Y: 120}))
	require.NoError(t, err)
	assert.False(t, res.Motion, "a change of 20 levels stays under a cutoff of 30")
}

func TestDetect_MinAreaFiltersRegions(t *testing.T) {
	d := newDetector(t, Options{KernelSize: 5, Threshold: 30, MinArea: 320 * 240})
	bg := testutil.SolidFrame(320, 240, color.Black)
	_, err := d.Detect(bg)
	require.NoError(t, err)

	res, err := d.Detect(testutil.WithBlock(bg, image.Rect(100, 80, 140, 120), color.White))
	require.NoError(t, err)
	assert.False(t, res.Motion)
	assert.Empty(t, res.Boxes)
}

func TestDetect_BadFrames(t *testing.T) {
	d := newDetector(t, defaultOptions())

	_, err := d.Detect(nil)
	assert.ErrorIs(t, err, ErrBadFrame)

	_, err = d.Detect(image.NewRGBA(image.Rectangle{}))
	assert.ErrorIs(t, err, ErrBadFrame)
	assert.False(t, d.HasBackground(), "bad frames do not seed the reference")

	_, err = d.Detect(testutil.SolidFrame(32, 32, color.Black))
	require.NoError(t, err)
	_, err = d.Detect(testutil.SolidFrame(48, 32, color.Black))
	assert.True(t, errors.Is(err, ErrBadFrame))

	// the new size is now the reference
	res, err := d.Detect(testutil.SolidFrame(48, 32, color.Black))
	require.NoError(t, err)
	assert.False(t, res.Motion)
}

func TestDetect_ResetReseeds(t *testing.T) {
	d := newDetector(t, Options{KernelSize: 1, Threshold: 30, MinArea: 1})
	_, err := d.Detect(testutil.SolidFrame(32, 32, color.Black))
	require.NoError(t, err)

	d.Reset()
	assert.False(t, d.HasBackground())
	res, err := d.Detect(testutil.SolidFrame(32, 32, color.White))
	require.NoError(t, err)
	assert.False(t, res.Motion)
}

func maskWith(t *testing.T, w, h int, rects ...image.Rectangle) gocv.Mat {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for _, r := range rects {
		draw.Draw(img, r, &image.Uniform{C: color.Gray{Y: 255}}, image.Point{}, draw.Src)
	}
	m, err := gocv.ImageGrayToMatGray(img)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

// ring draws a square outline of the given thickness.
func ring(r image.Rectangle, thickness int) []image.Rectangle {
	return []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
}

func TestMinAreaBoundary(t *testing.T) {
	// the contour runs through the outer pixel centres: 21x26 pixels enclose 20x25
	regions := externalRegions(maskWith(t, 100, 100, image.Rect(10, 10, 31, 36)))
	require.Len(t, regions, 1)
	require.Equal(t, 500.0, regions[0].Area)

	assert.True(t, filterRegions(regions, 500).Motion, "area equal to the minimum counts")
	assert.False(t, filterRegions(regions, 501).Motion, "area below the minimum never counts")

	res := filterRegions(regions, 500)
	assert.Equal(t, []image.Rectangle{image.Rect(10, 10, 31, 36)}, res.Boxes)
}

func TestExternalRegions(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, externalRegions(maskWith(t, 10, 10)))
		assert.Empty(t, externalRegions(gocv.NewMat()))
	})

	t.Run("separate blobs", func(t *testing.T) {
		regions := externalRegions(maskWith(t, 50, 20, image.Rect(0, 0, 5, 5), image.Rect(40, 10, 50, 20)))
		require.Len(t, regions, 2)
		var boxes []image.Rectangle
		for _, r := range regions {
			boxes = append(boxes, r.Bounds)
		}
		assert.ElementsMatch(t, []image.Rectangle{image.Rect(0, 0, 5, 5), image.Rect(40, 10, 50, 20)}, boxes)
	})

	t.Run("enclosed hole counts", func(t *testing.T) {
		regions := externalRegions(maskWith(t, 20, 20, ring(image.Rect(5, 5, 16, 16), 2)...))
		require.Len(t, regions, 1)
		assert.Equal(t, 100.0, regions[0].Area)
		assert.Equal(t, image.Rect(5, 5, 16, 16), regions[0].Bounds)
	})
}

func TestExternalRegions_BlobInsideRingBelongsToRing(t *testing.T) {
	outer := image.Rect(50, 50, 150, 150)
	rects := append(ring(outer, 5), image.Rect(95, 95, 105, 105))
	regions := externalRegions(maskWith(t, 200, 200, rects...))

	require.Len(t, regions, 1, "the inner blob is not an external contour")
	assert.Equal(t, outer, regions[0].Bounds)
	assert.Equal(t, 99.0*99.0, regions[0].Area)

	res := filterRegions(regions, 500)
	assert.True(t, res.Motion)
	assert.Equal(t, []image.Rectangle{outer}, res.Boxes)
}
