package camera

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joselamego/IntelligentTrafficControl/internal/testutil"
	"github.com/joselamego/IntelligentTrafficControl/internal/timeutil"
)

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"video10", "video0", "video2", "videox", "null", "vhci"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	got, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "video0"),
		filepath.Join(dir, "video2"),
		filepath.Join(dir, "video10"),
	}, got)

	empty, err := Discover(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = Discover(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestOpenDevice_Missing(t *testing.T) {
	_, err := OpenDevice(filepath.Join(t.TempDir(), "video9"), Options{Width: 320, Height: 240, Saturation: 0.2})
	assert.Error(t, err)
}

func TestToRGBA(t *testing.T) {
	rgba := testutil.SolidFrame(4, 4, color.White)
	assert.Same(t, rgba, toRGBA(rgba))

	gray := image.NewGray(image.Rect(10, 10, 14, 12))
	gray.SetGray(10, 10, color.Gray{Y: 200})
	got := toRGBA(gray)
	assert.Equal(t, image.Rect(0, 0, 4, 2), got.Bounds())
	assert.Equal(t, color.RGBA{200, 200, 200, 255}, got.RGBAAt(0, 0))
}

func TestTestPattern_Saturation(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	opts := TestPatternOptions{Cycle: 30 * time.Second, Crossing: 10 * time.Second}
	vivid := NewTestPattern(64, 48, clock, opts)
	opts.Saturation = 0.2
	dull := NewTestPattern(64, 48, clock, opts)

	clock.Advance(5 * time.Second)
	v := vivid.VehicleAt(clock.Now())
	x, y := (v.Min.X+v.Max.X)/2, (v.Min.Y+v.Max.Y)/2

	a, err := vivid.Read()
	require.NoError(t, err)
	b, err := dull.Read()
	require.NoError(t, err)

	spread := func(c color.RGBA) int { return int(c.R) - int(c.G) }
	assert.Less(t, spread(b.RGBAAt(x, y)), spread(a.RGBAAt(x, y)))
	assert.InDelta(t, -60, saturationPercent(0.2), 1e-4)
	assert.InDelta(t, 0, saturationPercent(0.5), 1e-4)
}

func TestTestPattern(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	p := NewTestPattern(320, 240, clock, TestPatternOptions{Cycle: 30 * time.Second, Crossing: 10 * time.Second})

	start := clock.Now()
	assert.False(t, p.VehicleAt(start.Add(5*time.Second)).Empty(), "mid crossing")
	assert.True(t, p.VehicleAt(start.Add(20*time.Second)).Empty(), "road clear")
	assert.False(t, p.VehicleAt(start.Add(35*time.Second)).Empty(), "next cycle")

	early := p.VehicleAt(start.Add(3 * time.Second))
	late := p.VehicleAt(start.Add(7 * time.Second))
	assert.Less(t, early.Min.X, late.Min.X, "vehicle moves left to right")

	clock.Set(start.Add(5 * time.Second))
	img, err := p.Read()
	require.NoError(t, err)
	v := p.VehicleAt(clock.Now())
	mid := image.Pt((v.Min.X+v.Max.X)/2, (v.Min.Y+v.Max.Y)/2)
	assert.Equal(t, vehicleColor, img.RGBAAt(mid.X, mid.Y))

	clock.Set(start.Add(20 * time.Second))
	img, err = p.Read()
	require.NoError(t, err)
	assert.Equal(t, roadColor, img.RGBAAt(mid.X, mid.Y+2*v.Dy()/5+10))

	offset := NewTestPattern(320, 240, clock, TestPatternOptions{Cycle: 30 * time.Second, Crossing: 10 * time.Second, Offset: 15 * time.Second})
	assert.True(t, offset.VehicleAt(clock.Now().Add(5*time.Second)).Empty(), "offset lane is out of phase")

	require.NoError(t, p.Close())
	_, err = p.Read()
	assert.ErrorIs(t, err, ErrClosed)
}
