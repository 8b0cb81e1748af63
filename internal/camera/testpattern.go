package camera

import (
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"github.com/disintegration/gift"

	"github.com/joselamego/IntelligentTrafficControl/internal/timeutil"
)

// TestPattern is a synthetic camera for development without hardware. It
// renders a static road scene and, once per cycle, a vehicle-sized block that
// crosses the frame from left to right.
type TestPattern struct {
	width, height int
	clock         timeutil.Clock
	cycle         time.Duration
	crossing      time.Duration
	offset        time.Duration
	start         time.Time
	filter        *gift.GIFT // nil when colours are left as drawn

	mu     sync.Mutex
	closed bool
}

// TestPatternOptions tunes the synthetic traffic.
type TestPatternOptions struct {
	// Cycle is the time between two vehicles.
	Cycle time.Duration
	// Crossing is how long a vehicle takes to cross the frame.
	Crossing time.Duration
	// Offset shifts the cycle so that lanes are not in lockstep.
	Offset time.Duration
	// Saturation mimics the device property of the same name (0.5 neutral).
	// Zero leaves the colours as drawn.
	Saturation float64
}

var (
	roadColor    = color.RGBA{70, 70, 70, 255}
	vergeColor   = color.RGBA{60, 110, 50, 255}
	markingColor = color.RGBA{230, 230, 230, 255}
	vehicleColor = color.RGBA{200, 40, 40, 255}
)

// NewTestPattern returns a TestPattern producing width×height frames.
func NewTestPattern(width, height int, clock timeutil.Clock, opts TestPatternOptions) *TestPattern {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if opts.Cycle <= 0 {
		opts.Cycle = 30 * time.Second
	}
	if opts.Crossing <= 0 || opts.Crossing > opts.Cycle {
		opts.Crossing = opts.Cycle / 3
	}
	var filter *gift.GIFT
	if opts.Saturation > 0 && opts.Saturation != 0.5 {
		filter = gift.New(gift.Saturation(saturationPercent(opts.Saturation)))
	}
	return &TestPattern{
		width:    width,
		height:   height,
		clock:    clock,
		cycle:    opts.Cycle,
		crossing: opts.Crossing,
		offset:   opts.Offset,
		start:    clock.Now(),
		filter:   filter,
	}
}

// VehicleAt returns the vehicle rectangle at t, or an empty rectangle when the
// frame is clear.
func (p *TestPattern) VehicleAt(t time.Time) image.Rectangle {
	elapsed := (t.Sub(p.start) + p.offset) % p.cycle
	if elapsed < 0 {
		elapsed += p.cycle
	}
	if elapsed >= p.crossing {
		return image.Rectangle{}
	}

	vw, vh := p.width/4, p.height/4
	travel := p.width + vw
	x := int(float64(travel)*float64(elapsed)/float64(p.crossing)) - vw
	y := p.height/2 - vh/2
	return image.Rect(x, y, x+vw, y+vh).Intersect(image.Rect(0, 0, p.width, p.height))
}

func (p *TestPattern) Read() (*image.RGBA, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: vergeColor}, image.Point{}, draw.Src)

	road := image.Rect(0, p.height/4, p.width, 3*p.height/4)
	draw.Draw(img, road, &image.Uniform{C: roadColor}, image.Point{}, draw.Src)
	for x := 0; x < p.width; x += 40 {
		dash := image.Rect(x, p.height/2-1, x+20, p.height/2+1)
		draw.Draw(img, dash, &image.Uniform{C: markingColor}, image.Point{}, draw.Src)
	}

	if v := p.VehicleAt(p.clock.Now()); !v.Empty() {
		draw.Draw(img, v, &image.Uniform{C: vehicleColor}, image.Point{}, draw.Src)
	}
	if p.filter == nil {
		return img, nil
	}
	out := image.NewRGBA(p.filter.Bounds(img.Bounds()))
	p.filter.Draw(out, img)
	return out, nil
}

// saturationPercent maps a 0..1 camera saturation (0.5 neutral) onto the
// percentage gift.Saturation expects.
func saturationPercent(s float64) float32 {
	return float32((s/0.5 - 1) * 100)
}

func (p *TestPattern) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
