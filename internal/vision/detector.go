// Package vision implements per-lane motion detection by background frame
// differencing.
package vision

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/joselamego/IntelligentTrafficControl/internal/config"
)

// ErrBadFrame is returned for a nil or empty frame, or one whose size differs
// from the background reference.
var ErrBadFrame = errors.New("vision: malformed frame")

// DilateKernel is the side of the square structuring element used to close
// gaps in the difference mask. It is applied DilateIterations times.
const (
	DilateKernel     = 11
	DilateIterations = 2
)

// Result is the outcome of one detection pass.
type Result struct {
	Motion bool
	Boxes  []image.Rectangle
}

// Options configures a Detector.
type Options struct {
	KernelSize int // coerced to odd, see MakeOdd
	Threshold  int // intensity cutoff for the difference mask, 0-255
	MinArea    int // minimum contour area in pixels
}

// OptionsFromConfig reads detector options from the controller config.
func OptionsFromConfig(cfg *config.ControllerConfig) Options {
	return Options{
		KernelSize: cfg.GetBlurKernelSize(),
		Threshold:  cfg.GetDiffThreshold(),
		MinArea:    cfg.GetMinArea(),
	}
}

// Detector holds the background reference of a single lane. It is not safe for
// concurrent use; each lane's stream loop owns one.
type Detector struct {
	kernel    int
	threshold float32
	minArea   float64
	dilate    gocv.Mat

	// empty until the first frame seeds it
	background gocv.Mat
}

// NewDetector returns a Detector with no background reference. Close releases
// its native buffers.
func NewDetector(opts Options) *Detector {
	thresh := opts.Threshold
	if thresh < 0 {
		thresh = 0
	} else if thresh > 255 {
		thresh = 255
	}

	return &Detector{
		kernel:     MakeOdd(opts.KernelSize),
		threshold:  float32(thresh),
		minArea:    float64(opts.MinArea),
		dilate:     gocv.GetStructuringElement(gocv.MorphRect, image.Pt(DilateKernel, DilateKernel)),
		background: gocv.NewMat(),
	}
}

// MakeOdd coerces a kernel size to an odd value of at least 1: 0 becomes 1 and
// an even n becomes n-1.
func MakeOdd(n int) int {
	if n <= 0 {
		return 1
	}
	if n%2 == 0 {
		return n - 1
	}
	return n
}

// Reset drops the background reference. The next frame seeds a new one.
func (d *Detector) Reset() {
	d.background.Close()
	d.background = gocv.NewMat()
}

// HasBackground reports whether a background reference is held.
func (d *Detector) HasBackground() bool {
	return !d.background.Empty()
}

// Close releases the background reference and the structuring element.
func (d *Detector) Close() error {
	if err := d.background.Close(); err != nil {
		return err
	}
	return d.dilate.Close()
}

// Detect compares frame with the background reference and replaces the
// reference with frame. The first frame after construction or Reset only seeds
// the reference and never reports motion.
func (d *Detector) Detect(frame image.Image) (Result, error) {
	if frame == nil || frame.Bounds().Empty() {
		return Result{}, ErrBadFrame
	}

	gray, err := d.prepare(frame)
	if err != nil {
		return Result{}, err
	}

	prev := d.background
	d.background = gray
	if prev.Empty() {
		prev.Close()
		return Result{}, nil
	}
	defer prev.Close()

	if prev.Rows() != gray.Rows() || prev.Cols() != gray.Cols() {
		return Result{}, fmt.Errorf("%w: size changed from %dx%d to %dx%d",
			ErrBadFrame, prev.Cols(), prev.Rows(), gray.Cols(), gray.Rows())
	}

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.AbsDiff(prev, gray, &mask)
	gocv.Threshold(mask, &mask, d.threshold, 255, gocv.ThresholdBinary)
	for i := 0; i < DilateIterations; i++ {
		gocv.Dilate(mask, &mask, d.dilate)
	}

	return filterRegions(externalRegions(mask), d.minArea), nil
}

// prepare converts frame to a blurred single-channel image.
func (d *Detector) prepare(frame image.Image) (gocv.Mat, error) {
	src, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	if d.kernel > 1 {
		gocv.GaussianBlur(gray, &gray, image.Pt(d.kernel, d.kernel), 0, 0, gocv.BorderDefault)
	}
	return gray, nil
}
