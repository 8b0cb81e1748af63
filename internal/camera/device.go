package camera

import (
	"fmt"
	"image"
	"image/draw"
	"sync"

	"gocv.io/x/gocv"

	"github.com/joselamego/IntelligentTrafficControl/internal/monitoring"
)

// Device is a V4L2 camera opened through OpenCV's video capture.
type Device struct {
	path string

	mu      sync.Mutex
	capture *gocv.VideoCapture
	frame   gocv.Mat
	closed  bool
}

// OpenDevice opens the device node at path and requests the configured frame
// size and saturation. Drivers that ignore a property keep their own setting.
func OpenDevice(path string, opts Options) (*Device, error) {
	capture, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %s: %w", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("failed to open camera %s", path)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(opts.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(opts.Height))
	capture.Set(gocv.VideoCaptureSaturation, opts.Saturation)
	monitoring.Infof("capturing %s at %.0fx%.0f, saturation %.2f", path,
		capture.Get(gocv.VideoCaptureFrameWidth), capture.Get(gocv.VideoCaptureFrameHeight),
		capture.Get(gocv.VideoCaptureSaturation))

	return &Device{path: path, capture: capture, frame: gocv.NewMat()}, nil
}

// Path returns the device node being captured.
func (d *Device) Path() string { return d.path }

func (d *Device) Read() (*image.RGBA, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	if ok := d.capture.Read(&d.frame); !ok || d.frame.Empty() {
		return nil, fmt.Errorf("failed to read frame from %s", d.path)
	}
	img, err := d.frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame from %s: %w", d.path, err)
	}
	return toRGBA(img), nil
}

// Close releases the device. Further Reads return ErrClosed.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.frame.Close()
	return d.capture.Close()
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
