// Package camera provides the frame sources feeding the lane detectors: V4L2
// devices opened through OpenCV, a synthetic test pattern for development, and
// discovery of the video devices present on the host.
package camera

import (
	"errors"
	"image"

	"github.com/joselamego/IntelligentTrafficControl/internal/config"
)

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("camera: closed")

// Camera is a source of RGBA frames. Read blocks until the next frame is
// available. Implementations need not be safe for concurrent Reads.
type Camera interface {
	Read() (*image.RGBA, error)
	Close() error
}

// Options describes the capture format requested from a camera.
type Options struct {
	Width      int
	Height     int
	Saturation float64 // 0..1, 0.5 leaves colours unchanged
}

// OptionsFromConfig reads capture options from the controller config.
func OptionsFromConfig(cfg *config.ControllerConfig) Options {
	return Options{
		Width:      cfg.GetCameraWidth(),
		Height:     cfg.GetCameraHeight(),
		Saturation: cfg.GetCameraSaturation(),
	}
}
