package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical controller defaults file.
const DefaultConfigPath = "config/controller.defaults.json"

// Built-in defaults, used when a field is omitted from the JSON file.
const (
	DefaultLapPeriodSec     = 10
	DefaultYellowPeriod     = 2 * time.Second
	DefaultBlurKernelSize   = 5
	DefaultDiffThreshold    = 30
	DefaultMinArea          = 500
	DefaultCameraWidth      = 320
	DefaultCameraHeight     = 240
	DefaultCameraSaturation = 0.2
	DefaultFrameInterval    = 50 * time.Millisecond
	DefaultJPEGQuality      = 75
)

// Safe states the lamps are driven to on shutdown.
const (
	SafeStateOff = "off"
	SafeStateRed = "red"
)

// LampPins maps one lane's signal head onto GPIO pin numbers.
type LampPins struct {
	Red    int `json:"red"`
	Yellow int `json:"yellow"`
	Green  int `json:"green"`
}

// DefaultLamps is the wiring of the reference board: red/yellow/green for lane 1
// then lane 2.
func DefaultLamps() []LampPins {
	return []LampPins{
		{Red: 9, Yellow: 5, Green: 11},
		{Red: 8, Yellow: 6, Green: 10},
	}
}

// ControllerConfig is the root configuration of the signal controller and its
// diagnostic stream. Every field is optional; the Get* accessors fall back to
// the built-in defaults.
type ControllerConfig struct {
	// Phase timing
	LapPeriodSec *int    `json:"lap_period_sec,omitempty"`
	YellowPeriod *string `json:"yellow_period,omitempty"` // duration string like "2s"

	// Motion detection
	BlurKernelSize *int `json:"blur_kernel_size,omitempty"`
	DiffThreshold  *int `json:"diff_threshold,omitempty"`
	MinArea        *int `json:"min_area,omitempty"`

	// Cameras
	CameraWidth      *int     `json:"camera_width,omitempty"`
	CameraHeight     *int     `json:"camera_height,omitempty"`
	CameraSaturation *float64 `json:"camera_saturation,omitempty"`

	// Stream
	FrameInterval *string `json:"frame_interval,omitempty"`
	JPEGQuality   *int    `json:"jpeg_quality,omitempty"`

	// Signal heads
	Lamps     []LampPins `json:"lamps,omitempty"`
	ActiveLow *bool      `json:"active_low,omitempty"`
	SafeState *string    `json:"safe_state,omitempty"`
}

func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrBool(v bool) *bool          { return &v }

// EmptyControllerConfig returns a ControllerConfig with all fields unset.
func EmptyControllerConfig() *ControllerConfig {
	return &ControllerConfig{}
}

// DefaultControllerConfig returns a config with every field populated from the
// built-in defaults.
func DefaultControllerConfig() *ControllerConfig {
	return &ControllerConfig{
		LapPeriodSec:     ptrInt(DefaultLapPeriodSec),
		YellowPeriod:     ptrString(DefaultYellowPeriod.String()),
		BlurKernelSize:   ptrInt(DefaultBlurKernelSize),
		DiffThreshold:    ptrInt(DefaultDiffThreshold),
		MinArea:          ptrInt(DefaultMinArea),
		CameraWidth:      ptrInt(DefaultCameraWidth),
		CameraHeight:     ptrInt(DefaultCameraHeight),
		CameraSaturation: ptrFloat64(DefaultCameraSaturation),
		FrameInterval:    ptrString(DefaultFrameInterval.String()),
		JPEGQuality:      ptrInt(DefaultJPEGQuality),
		Lamps:            DefaultLamps(),
		ActiveLow:        ptrBool(true),
		SafeState:        ptrString(SafeStateOff),
	}
}

// LoadControllerConfig loads a ControllerConfig from a JSON file.
// Fields omitted from the file keep their defaults, so partial configs are safe.
func LoadControllerConfig(path string) (*ControllerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyControllerConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *ControllerConfig) Validate() error {
	if c.LapPeriodSec != nil && *c.LapPeriodSec < 1 {
		return fmt.Errorf("lap_period_sec must be at least 1, got %d", *c.LapPeriodSec)
	}
	if c.YellowPeriod != nil && *c.YellowPeriod != "" {
		d, err := time.ParseDuration(*c.YellowPeriod)
		if err != nil {
			return fmt.Errorf("invalid yellow_period '%s': %w", *c.YellowPeriod, err)
		}
		if d < 0 {
			return fmt.Errorf("yellow_period must be non-negative, got %s", d)
		}
	}
	if c.FrameInterval != nil && *c.FrameInterval != "" {
		if _, err := time.ParseDuration(*c.FrameInterval); err != nil {
			return fmt.Errorf("invalid frame_interval '%s': %w", *c.FrameInterval, err)
		}
	}
	if c.BlurKernelSize != nil && *c.BlurKernelSize < 0 {
		return fmt.Errorf("blur_kernel_size must be non-negative, got %d", *c.BlurKernelSize)
	}
	if c.DiffThreshold != nil && (*c.DiffThreshold < 0 || *c.DiffThreshold > 255) {
		return fmt.Errorf("diff_threshold must be between 0 and 255, got %d", *c.DiffThreshold)
	}
	if c.MinArea != nil && *c.MinArea < 0 {
		return fmt.Errorf("min_area must be non-negative, got %d", *c.MinArea)
	}
	if c.CameraWidth != nil && *c.CameraWidth < 16 {
		return fmt.Errorf("camera_width must be at least 16, got %d", *c.CameraWidth)
	}
	if c.CameraHeight != nil && *c.CameraHeight < 16 {
		return fmt.Errorf("camera_height must be at least 16, got %d", *c.CameraHeight)
	}
	if c.CameraSaturation != nil && (*c.CameraSaturation < 0 || *c.CameraSaturation > 1) {
		return fmt.Errorf("camera_saturation must be between 0 and 1, got %f", *c.CameraSaturation)
	}
	if c.JPEGQuality != nil && (*c.JPEGQuality < 1 || *c.JPEGQuality > 100) {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", *c.JPEGQuality)
	}
	if c.Lamps != nil && len(c.Lamps) != 2 {
		return fmt.Errorf("lamps must describe exactly 2 lanes, got %d", len(c.Lamps))
	}
	if c.SafeState != nil {
		switch strings.ToLower(*c.SafeState) {
		case SafeStateOff, SafeStateRed, "":
		default:
			return fmt.Errorf("unsupported safe_state %q: expected %q or %q", *c.SafeState, SafeStateOff, SafeStateRed)
		}
	}
	return nil
}

// GetLapPeriodSec returns the green lap period in whole seconds.
func (c *ControllerConfig) GetLapPeriodSec() int {
	if c.LapPeriodSec == nil {
		return DefaultLapPeriodSec
	}
	return *c.LapPeriodSec
}

// GetYellowPeriod returns the yellow clearance duration.
func (c *ControllerConfig) GetYellowPeriod() time.Duration {
	if c.YellowPeriod == nil || *c.YellowPeriod == "" {
		return DefaultYellowPeriod
	}
	d, err := time.ParseDuration(*c.YellowPeriod)
	if err != nil {
		return DefaultYellowPeriod // default on parse error
	}
	return d
}

// GetBlurKernelSize returns the configured blur kernel size, not yet coerced to odd.
func (c *ControllerConfig) GetBlurKernelSize() int {
	if c.BlurKernelSize == nil {
		return DefaultBlurKernelSize
	}
	return *c.BlurKernelSize
}

func (c *ControllerConfig) GetDiffThreshold() int {
	if c.DiffThreshold == nil {
		return DefaultDiffThreshold
	}
	return *c.DiffThreshold
}

func (c *ControllerConfig) GetMinArea() int {
	if c.MinArea == nil {
		return DefaultMinArea
	}
	return *c.MinArea
}

func (c *ControllerConfig) GetCameraWidth() int {
	if c.CameraWidth == nil {
		return DefaultCameraWidth
	}
	return *c.CameraWidth
}

func (c *ControllerConfig) GetCameraHeight() int {
	if c.CameraHeight == nil {
		return DefaultCameraHeight
	}
	return *c.CameraHeight
}

func (c *ControllerConfig) GetCameraSaturation() float64 {
	if c.CameraSaturation == nil {
		return DefaultCameraSaturation
	}
	return *c.CameraSaturation
}

// GetFrameInterval returns the sleep between stream ticks.
func (c *ControllerConfig) GetFrameInterval() time.Duration {
	if c.FrameInterval == nil || *c.FrameInterval == "" {
		return DefaultFrameInterval
	}
	d, err := time.ParseDuration(*c.FrameInterval)
	if err != nil {
		return DefaultFrameInterval
	}
	return d
}

func (c *ControllerConfig) GetJPEGQuality() int {
	if c.JPEGQuality == nil {
		return DefaultJPEGQuality
	}
	return *c.JPEGQuality
}

// GetLamps returns the pin mapping of both signal heads, lane 1 first.
func (c *ControllerConfig) GetLamps() [2]LampPins {
	lamps := c.Lamps
	if len(lamps) != 2 {
		lamps = DefaultLamps()
	}
	return [2]LampPins{lamps[0], lamps[1]}
}

// GetActiveLow reports whether a lamp is lit by driving its pin low.
func (c *ControllerConfig) GetActiveLow() bool {
	if c.ActiveLow == nil {
		return true
	}
	return *c.ActiveLow
}

// GetSafeState returns SafeStateOff or SafeStateRed.
func (c *ControllerConfig) GetSafeState() string {
	if c.SafeState == nil || *c.SafeState == "" {
		return SafeStateOff
	}
	return strings.ToLower(*c.SafeState)
}

// WithMinArea returns a copy of the config with min_area overridden, used for
// the -min-area flag.
func (c *ControllerConfig) WithMinArea(minArea int) *ControllerConfig {
	out := *c
	out.MinArea = ptrInt(minArea)
	return &out
}
