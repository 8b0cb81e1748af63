package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joselamego/IntelligentTrafficControl/internal/camera"
	"github.com/joselamego/IntelligentTrafficControl/internal/config"
	"github.com/joselamego/IntelligentTrafficControl/internal/gpio"
	"github.com/joselamego/IntelligentTrafficControl/internal/phase"
	"github.com/joselamego/IntelligentTrafficControl/internal/stream"
)

// loadConfig reads the JSON config at path, or the built-in defaults when path
// is empty. A non-nil minArea (the -min-area flag, when given) overrides the
// file's min_area.
func loadConfig(path string, minArea *int) (*config.ControllerConfig, error) {
	cfg := config.DefaultControllerConfig()
	if path != "" {
		var err error
		cfg, err = config.LoadControllerConfig(path)
		if err != nil {
			return nil, err
		}
	}
	if minArea == nil {
		return cfg, nil
	}
	if *minArea < 0 {
		return nil, fmt.Errorf("-min-area must be non-negative, got %d", *minArea)
	}
	return cfg.WithMinArea(*minArea), nil
}

// flagPassed reports whether the named flag was given on the command line.
func flagPassed(fs *flag.FlagSet, name string) bool {
	passed := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}

type outputFlags struct {
	backend    string
	serialPort string
	sysfsRoot  string // empty for the kernel default
	dev        bool
}

// lampPins lists every lamp pin, lane 1 first, in red/yellow/green order.
func lampPins(cfg *config.ControllerConfig) []int {
	var pins []int
	for _, l := range cfg.GetLamps() {
		pins = append(pins, l.Red, l.Yellow, l.Green)
	}
	return pins
}

// openOutput opens the lamp backend. Lamps that cannot be set up are logged
// and left dark while the rest keep working; when nothing can be set up the
// controller runs on a disabled backend instead.
func openOutput(cfg *config.ControllerConfig, f outputFlags) gpio.Output {
	backend := f.backend
	if f.dev {
		backend = gpio.BackendRecord
	}
	out, err := gpio.Open(gpio.Options{
		Backend:    backend,
		Pins:       lampPins(cfg),
		ActiveLow:  cfg.GetActiveLow(),
		SysfsRoot:  f.sysfsRoot,
		SerialPath: f.serialPort,
	})
	if err != nil && out == nil {
		log.Printf("failed to set up %s lamp outputs, continuing without them: %v", backend, err)
		return gpio.NewDisabled()
	}
	if err != nil {
		log.Printf("some %s lamp outputs are missing, continuing with the rest: %v", backend, err)
	}
	log.Printf("lamp outputs on %s backend (active low: %v)", backend, cfg.GetActiveLow())
	return out
}

// deviceOpener discovers the video nodes in dir at every capture start and
// opens the first two, lane 1 first.
func deviceOpener(dir string, opts camera.Options) stream.Opener {
	return func(context.Context) ([phase.NumLanes]camera.Camera, error) {
		var cams [phase.NumLanes]camera.Camera

		paths, err := camera.Discover(dir)
		if err != nil {
			return cams, err
		}
		log.Printf("found %d camera(s) in %s", len(paths), dir)
		if len(paths) < phase.NumLanes {
			return cams, fmt.Errorf("need %d cameras, found %d", phase.NumLanes, len(paths))
		}

		for i := range cams {
			dev, err := camera.OpenDevice(paths[i], opts)
			if err != nil {
				for _, c := range cams[:i] {
					c.Close()
				}
				return [phase.NumLanes]camera.Camera{}, err
			}
			cams[i] = dev
		}
		return cams, nil
	}
}

// testPatternOpener returns synthetic cameras whose vehicles cross at
// different times on each lane.
func testPatternOpener(opts camera.Options) stream.Opener {
	return func(context.Context) ([phase.NumLanes]camera.Camera, error) {
		var cams [phase.NumLanes]camera.Camera
		for i := range cams {
			cams[i] = camera.NewTestPattern(opts.Width, opts.Height, nil, camera.TestPatternOptions{
				Cycle:      30 * time.Second,
				Crossing:   8 * time.Second,
				Offset:     time.Duration(i) * 13 * time.Second,
				Saturation: opts.Saturation,
			})
		}
		return cams, nil
	}
}
