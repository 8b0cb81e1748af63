package gpio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joselamego/IntelligentTrafficControl/internal/monitoring"
)

// DefaultSysfsRoot is the kernel's legacy GPIO class directory.
const DefaultSysfsRoot = "/sys/class/gpio"

// Sysfs drives pins through the /sys/class/gpio interface.
type Sysfs struct {
	root      string
	activeLow bool

	mu     sync.Mutex
	pins   map[int]*os.File
	closed bool
}

// NewSysfs exports each pin and configures it as an output. A pin that cannot
// be configured is logged and skipped; the error lists every such pin but the
// returned Sysfs is still usable for the pins that were configured.
func NewSysfs(root string, pins []int, activeLow bool) (*Sysfs, error) {
	s := &Sysfs{
		root:      root,
		activeLow: activeLow,
		pins:      make(map[int]*os.File),
	}

	var errs []error
	for _, pin := range pins {
		f, err := s.export(pin)
		if err != nil {
			monitoring.Errorf("cannot configure GPIO %d: %v", pin, err)
			errs = append(errs, fmt.Errorf("pin %d: %w", pin, err))
			continue
		}
		s.pins[pin] = f
		monitoring.Infof("GPIO %d configured as output", pin)
	}
	return s, errors.Join(errs...)
}

func (s *Sysfs) export(pin int) (*os.File, error) {
	dir := filepath.Join(s.root, "gpio"+strconv.Itoa(pin))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(s.root, "export"), []byte(strconv.Itoa(pin)), 0o200); err != nil {
			return nil, fmt.Errorf("export: %w", err)
		}
		// udev needs a moment to fix permissions on the new node
		deadline := time.Now().Add(500 * time.Millisecond)
		for {
			if _, err := os.Stat(dir); err == nil {
				break
			}
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("gpio%d did not appear after export", pin)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "direction"), []byte("out"), 0o200); err != nil {
		return nil, fmt.Errorf("set direction: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "value"), os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open value: %w", err)
	}
	return f, nil
}

// Set writes the electrical value for level to the pin's value file.
func (s *Sysfs) Set(pin int, level Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	f, ok := s.pins[pin]
	if !ok {
		return fmt.Errorf("gpio %d not configured", pin)
	}
	v := strconv.Itoa(electrical(level, s.activeLow))
	if _, err := f.WriteAt([]byte(v), 0); err != nil {
		return fmt.Errorf("write gpio %d: %w", pin, err)
	}
	return nil
}

// Close closes the value files. Pins stay exported so the lamps keep their
// last level.
func (s *Sysfs) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for pin, f := range s.pins {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gpio %d: %w", pin, err))
		}
		delete(s.pins, pin)
	}
	return errors.Join(errs...)
}
