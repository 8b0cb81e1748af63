// Package gpio provides the lamp output boundary of the signal controller: a
// single Set(pin, level) operation with sysfs, serial relay board, recording and
// disabled backends.
package gpio

import (
	"errors"
	"fmt"
	"strings"
)

// Level is the logical state of a lamp output. Asserted means the lamp is lit,
// whatever the electrical polarity of the pin.
type Level bool

const (
	Deasserted Level = false
	Asserted   Level = true
)

func (l Level) String() string {
	if l {
		return "asserted"
	}
	return "deasserted"
}

// ErrClosed is returned by Set after Close.
var ErrClosed = errors.New("gpio output closed")

// Output drives lamp pins.
type Output interface {
	// Set drives pin to the given logical level.
	Set(pin int, level Level) error
	// Close releases the underlying device.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSysfs    = "sysfs"
	BackendSerial   = "serial"
	BackendRecord   = "record"
	BackendDisabled = "disabled"
)

// Options selects and parameterises a backend.
type Options struct {
	Backend    string
	Pins       []int
	ActiveLow  bool
	SysfsRoot  string
	SerialPath string
	Serial     PortOptions
}

// Open creates the configured backend. Setup failures are returned to the
// caller, which is expected to log them. A nil Output means nothing could be
// set up and the caller should fall back to NewDisabled; a sysfs backend that
// configured only some of its pins is returned together with the error.
func Open(opts Options) (Output, error) {
	switch strings.ToLower(opts.Backend) {
	case BackendSysfs, "":
		root := opts.SysfsRoot
		if root == "" {
			root = DefaultSysfsRoot
		}
		return NewSysfs(root, opts.Pins, opts.ActiveLow)
	case BackendSerial:
		relay, err := NewSerialRelay(opts.SerialPath, opts.Serial, opts.ActiveLow)
		if err != nil {
			return nil, err
		}
		return relay, nil
	case BackendRecord:
		return NewRecorder(), nil
	case BackendDisabled:
		return NewDisabled(), nil
	default:
		return nil, fmt.Errorf("unknown gpio backend %q", opts.Backend)
	}
}

// electrical converts a logical level to the value written to the pin.
func electrical(level Level, activeLow bool) int {
	lit := bool(level)
	if activeLow {
		lit = !lit
	}
	if lit {
		return 1
	}
	return 0
}
