package gpio

import (
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// RelayPort is the subset of a serial port the relay board needs.
type RelayPort interface {
	io.Writer
	io.Closer
}

// SerialRelay drives lamps through a USB/serial relay board that accepts one
// "P<pin>=<0|1>" line per output change.
type SerialRelay struct {
	mu        sync.Mutex
	port      RelayPort
	activeLow bool
	closed    bool
}

// NewSerialRelay opens the relay board at path.
func NewSerialRelay(path string, opts PortOptions, activeLow bool) (*SerialRelay, error) {
	if path == "" {
		return nil, fmt.Errorf("serial relay requires a port path")
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open relay board %s: %w", path, err)
	}
	return NewSerialRelayOn(port, activeLow), nil
}

// NewSerialRelayOn wraps an already open port.
func NewSerialRelayOn(port RelayPort, activeLow bool) *SerialRelay {
	return &SerialRelay{port: port, activeLow: activeLow}
}

// Set writes a single relay command for pin.
func (r *SerialRelay) Set(pin int, level Level) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	cmd := fmt.Sprintf("P%d=%d\n", pin, electrical(level, r.activeLow))
	n, err := r.port.Write([]byte(cmd))
	if err != nil {
		return fmt.Errorf("relay write pin %d: %w", pin, err)
	}
	if n != len(cmd) {
		return fmt.Errorf("relay write pin %d: short write %d/%d", pin, n, len(cmd))
	}
	return nil
}

func (r *SerialRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.port.Close()
}
