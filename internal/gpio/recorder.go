package gpio

import (
	"fmt"
	"sync"
)

// Write is one recorded Set call.
type Write struct {
	Pin   int
	Level Level
}

// Recorder is an in-memory Output used in dev mode and tests. It keeps the full
// write history and the current level of every pin, and can be told to fail
// writes to specific pins.
type Recorder struct {
	mu      sync.Mutex
	writes  []Write
	levels  map[int]Level
	failing map[int]error
	closed  bool
}

func NewRecorder() *Recorder {
	return &Recorder{
		levels:  make(map[int]Level),
		failing: make(map[int]error),
	}
}

// FailPin makes every subsequent Set on pin return err. A nil err clears it.
func (r *Recorder) FailPin(pin int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failing, pin)
		return
	}
	r.failing[pin] = err
}

func (r *Recorder) Set(pin int, level Level) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if err, ok := r.failing[pin]; ok {
		return fmt.Errorf("gpio %d: %w", pin, err)
	}
	r.writes = append(r.writes, Write{Pin: pin, Level: level})
	r.levels[pin] = level
	return nil
}

// Level returns the last level written to pin and whether it was ever written.
func (r *Recorder) Level(pin int) (Level, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.levels[pin]
	return l, ok
}

// Writes returns a copy of the write history.
func (r *Recorder) Writes() []Write {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Write, len(r.writes))
	copy(out, r.writes)
	return out
}

// Reset clears history and levels.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = nil
	r.levels = make(map[int]Level)
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
