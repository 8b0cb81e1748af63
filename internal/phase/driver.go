package phase

import (
	"github.com/joselamego/IntelligentTrafficControl/internal/config"
	"github.com/joselamego/IntelligentTrafficControl/internal/gpio"
	"github.com/joselamego/IntelligentTrafficControl/internal/monitoring"
)

// LampFault describes one output line that could not be written.
type LampFault struct {
	Lane  Lane
	Lamp  Aspect
	Pin   int
	Level gpio.Level
	Err   error
}

// driver maps aspects onto the six lamp lines. A failed write is logged and
// queued as a fault, and the remaining lines are still written. The driver is
// only used under Controller.mu.
type driver struct {
	out     gpio.Output
	lamps   [NumLanes]config.LampPins
	pending []LampFault
}

func (d *driver) pin(lane Lane, a Aspect) (int, bool) {
	p := d.lamps[lane.Index()]
	switch a {
	case Red:
		return p.Red, true
	case Yellow:
		return p.Yellow, true
	case Green:
		return p.Green, true
	}
	return 0, false
}

func (d *driver) set(lane Lane, lamp Aspect, level gpio.Level) int {
	pin, ok := d.pin(lane, lamp)
	if !ok {
		return 0
	}
	if err := d.out.Set(pin, level); err != nil {
		monitoring.Warnf("%s %s lamp (gpio %d) -> %s: %v", lane, lamp, pin, level, err)
		d.pending = append(d.pending, LampFault{Lane: lane, Lamp: lamp, Pin: pin, Level: level, Err: err})
		return 1
	}
	return 0
}

// show switches lane from one aspect to another, dropping the old lamp before
// lighting the new one so the head never shows two lamps. It returns the number
// of failed writes.
func (d *driver) show(lane Lane, from, to Aspect) int {
	failures := 0
	if from != to {
		failures += d.set(lane, from, gpio.Deasserted)
	}
	failures += d.set(lane, to, gpio.Asserted)
	return failures
}

// allOff deasserts every lamp of both heads.
func (d *driver) allOff() int {
	failures := 0
	for _, lane := range Lanes {
		for _, lamp := range []Aspect{Red, Yellow, Green} {
			failures += d.set(lane, lamp, gpio.Deasserted)
		}
	}
	return failures
}

// takeFaults returns the faults queued since the last call.
func (d *driver) takeFaults() []LampFault {
	faults := d.pending
	d.pending = nil
	return faults
}
