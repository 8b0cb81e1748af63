// Package phase implements the two-lane signal phase scheduler and the output
// driver that sequences green, yellow clearance and red on the lamp lines.
//
// The controller evaluates at most once per wall-clock second. While the
// waiting lane shows no motion the active green is extended; motion on the
// waiting lane latches a change request and the countdown then runs down to
// zero, at which point a transition worker shows yellow on the outgoing lane
// for the clearance period before swapping red and green and restarting the
// countdown at the full lap period.
package phase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joselamego/IntelligentTrafficControl/internal/config"
	"github.com/joselamego/IntelligentTrafficControl/internal/gpio"
	"github.com/joselamego/IntelligentTrafficControl/internal/monitoring"
	"github.com/joselamego/IntelligentTrafficControl/internal/timeutil"
)

// TransitionRecord summarises one completed hand-off between lanes.
type TransitionRecord struct {
	ID            string
	From          Lane
	To            Lane
	StartedAt     time.Time
	CompletedAt   time.Time
	GreenSeconds  float64
	WriteFailures int
}

// Recorder receives transition and lamp fault events. Implementations must be
// safe for concurrent use; they are called from transition workers, never
// while the controller's lock is held.
type Recorder interface {
	RecordTransition(TransitionRecord) error
	RecordLampFault(LampFault) error
}

// Options configures a Controller.
type Options struct {
	LapPeriod int
	Clearance time.Duration
	Lamps     [NumLanes]config.LampPins
	SafeState string
	Clock     timeutil.Clock
	Recorder  Recorder
}

// OptionsFromConfig builds controller options from the controller config.
func OptionsFromConfig(cfg *config.ControllerConfig) Options {
	return Options{
		LapPeriod: cfg.GetLapPeriodSec(),
		Clearance: cfg.GetYellowPeriod(),
		Lamps:     cfg.GetLamps(),
		SafeState: cfg.GetSafeState(),
	}
}

// Snapshot is an immutable copy of the controller state.
type Snapshot struct {
	Active          Lane             `json:"active_lane"`
	Countdown       int              `json:"countdown_seconds"`
	LapPeriod       int              `json:"lap_period_seconds"`
	ChangeRequested bool             `json:"change_requested"`
	InTransition    bool             `json:"in_transition"`
	Aspects         [NumLanes]Aspect `json:"aspects"`
	GreenSince      time.Time        `json:"green_since"`
	Transitions     int              `json:"transitions"`
}

// Aspect returns the aspect shown on lane.
func (s Snapshot) Aspect(l Lane) Aspect { return s.Aspects[l.Index()] }

// OwnsCountdown reports whether the countdown belongs to lane l. Only the
// active lane displays it.
func (s Snapshot) OwnsCountdown(l Lane) bool { return s.Active == l }

// Controller holds the process-wide phase state. All mutations happen under mu,
// from Tick on the stream loop and from at most one transition worker.
type Controller struct {
	lap       int
	clearance time.Duration
	safeState string
	clock     timeutil.Clock
	recorder  Recorder
	driver    *driver

	mu              sync.Mutex
	active          Lane
	countdown       int
	changeRequested bool
	lastTickSecond  int
	aspects         [NumLanes]Aspect
	inFlight        bool
	greenSince      time.Time
	transitions     int
	stopped         bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController drives every lamp off, then shows green on lane 1 and red on
// lane 2 with the countdown set to the lap period.
func NewController(out gpio.Output, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.LapPeriod < 1 {
		opts.LapPeriod = config.DefaultLapPeriodSec
	}
	if opts.Clearance < 0 {
		opts.Clearance = 0
	}
	if out == nil {
		out = gpio.NewDisabled()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		lap:       opts.LapPeriod,
		clearance: opts.Clearance,
		safeState: opts.SafeState,
		clock:     opts.Clock,
		recorder:  opts.Recorder,
		ctx:       ctx,
		cancel:    cancel,
	}
	c.driver = &driver{out: out, lamps: opts.Lamps}

	now := c.clock.Now()
	c.active = Lane1
	c.countdown = c.lap
	c.lastTickSecond = now.Second()
	c.greenSince = now

	c.driver.allOff()
	c.driver.show(Lane1, Off, Green)
	c.driver.show(Lane2, Off, Red)
	c.aspects = [NumLanes]Aspect{Green, Red}
	c.recordFaults(c.driver.takeFaults())

	monitoring.Infof("signal controller started: %s green, lap %ds, clearance %s", Lane1, c.lap, c.clearance)
	return c
}

// LapPeriod returns the configured lap period in seconds.
func (c *Controller) LapPeriod() int { return c.lap }

// Tick evaluates the schedule for the second containing now, using the motion
// observed on each lane this frame (indexed by Lane.Index; absent means none).
// Repeated calls within the same wall-clock second are ignored. It reports
// whether an evaluation took place.
func (c *Controller) Tick(now time.Time, motion [NumLanes]bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	sec := now.Second()
	if c.stopped || sec == c.lastTickSecond {
		return false
	}
	c.lastTickSecond = sec

	if c.countdown <= 0 {
		if c.inFlight {
			// hold the expiry until the running hand-off completes
			return true
		}
		c.startTransitionLocked(now)
		c.countdown = c.lap
	} else {
		waiting := c.active.Other()
		if motion[waiting.Index()] {
			c.changeRequested = true
		} else if !c.changeRequested && c.countdown <= c.lap {
			c.countdown++
		}
	}
	c.countdown--
	return true
}

// startTransitionLocked launches the single transition worker. The clearance
// timer is armed here so the yellow window is measured from the expiry.
func (c *Controller) startTransitionLocked(now time.Time) {
	c.inFlight = true
	from := c.active
	timer := c.clock.NewTimer(c.clearance)
	rec := TransitionRecord{
		ID:           uuid.NewString(),
		From:         from,
		To:           from.Other(),
		StartedAt:    now,
		GreenSeconds: now.Sub(c.greenSince).Seconds(),
	}

	c.wg.Add(1)
	go c.runTransition(timer, rec)
}

func (c *Controller) runTransition(timer timeutil.Timer, rec TransitionRecord) {
	defer c.wg.Done()

	from, to := rec.From, rec.To

	c.mu.Lock()
	rec.WriteFailures += c.driver.show(from, c.aspects[from.Index()], Yellow)
	c.aspects[from.Index()] = Yellow
	faults := c.driver.takeFaults()
	c.mu.Unlock()
	c.recordFaults(faults)

	select {
	case <-timer.C():
	case <-c.ctx.Done():
		timer.Stop()
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
		monitoring.Infof("transition %s -> %s abandoned during clearance", from, to)
		return
	}

	c.mu.Lock()
	rec.WriteFailures += c.driver.show(from, Yellow, Red)
	rec.WriteFailures += c.driver.show(to, c.aspects[to.Index()], Green)
	c.aspects[from.Index()] = Red
	c.aspects[to.Index()] = Green
	c.active = to
	c.countdown = c.lap
	c.changeRequested = false
	c.greenSince = c.clock.Now()
	c.transitions++
	c.inFlight = false
	rec.CompletedAt = c.greenSince
	faults = c.driver.takeFaults()
	c.mu.Unlock()
	c.recordFaults(faults)

	monitoring.Infof("%s green after %.1fs of %s green (%d lamp write failures)", to, rec.GreenSeconds, from, rec.WriteFailures)
	if c.recorder != nil {
		if err := c.recorder.RecordTransition(rec); err != nil {
			monitoring.Warnf("failed to record transition %s: %v", rec.ID, err)
		}
	}
}

// recordFaults hands lamp faults to the recorder. It must be called without
// holding mu, since the recorder may block on storage.
func (c *Controller) recordFaults(faults []LampFault) {
	if c.recorder == nil {
		return
	}
	for _, f := range faults {
		if err := c.recorder.RecordLampFault(f); err != nil {
			monitoring.Warnf("failed to record lamp fault on gpio %d: %v", f.Pin, err)
		}
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Active:          c.active,
		Countdown:       c.countdown,
		LapPeriod:       c.lap,
		ChangeRequested: c.changeRequested,
		InTransition:    c.inFlight,
		Aspects:         c.aspects,
		GreenSince:      c.greenSince,
		Transitions:     c.transitions,
	}
}

// WaitTransitions blocks until no transition worker is running.
func (c *Controller) WaitTransitions() {
	c.wg.Wait()
}

// Shutdown abandons any transition in progress and drives the lamps to the
// configured safe state: all off, or both heads red.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	c.driver.allOff()
	c.aspects = [NumLanes]Aspect{Off, Off}
	if c.safeState == config.SafeStateRed {
		for _, lane := range Lanes {
			c.driver.show(lane, Off, Red)
			c.aspects[lane.Index()] = Red
		}
	}
	faults := c.driver.takeFaults()
	c.mu.Unlock()
	c.recordFaults(faults)

	monitoring.Infof("signal controller stopped, lamps %s", c.safeStateName())
}

func (c *Controller) safeStateName() string {
	if c.safeState == config.SafeStateRed {
		return "red"
	}
	return "off"
}
