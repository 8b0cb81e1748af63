package stream

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joselamego/IntelligentTrafficControl/internal/camera"
	"github.com/joselamego/IntelligentTrafficControl/internal/config"
	"github.com/joselamego/IntelligentTrafficControl/internal/monitoring"
	"github.com/joselamego/IntelligentTrafficControl/internal/overlay"
	"github.com/joselamego/IntelligentTrafficControl/internal/phase"
	"github.com/joselamego/IntelligentTrafficControl/internal/timeutil"
	"github.com/joselamego/IntelligentTrafficControl/internal/vision"
)

// Frame is one composited, encoded picture of both lanes.
type Frame struct {
	Seq  uint64
	At   time.Time
	JPEG []byte
}

// Scheduler is the part of the phase controller the capture loop drives.
type Scheduler interface {
	Tick(now time.Time, motion [phase.NumLanes]bool) bool
	Snapshot() phase.Snapshot
}

// Opener opens one camera per lane, lane 1 first. It is called every time the
// capture loop starts; the loop closes the cameras when it stops.
type Opener func(ctx context.Context) ([phase.NumLanes]camera.Camera, error)

// Options configures a Hub.
type Options struct {
	Open          Opener
	Detector      vision.Options
	Scheduler     Scheduler
	Clock         timeutil.Clock
	FrameInterval time.Duration
	JPEGQuality   int
	// AlwaysOn keeps capturing (and so keeps the scheduler ticking) with no
	// viewers connected, restarting after RetryDelay on capture failure.
	AlwaysOn   bool
	RetryDelay time.Duration
}

// OptionsFromConfig fills the stream and detector settings from cfg.
func OptionsFromConfig(cfg *config.ControllerConfig) Options {
	return Options{
		Detector:      vision.OptionsFromConfig(cfg),
		FrameInterval: cfg.GetFrameInterval(),
		JPEGQuality:   cfg.GetJPEGQuality(),
	}
}

// Stats are counters of the capture loop.
type Stats struct {
	Viewers  int    `json:"viewers"`
	Running  bool   `json:"running"`
	Frames   uint64 `json:"frames"`
	Starts   uint64 `json:"starts"`
	Failures uint64 `json:"capture_failures"`
}

// Hub fans composited frames out to subscribed viewers. The capture loop runs
// while at least one viewer is subscribed.
type Hub struct {
	opts      Options
	detectors [phase.NumLanes]*vision.Detector

	mu          sync.Mutex
	subscribers map[string]chan Frame
	running     bool
	closed      bool
	done        chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc

	frames   atomic.Uint64
	starts   atomic.Uint64
	failures atomic.Uint64
}

// NewHub returns an idle Hub.
func NewHub(opts Options) *Hub {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = config.DefaultFrameInterval
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		opts:        opts,
		subscribers: make(map[string]chan Frame),
		ctx:         ctx,
		cancel:      cancel,
	}
	for i := range h.detectors {
		h.detectors[i] = vision.NewDetector(opts.Detector)
	}
	return h
}

// Start begins capturing without waiting for a viewer. It is only useful with
// AlwaysOn set.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.startLocked()
}

// Subscribe registers a viewer and starts the capture loop if needed. The
// returned channel is closed when the loop stops on a capture failure, on
// Close, or by Unsubscribe.
func (h *Hub) Subscribe() (string, <-chan Frame) {
	id := uuid.NewString()
	ch := make(chan Frame, 1)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	h.startLocked()
	return id, ch
}

// Unsubscribe removes a viewer. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

func (h *Hub) startLocked() {
	if h.running || h.closed {
		return
	}
	h.running = true
	prev := h.done
	done := make(chan struct{})
	h.done = done
	h.starts.Add(1)
	go h.run(prev, done)
}

// Stats returns the current counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Viewers:  len(h.subscribers),
		Running:  h.running,
		Frames:   h.frames.Load(),
		Starts:   h.starts.Load(),
		Failures: h.failures.Load(),
	}
}

// Close stops the capture loop, closes every viewer channel, waits for the
// cameras to be released and frees the detectors. Later calls do nothing.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
	done := h.done
	h.mu.Unlock()

	h.cancel()
	if done != nil {
		<-done
	}

	var errs []error
	for _, d := range h.detectors {
		errs = append(errs, d.Close())
	}
	return errors.Join(errs...)
}

func (h *Hub) run(prev, done chan struct{}) {
	defer close(done)
	if prev != nil {
		// the previous loop may still be releasing the cameras
		<-prev
	}

	for {
		err := h.capture()
		if err == nil {
			return
		}

		h.failures.Add(1)
		monitoring.Warnf("capture stopped: %v", err)

		h.mu.Lock()
		for id, ch := range h.subscribers {
			close(ch)
			delete(h.subscribers, id)
		}
		retry := h.opts.AlwaysOn && !h.closed
		if !retry {
			h.running = false
		}
		h.mu.Unlock()
		if !retry {
			return
		}

		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		case <-h.opts.Clock.After(h.opts.RetryDelay):
		}
	}
}

// wanted reports whether the loop should keep going and, when not, marks it
// stopped under the same lock a new subscriber would take.
func (h *Hub) wanted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || (len(h.subscribers) == 0 && !h.opts.AlwaysOn) {
		h.running = false
		return false
	}
	return true
}

// capture opens the cameras and runs ticks until no viewer is left (nil) or a
// tick fails (the error). Backgrounds are reset either way, so the next start
// begins from scratch.
func (h *Hub) capture() error {
	defer func() {
		for _, d := range h.detectors {
			d.Reset()
		}
	}()

	cams, err := h.opts.Open(h.ctx)
	if err != nil {
		if h.ctx.Err() != nil {
			return h.stopped()
		}
		return fmt.Errorf("failed to open cameras: %w", err)
	}
	defer func() {
		for i, cam := range cams {
			if cam == nil {
				continue
			}
			if err := cam.Close(); err != nil {
				monitoring.Warnf("closing %s camera: %v", phase.Lanes[i], err)
			}
		}
	}()

	for {
		if h.ctx.Err() != nil {
			return h.stopped()
		}
		if !h.wanted() {
			return nil
		}

		now := h.opts.Clock.Now()
		frame, motion, err := h.step(cams, now)
		if err != nil {
			if h.ctx.Err() != nil {
				return h.stopped()
			}
			return err
		}
		h.broadcast(frame)
		if h.opts.Scheduler != nil {
			h.opts.Scheduler.Tick(now, motion)
		}

		select {
		case <-h.ctx.Done():
			return h.stopped()
		case <-h.opts.Clock.After(h.opts.FrameInterval):
		}
	}
}

func (h *Hub) stopped() error {
	h.mu.Lock()
	h.running = false
	h.mu.Unlock()
	return nil
}

// step captures, analyses, annotates and encodes one frame of both lanes.
func (h *Hub) step(cams [phase.NumLanes]camera.Camera, now time.Time) (Frame, [phase.NumLanes]bool, error) {
	var motion [phase.NumLanes]bool
	var frames [phase.NumLanes]*image.RGBA
	for i, cam := range cams {
		if cam == nil {
			return Frame{}, motion, fmt.Errorf("%s: %w", phase.Lanes[i], ErrMissingLane)
		}
		img, err := cam.Read()
		if err != nil {
			return Frame{}, motion, fmt.Errorf("%s capture: %w", phase.Lanes[i], err)
		}
		frames[i] = img
	}

	var results [phase.NumLanes]vision.Result
	for i, img := range frames {
		res, err := h.detectors[i].Detect(img)
		if err != nil {
			return Frame{}, motion, fmt.Errorf("%s detection: %w", phase.Lanes[i], err)
		}
		results[i] = res
		motion[i] = res.Motion
	}

	var snap phase.Snapshot
	if h.opts.Scheduler != nil {
		snap = h.opts.Scheduler.Snapshot()
	}
	for i, lane := range phase.Lanes {
		overlay.Annotate(frames[i], overlay.InputFor(lane, results[i], snap, now))
	}

	composed, err := Compose(frames[0], frames[1])
	if err != nil {
		return Frame{}, motion, err
	}
	data, err := Encode(composed, h.opts.JPEGQuality)
	if err != nil {
		return Frame{}, motion, err
	}
	return Frame{Seq: h.frames.Add(1), At: now, JPEG: data}, motion, nil
}

// broadcast hands frame to every viewer without blocking. A viewer still busy
// with the previous frame skips this one.
func (h *Hub) broadcast(frame Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- frame:
		default:
		}
	}
}
