package stream

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joselamego/IntelligentTrafficControl/internal/camera"
	"github.com/joselamego/IntelligentTrafficControl/internal/monitoring"
	"github.com/joselamego/IntelligentTrafficControl/internal/phase"
	"github.com/joselamego/IntelligentTrafficControl/internal/testutil"
	"github.com/joselamego/IntelligentTrafficControl/internal/vision"
)

var errUnplugged = errors.New("camera unplugged")

// fakeCamera serves solid frames and fails from read number failAt on
// (0 never fails).
type fakeCamera struct {
	mu     sync.Mutex
	c      color.RGBA
	reads  int
	failAt int
	closed bool
}

func (f *fakeCamera) Read() (*image.RGBA, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, camera.ErrClosed
	}
	f.reads++
	if f.failAt > 0 && f.reads >= f.failAt {
		return nil, errUnplugged
	}
	return testutil.SolidFrame(64, 48, f.c), nil
}

func (f *fakeCamera) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeCamera) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeScheduler struct {
	mu    sync.Mutex
	ticks [][phase.NumLanes]bool
}

func (s *fakeScheduler) Tick(_ time.Time, motion [phase.NumLanes]bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, motion)
	return true
}

func (s *fakeScheduler) Snapshot() phase.Snapshot {
	return phase.Snapshot{
		Active:    phase.Lane1,
		Countdown: 5,
		LapPeriod: 10,
		Aspects:   [phase.NumLanes]phase.Aspect{phase.Green, phase.Red},
	}
}

func (s *fakeScheduler) Ticks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks)
}

// opener hands out one pair of cameras per call from sets, then healthy ones.
type opener struct {
	mu     sync.Mutex
	sets   [][phase.NumLanes]*fakeCamera
	opened [][phase.NumLanes]*fakeCamera
	err    error
}

func (o *opener) Open(context.Context) ([phase.NumLanes]camera.Camera, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return [phase.NumLanes]camera.Camera{}, o.err
	}
	pair := [phase.NumLanes]*fakeCamera{{c: color.RGBA{40, 40, 40, 255}}, {c: color.RGBA{90, 90, 90, 255}}}
	if len(o.sets) > 0 {
		pair, o.sets = o.sets[0], o.sets[1:]
	}
	o.opened = append(o.opened, pair)
	return [phase.NumLanes]camera.Camera{pair[0], pair[1]}, nil
}

func (o *opener) Opened() [][phase.NumLanes]*fakeCamera {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][phase.NumLanes]*fakeCamera(nil), o.opened...)
}

func newTestHub(t *testing.T, o *opener, sched *fakeScheduler) *Hub {
	t.Helper()
	monitoring.SetLogger(nil)
	h := NewHub(Options{
		Open:          o.Open,
		Detector:      vision.Options{KernelSize: 5, Threshold: 30, MinArea: 500},
		Scheduler:     sched,
		FrameInterval: 5 * time.Millisecond,
		JPEGQuality:   80,
		RetryDelay:    10 * time.Millisecond,
	})
	t.Cleanup(func() { h.Close() })
	return h
}

func TestCompose(t *testing.T) {
	left := testutil.SolidFrame(4, 3, color.RGBA{255, 0, 0, 255})
	right := testutil.SolidFrame(4, 3, color.RGBA{0, 0, 255, 255})

	out, err := Compose(left, right)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 3), out.Bounds())
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, out.RGBAAt(3, 1))
	assert.Equal(t, color.RGBA{0, 0, 255, 255}, out.RGBAAt(4, 1))

	_, err = Compose(nil, right)
	assert.ErrorIs(t, err, ErrMissingLane)
	_, err = Compose(left, nil)
	assert.ErrorIs(t, err, ErrMissingLane)
}

func TestEncode(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for _, q := range []int{0, 50, 101} {
		data, err := Encode(img, q)
		require.NoError(t, err)
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, 16, cfg.Width)
		assert.Equal(t, 8, cfg.Height)
	}
}

func TestHub_SubscribeStartsAndStopsCapture(t *testing.T) {
	o := &opener{}
	sched := &fakeScheduler{}
	h := newTestHub(t, o, sched)

	assert.False(t, h.Stats().Running)
	id, frames := h.Subscribe()

	var first Frame
	select {
	case first = <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(first.JPEG))
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Width, "both lanes side by side")
	assert.Equal(t, 48, cfg.Height)

	require.Eventually(t, func() bool { return sched.Ticks() > 0 }, time.Second, time.Millisecond)

	h.Unsubscribe(id)
	require.Eventually(t, func() bool { return !h.Stats().Running }, time.Second, time.Millisecond)
	opened := o.Opened()
	require.Len(t, opened, 1)
	require.Eventually(t, func() bool { return opened[0][0].isClosed() && opened[0][1].isClosed() }, time.Second, time.Millisecond)

	_, ok := <-frames
	assert.False(t, ok, "unsubscribed channel is closed")
	h.Unsubscribe(id)
}

func TestHub_CaptureFailureClosesViewers(t *testing.T) {
	o := &opener{sets: [][phase.NumLanes]*fakeCamera{{
		{c: color.RGBA{10, 10, 10, 255}},
		{c: color.RGBA{10, 10, 10, 255}, failAt: 3},
	}}}
	h := newTestHub(t, o, &fakeScheduler{})

	_, frames := h.Subscribe()
	n := 0
	for range frames {
		n++
	}
	assert.LessOrEqual(t, n, 2)

	require.Eventually(t, func() bool { return !h.Stats().Running }, time.Second, time.Millisecond)
	st := h.Stats()
	assert.Equal(t, uint64(1), st.Failures)
	assert.Zero(t, st.Viewers)

	// a new viewer restarts capture on fresh cameras
	_, frames = h.Subscribe()
	select {
	case _, ok := <-frames:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not restart")
	}
	assert.Len(t, o.Opened(), 2)
	assert.Equal(t, uint64(2), h.Stats().Starts)
}

func TestHub_OpenFailure(t *testing.T) {
	o := &opener{err: errors.New("no devices")}
	h := newTestHub(t, o, &fakeScheduler{})

	_, frames := h.Subscribe()
	select {
	case _, ok := <-frames:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("viewer not released")
	}
}

func TestHub_AlwaysOnTicksWithoutViewers(t *testing.T) {
	o := &opener{sets: [][phase.NumLanes]*fakeCamera{{
		{c: color.RGBA{10, 10, 10, 255}, failAt: 2},
		{c: color.RGBA{10, 10, 10, 255}},
	}}}
	sched := &fakeScheduler{}
	monitoring.SetLogger(nil)
	h := NewHub(Options{
		Open:          o.Open,
		Detector:      vision.Options{KernelSize: 5, Threshold: 30, MinArea: 500},
		Scheduler:     sched,
		FrameInterval: 2 * time.Millisecond,
		AlwaysOn:      true,
		RetryDelay:    5 * time.Millisecond,
	})
	h.Start()

	require.Eventually(t, func() bool { return sched.Ticks() >= 5 }, 2*time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, len(o.Opened()), 2, "restarted after the failing pair")
	assert.True(t, h.Stats().Running)

	require.NoError(t, h.Close())
	assert.False(t, h.Stats().Running)
	for _, pair := range o.Opened() {
		assert.True(t, pair[0].isClosed())
		assert.True(t, pair[1].isClosed())
	}

	_, frames := h.Subscribe()
	_, ok := <-frames
	assert.False(t, ok, "closed hub refuses viewers")
}

func readParts(t *testing.T, resp *http.Response, max int) (parts int, clean bool) {
	t.Helper()
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/x-mixed-replace", mediaType)
	require.Equal(t, Boundary, params["boundary"])

	mr := multipart.NewReader(resp.Body, params["boundary"])
	for parts < max {
		p, err := mr.NextPart()
		if err == io.EOF {
			return parts, true
		}
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", p.Header.Get("Content-Type"))
		body, err := io.ReadAll(p)
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(len(body)), p.Header.Get("Content-Length"))
		_, err = jpeg.Decode(bytes.NewReader(body))
		require.NoError(t, err, "part %d is a whole JPEG", parts)
		parts++
	}
	return parts, false
}

// A camera failing mid-stream ends the viewer's stream after whole parts only,
// and the server keeps accepting viewers.
func TestServeMJPEG_CaptureFailureMidStream(t *testing.T) {
	o := &opener{sets: [][phase.NumLanes]*fakeCamera{{
		{c: color.RGBA{10, 10, 10, 255}},
		{c: color.RGBA{10, 10, 10, 255}, failAt: 4},
	}}}
	h := newTestHub(t, o, &fakeScheduler{})
	mux := http.NewServeMux()
	h.AttachRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + StreamPath)
	require.NoError(t, err)
	parts, clean := readParts(t, resp, 100)
	resp.Body.Close()
	assert.True(t, clean, "stream ends with the closing boundary")
	assert.LessOrEqual(t, parts, 3)

	resp, err = http.Get(srv.URL + StreamPath)
	require.NoError(t, err)
	parts, _ = readParts(t, resp, 2)
	resp.Body.Close()
	assert.Equal(t, 2, parts)

	require.Eventually(t, func() bool { return h.Stats().Viewers == 0 }, 2*time.Second, time.Millisecond)
}

func TestServeMJPEG_MethodNotAllowed(t *testing.T) {
	h := newTestHub(t, &opener{}, &fakeScheduler{})
	rec := httptest.NewRecorder()
	h.ServeMJPEG(rec, httptest.NewRequest(http.MethodPost, StreamPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, h.Stats().Running)
}

func TestServeIndex(t *testing.T) {
	h := newTestHub(t, &opener{}, &fakeScheduler{})
	mux := http.NewServeMux()
	h.AttachRoutes(mux)

	for _, path := range []string{"/", "/index.html"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.True(t, strings.Contains(rec.Body.String(), `<img src="/cam.mjpg"`), path)
		assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
