package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/joselamego/IntelligentTrafficControl/internal/config"
	"github.com/joselamego/IntelligentTrafficControl/internal/db"
	"github.com/joselamego/IntelligentTrafficControl/internal/httputil"
	"github.com/joselamego/IntelligentTrafficControl/internal/phase"
	"github.com/joselamego/IntelligentTrafficControl/internal/stream"
	"github.com/joselamego/IntelligentTrafficControl/internal/timeutil"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	defaultStatsDays = 1
	maxStatsDays     = 3650
)

// StateSource provides the current phase state.
type StateSource interface {
	Snapshot() phase.Snapshot
}

// TransitionStore is the read side of the transition log.
type TransitionStore interface {
	RecentTransitions(limit int) ([]db.Transition, error)
	RecentLampFaults(limit int) ([]db.LampFault, error)
	GreenTimes(lane int, since time.Time) ([]float64, error)
}

// StreamStats reports counters of the capture loop.
type StreamStats interface {
	Stats() stream.Stats
}

// Options configures optional collaborators of a Server. A nil Store disables
// the history endpoints; a nil Stream omits stream counters.
type Options struct {
	Store        TransitionStore
	Stream       StreamStats
	Clock        timeutil.Clock
	TailInterval time.Duration
}

type Server struct {
	state        StateSource
	cfg          *config.ControllerConfig
	store        TransitionStore
	stream       StreamStats
	clock        timeutil.Clock
	tailInterval time.Duration
}

func NewServer(state StateSource, cfg *config.ControllerConfig, opts Options) *Server {
	if cfg == nil {
		cfg = config.EmptyControllerConfig()
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.TailInterval <= 0 {
		opts.TailInterval = time.Second
	}
	return &Server{
		state:        state,
		cfg:          cfg,
		store:        opts.Store,
		stream:       opts.Stream,
		clock:        opts.Clock,
		tailInterval: opts.TailInterval,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.AttachRoutes(mux)
	return mux
}

// AttachRoutes mounts the status API on mux.
func (s *Server) AttachRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/transitions", s.listTransitions)
	mux.HandleFunc("/api/faults", s.listLampFaults)
	mux.HandleFunc("/api/stats", s.showStats)
}

// stateResponse adds the derived per-lane view to a snapshot.
type stateResponse struct {
	phase.Snapshot
	Lanes      []laneState `json:"lanes"`
	ServerTime time.Time   `json:"server_time"`
}

type laneState struct {
	Lane          int          `json:"lane"`
	Aspect        phase.Aspect `json:"aspect"`
	ShowCountdown bool         `json:"shows_countdown"`
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, s.stateResponse())
}

func (s *Server) stateResponse() stateResponse {
	snap := s.state.Snapshot()
	resp := stateResponse{Snapshot: snap, ServerTime: s.clock.Now()}
	for _, lane := range phase.Lanes {
		resp.Lanes = append(resp.Lanes, laneState{
			Lane:          int(lane),
			Aspect:        snap.Aspect(lane),
			ShowCountdown: snap.OwnsCountdown(lane) && snap.Countdown < snap.LapPeriod,
		})
	}
	return resp
}

// effectiveConfig is the configuration with every default resolved.
type effectiveConfig struct {
	LapPeriodSec     int                `json:"lap_period_sec"`
	YellowPeriod     string             `json:"yellow_period"`
	BlurKernelSize   int                `json:"blur_kernel_size"`
	DiffThreshold    int                `json:"diff_threshold"`
	MinArea          int                `json:"min_area"`
	CameraWidth      int                `json:"camera_width"`
	CameraHeight     int                `json:"camera_height"`
	CameraSaturation float64            `json:"camera_saturation"`
	FrameInterval    string             `json:"frame_interval"`
	JPEGQuality      int                `json:"jpeg_quality"`
	Lamps            [2]config.LampPins `json:"lamps"`
	ActiveLow        bool               `json:"active_low"`
	SafeState        string             `json:"safe_state"`
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	c := s.cfg
	httputil.WriteJSONOK(w, effectiveConfig{
		LapPeriodSec:     c.GetLapPeriodSec(),
		YellowPeriod:     c.GetYellowPeriod().String(),
		BlurKernelSize:   c.GetBlurKernelSize(),
		DiffThreshold:    c.GetDiffThreshold(),
		MinArea:          c.GetMinArea(),
		CameraWidth:      c.GetCameraWidth(),
		CameraHeight:     c.GetCameraHeight(),
		CameraSaturation: c.GetCameraSaturation(),
		FrameInterval:    c.GetFrameInterval().String(),
		JPEGQuality:      c.GetJPEGQuality(),
		Lamps:            c.GetLamps(),
		ActiveLow:        c.GetActiveLow(),
		SafeState:        c.GetSafeState(),
	})
}

// parseLimit reads the optional limit query parameter.
func parseLimit(r *http.Request) (int, bool) {
	l := r.URL.Query().Get("limit")
	if l == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(l)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, false
	}
	return n, true
}

func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if s.store == nil {
		httputil.NotFound(w, "transition log disabled")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		httputil.BadRequest(w, "Invalid 'limit' parameter")
		return
	}
	transitions, err := s.store.RecentTransitions(limit)
	if err != nil {
		log.Printf("Failed to retrieve transitions: %v", err)
		httputil.InternalServerError(w, "Failed to retrieve transitions")
		return
	}
	if transitions == nil {
		transitions = []db.Transition{}
	}
	httputil.WriteJSONOK(w, transitions)
}

func (s *Server) listLampFaults(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if s.store == nil {
		httputil.NotFound(w, "transition log disabled")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		httputil.BadRequest(w, "Invalid 'limit' parameter")
		return
	}
	faults, err := s.store.RecentLampFaults(limit)
	if err != nil {
		log.Printf("Failed to retrieve lamp faults: %v", err)
		httputil.InternalServerError(w, "Failed to retrieve lamp faults")
		return
	}
	if faults == nil {
		faults = []db.LampFault{}
	}
	httputil.WriteJSONOK(w, faults)
}

// statsResponse is the body of /api/stats.
type statsResponse struct {
	Since  time.Time        `json:"since"`
	Lanes  []laneGreenStats `json:"lanes"`
	Stream *stream.Stats    `json:"stream,omitempty"`
}

type laneGreenStats struct {
	Lane int `json:"lane"`
	GreenTimeStats
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}

	days := defaultStatsDays
	if d := r.URL.Query().Get("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'days' parameter")
			return
		}
		days = min(parsed, maxStatsDays)
	}

	resp := statsResponse{Since: s.clock.Now().Add(-time.Duration(days) * 24 * time.Hour).UTC()}
	if s.store != nil {
		for _, lane := range phase.Lanes {
			greens, err := s.store.GreenTimes(int(lane), resp.Since)
			if err != nil {
				log.Printf("Failed to retrieve green times for %s: %v", lane, err)
				httputil.InternalServerError(w, "Failed to retrieve green times")
				return
			}
			resp.Lanes = append(resp.Lanes, laneGreenStats{Lane: int(lane), GreenTimeStats: Summarise(greens)})
		}
	}
	if s.stream != nil {
		st := s.stream.Stats()
		resp.Stream = &st
	}
	httputil.WriteJSONOK(w, resp)
}
