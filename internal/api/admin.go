package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/color"
	"log"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/joselamego/IntelligentTrafficControl/internal/db"
	"github.com/joselamego/IntelligentTrafficControl/internal/httputil"
	"github.com/joselamego/IntelligentTrafficControl/internal/phase"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

var laneColors = [phase.NumLanes]color.Color{
	color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
}

// AttachAdminRoutes mounts the green time charts and the live state feed under
// /debug/.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("green-times", "Green time held before each transition", s.handleGreenTimesChart)
	debug.HandleSilentFunc("green-times.png", s.handleGreenTimesPlot)
	debug.HandleFunc("state-tail", "Live controller state (server-sent events)", s.handleStateTail)
}

func (s *Server) handleGreenTimesChart(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "transition log disabled", http.StatusNotFound)
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		http.Error(w, "Invalid 'limit' parameter", http.StatusBadRequest)
		return
	}
	transitions, err := s.store.RecentTransitions(limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve transitions: %v", err), http.StatusInternalServerError)
		return
	}

	x, series := greenTimeSeries(transitions)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Green times", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Green time per transition", Subtitle: fmt.Sprintf("last %d transitions", len(transitions))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds"}),
	)
	bar.SetXAxis(x)
	for i, lane := range phase.Lanes {
		bar.AddSeries(lane.String(), series[i], charts.WithBarChartOpts(opts.BarChart{Stack: "green"}))
	}

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}

// greenTimeSeries lays transitions out oldest first, one series per lane that
// held green. Entries for the other lane are left empty.
func greenTimeSeries(transitions []db.Transition) ([]string, [phase.NumLanes][]opts.BarData) {
	var series [phase.NumLanes][]opts.BarData
	x := make([]string, 0, len(transitions))
	for i := len(transitions) - 1; i >= 0; i-- {
		t := transitions[i]
		x = append(x, t.StartedAt.Local().Format("15:04:05"))
		for j, lane := range phase.Lanes {
			if t.From == int(lane) {
				series[j] = append(series[j], opts.BarData{Value: t.GreenSeconds})
			} else {
				series[j] = append(series[j], opts.BarData{Value: "-"})
			}
		}
	}
	return x, series
}

func (s *Server) handleGreenTimesPlot(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "transition log disabled", http.StatusNotFound)
		return
	}
	since := s.clock.Now().Add(-defaultStatsDays * 24 * time.Hour)

	p := plot.New()
	p.Title.Text = "Green time per transition"
	p.X.Label.Text = "Transition"
	p.Y.Label.Text = "Green (s)"
	p.Legend.Top = true

	for _, lane := range phase.Lanes {
		greens, err := s.store.GreenTimes(int(lane), since)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to retrieve green times: %v", err), http.StatusInternalServerError)
			return
		}
		if len(greens) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(greens))
		for i, g := range greens {
			pts[i] = plotter.XY{X: float64(i + 1), Y: g}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			http.Error(w, fmt.Sprintf("plot error: %v", err), http.StatusInternalServerError)
			return
		}
		line.Width = vg.Points(1)
		line.Color = laneColors[lane.Index()]
		p.Add(line)
		p.Legend.Add(lane.String(), line)
	}

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		http.Error(w, fmt.Sprintf("plot error: %v", err), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		http.Error(w, fmt.Sprintf("plot error: %v", err), http.StatusInternalServerError)
		return
	}
	httputil.WriteBody(w, "image/png", buf.Bytes())
}

// handleStateTail streams controller snapshots as server-sent events until the
// client goes away.
func (s *Server) handleStateTail(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		payload, err := json.Marshal(s.stateResponse())
		if err != nil {
			log.Printf("Failed to encode state: %v", err)
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-s.clock.After(s.tailInterval):
		case <-r.Context().Done():
			return
		}
	}
}
