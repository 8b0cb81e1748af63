package stream

import (
	"bytes"
	"embed"
	"html/template"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/joselamego/IntelligentTrafficControl/internal/httputil"
	"github.com/joselamego/IntelligentTrafficControl/internal/monitoring"
)

// Boundary separates the parts of the MJPEG response.
const Boundary = "jpgboundary"

// StreamPath is where the MJPEG stream is served.
const StreamPath = "/cam.mjpg"

//go:embed templates/*
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html.tmpl"))

// ServeMJPEG streams frames to the client until it disconnects or the hub
// closes its subscription. Every part is a complete JPEG.
func (h *Hub) ServeMJPEG(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}

	id, frames := h.Subscribe()
	defer h.Unsubscribe(id)

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(Boundary); err != nil {
		http.Error(w, "Failed to start stream", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-frames:
			if !ok {
				// capture stopped: end the stream after the last whole part
				mw.Close()
				return
			}
			if err := writePart(mw, frame.JPEG); err != nil {
				monitoring.Logf("viewer %s went away: %v", r.RemoteAddr, err)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func writePart(mw *multipart.Writer, jpg []byte) error {
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":   []string{"image/jpeg"},
		"Content-Length": []string{strconv.Itoa(len(jpg))},
	})
	if err != nil {
		return err
	}
	_, err = part.Write(jpg)
	return err
}

// ServeIndex renders the viewer page embedding the stream.
func (h *Hub) ServeIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	if !httputil.RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}

	buf := bytes.NewBuffer(nil)
	data := struct{ Title, StreamPath string }{"Traffic control", StreamPath}
	if err := indexTemplate.Execute(buf, data); err != nil {
		httputil.InternalServerError(w, "Failed to render template")
		return
	}
	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}

// AttachRoutes registers the stream and viewer page on mux.
func (h *Hub) AttachRoutes(mux *http.ServeMux) {
	mux.HandleFunc(StreamPath, h.ServeMJPEG)
	mux.HandleFunc("/index.html", h.ServeIndex)
	mux.HandleFunc("/", h.ServeIndex)
}
