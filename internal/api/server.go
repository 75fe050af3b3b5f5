// Package api provides the HTTP API for the particulate sensor node.
package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/particulate.report/internal/db"
	"github.com/banshee-data/particulate.report/internal/httputil"
	"github.com/banshee-data/particulate.report/internal/pms"
)

// ANSI color codes for terminal output
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Server handles HTTP requests for sensor state and recorded readings.
type Server struct {
	sensor pms.Controller
	db     *db.DB
}

// NewServer creates a new API server backed by the given sensor
// controller and database.
func NewServer(sensor pms.Controller, database *db.DB) *Server {
	return &Server{
		sensor: sensor,
		db:     database,
	}
}

// loggingResponseWriter wraps http.ResponseWriter to capture the status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher so streaming handlers keep working
// through the middleware.
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// statusCodeColor returns the ANSI color for a given status code
func statusCodeColor(code int) string {
	switch {
	case code >= 200 && code < 300:
		return colorBoldGreen + strconv.Itoa(code) + colorReset
	case code >= 300 && code < 400:
		return colorYellow + strconv.Itoa(code) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(code) + colorReset
	}
}

// LoggingMiddleware logs each request with method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf("[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode),
			r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6)
	})
}

// ServeMux returns a mux with all API routes registered.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/latest", s.showLatest)
	mux.HandleFunc("/api/readings", s.listReadings)
	mux.HandleFunc("/api/sleep", s.sleepSensor)
	mux.HandleFunc("/api/wake", s.wakeSensor)
	mux.HandleFunc("/charts/pm", s.showChart)
	mux.HandleFunc("/healthz", s.healthz)
	return mux
}

// showStatus reports the sensor lifecycle state and poll counters.
func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.sensor.Status())
}

// showLatest returns the most recently recorded reading.
func (s *Server) showLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	reading, err := s.db.LatestReading()
	if errors.Is(err, db.ErrNoReadings) {
		httputil.NotFound(w, "no readings recorded yet")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "failed to load latest reading: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, reading)
}

// listReadings returns recorded readings, newest first. Supports
// ?limit=N (default 100, max 1000) and ?since=RFC3339 to restrict the
// window.
func (s *Server) listReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 || parsed > 1000 {
			httputil.BadRequest(w, "invalid limit parameter (must be 1-1000)")
			return
		}
		limit = parsed
	}

	var (
		readings []db.Reading
		err      error
	)
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		since, parseErr := time.Parse(time.RFC3339, sinceStr)
		if parseErr != nil {
			httputil.BadRequest(w, "invalid since parameter (must be RFC3339)")
			return
		}
		readings, err = s.db.ReadingsSince(since, limit)
	} else {
		readings, err = s.db.Readings(limit)
	}
	if err != nil {
		httputil.InternalServerError(w, "failed to load readings: "+err.Error())
		return
	}

	// An empty window encodes as [] rather than null.
	if readings == nil {
		readings = []db.Reading{}
	}
	httputil.WriteJSONOK(w, readings)
}

// sleepSensor powers the sensor down. Returns 409 when the node has no
// power control pin, since the sensor cannot actually be stopped.
func (s *Server) sleepSensor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	ok, err := s.sensor.Sleep(r.Context())
	if err != nil {
		httputil.InternalServerError(w, "failed to sleep sensor: "+err.Error())
		return
	}
	if !ok {
		httputil.Conflict(w, "sensor has no power control pin")
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"asleep": true})
}

// wakeSensor powers the sensor up and reports the preheat countdown so
// callers know how long until data is available.
func (s *Server) wakeSensor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	ok, err := s.sensor.Wake(r.Context())
	if err != nil {
		httputil.InternalServerError(w, "failed to wake sensor: "+err.Error())
		return
	}
	if !ok {
		httputil.Conflict(w, "failed to drive power control pin")
		return
	}

	status := s.sensor.Status()
	httputil.WriteJSONOK(w, map[string]any{
		"awake":           true,
		"preheat_seconds": status.PreheatSeconds,
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}
