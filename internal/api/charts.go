package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/particulate.report/internal/httputil"
)

// chartMaxPoints caps how many readings a single chart will plot.
const chartMaxPoints = 1000

// showChart renders an HTML line chart of recent particulate
// concentrations using go-echarts. This is a debugging-only endpoint
// (no auth) for eyeballing trends without a separate dashboard.
// Query params:
//   - hours (optional; default 24, max 168) window to plot
func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	hours := 24
	if h := r.URL.Query().Get("hours"); h != "" {
		if v, err := strconv.Atoi(h); err == nil && v > 0 && v <= 168 {
			hours = v
		}
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	readings, err := s.db.ReadingsSince(since, chartMaxPoints)
	if err != nil {
		httputil.InternalServerError(w, "failed to load readings: "+err.Error())
		return
	}
	if len(readings) == 0 {
		httputil.NotFound(w, "no readings in the requested window")
		return
	}

	// ReadingsSince returns newest first; plot oldest to newest.
	x := make([]string, 0, len(readings))
	pm1 := make([]opts.LineData, 0, len(readings))
	pm25 := make([]opts.LineData, 0, len(readings))
	pm10 := make([]opts.LineData, 0, len(readings))
	for i := len(readings) - 1; i >= 0; i-- {
		rd := readings[i]
		x = append(x, rd.RecordedAt.Local().Format("15:04:05"))
		pm1 = append(pm1, opts.LineData{Value: rd.PM1Std})
		pm25 = append(pm25, opts.LineData{Value: rd.PM25Std})
		pm10 = append(pm10, opts.LineData{Value: rd.PM10Std})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Particulate Trends", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Particulate Concentrations", Subtitle: fmt.Sprintf("last %dh, %d readings", hours, len(readings))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ug/m3"}),
	)

	line.SetXAxis(x).
		AddSeries("PM1.0", pm1).
		AddSeries("PM2.5", pm25).
		AddSeries("PM10", pm10)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
