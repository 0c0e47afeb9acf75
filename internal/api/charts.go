package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// AttachDebugCharts registers the HTML chart endpoints on mux. These are
// debugging-only views (no auth) for eyeballing classifier behaviour without
// the dashboard UI.
func (s *Server) AttachDebugCharts(mux *http.ServeMux) {
	mux.HandleFunc("/debug/charts/steps", s.handleStepChart)
	mux.HandleFunc("/debug/charts/magnitude", s.handleMagnitudeChart)
}

// handleStepChart renders a bar chart of step counts in hourly buckets.
// Query params:
//   - days (optional; default 1)
func (s *Server) handleStepChart(w http.ResponseWriter, r *http.Request) {
	days, err := parsePositiveIntParam(r, "days", 1)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	endMS := time.Now().UnixMilli()
	startMS := time.Now().AddDate(0, 0, -days).UnixMilli()
	buckets, err := s.db.StepCountsRange(r.Context(), startMS, endMS, 3600)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve step counts: %v", err))
		return
	}

	x := make([]string, 0, len(buckets))
	y := make([]opts.BarData, 0, len(buckets))
	for _, b := range buckets {
		x = append(x, time.Unix(b.BucketStart, 0).Format("01-02 15:04"))
		y = append(y, opts.BarData{Value: b.Steps})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Steps per Hour", Theme: "dark", Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Steps per Hour", Subtitle: fmt.Sprintf("last %d day(s), %d buckets", days, len(buckets))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("steps", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleMagnitudeChart renders recent sample magnitudes and confidences as a
// line chart, oldest sample on the left.
// Query params:
//   - limit (optional; default 500)
func (s *Server) handleMagnitudeChart(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveIntParam(r, "limit", 500)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	samples, err := s.db.RecentSamples(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve samples: %v", err))
		return
	}

	// RecentSamples returns newest first; plot left-to-right in time order.
	x := make([]string, 0, len(samples))
	magnitude := make([]opts.LineData, 0, len(samples))
	confidence := make([]opts.LineData, 0, len(samples))
	for i := len(samples) - 1; i >= 0; i-- {
		sm := samples[i]
		x = append(x, time.UnixMilli(sm.TimestampMS).Format("15:04:05.000"))
		magnitude = append(magnitude, opts.LineData{Value: sm.Magnitude})
		confidence = append(confidence, opts.LineData{Value: sm.Confidence})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Accelerometer Magnitude", Theme: "dark", Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Sample Magnitude", Subtitle: fmt.Sprintf("last %d samples", len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	line.SetXAxis(x).
		AddSeries("magnitude (m/s²)", magnitude).
		AddSeries("confidence", confidence,
			charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
