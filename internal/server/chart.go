package server

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/bobmcallan/topicforge/internal/models"
)

// statusHistory is a fixed-capacity ring buffer of StateCounts samples,
// taken over the process lifetime, backing the sparkline chart.
type statusHistory struct {
	mu       sync.Mutex
	samples  []statusSample
	capacity int
}

type statusSample struct {
	at     time.Time
	counts models.StateCounts
}

func newStatusHistory(capacity int) *statusHistory {
	return &statusHistory{capacity: capacity}
}

func (h *statusHistory) record(counts models.StateCounts) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, statusSample{at: time.Now(), counts: counts})
	if len(h.samples) > h.capacity {
		h.samples = h.samples[len(h.samples)-h.capacity:]
	}
}

func (h *statusHistory) snapshot() []statusSample {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]statusSample, len(h.samples))
	copy(out, h.samples)
	return out
}

// renderStatusChart renders a PNG sparkline with one series per queue
// state, sampled over the process lifetime.
func renderStatusChart(samples []statusSample) ([]byte, error) {
	if len(samples) < 2 {
		// A flat two-point line at zero is more useful to a caller than
		// an error response immediately after process startup.
		now := time.Now()
		samples = []statusSample{
			{at: now.Add(-time.Minute), counts: models.StateCounts{}},
			{at: now, counts: models.StateCounts{}},
		}
	}

	xValues := make([]time.Time, len(samples))
	for i, s := range samples {
		xValues[i] = s.at
	}

	series := func(name string, color drawing.Color, sel func(models.StateCounts) int) chart.TimeSeries {
		y := make([]float64, len(samples))
		for i, s := range samples {
			y[i] = float64(sel(s.counts))
		}
		return chart.TimeSeries{
			Name:    name,
			Style:   chart.Style{StrokeColor: color, StrokeWidth: 2},
			XValues: xValues,
			YValues: y,
		}
	}

	graph := chart.Chart{
		Title:  "Processing Status",
		Width:  900,
		Height: 300,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			ValueFormatter: func(v interface{}) string {
				if t, ok := v.(float64); ok {
					return chart.TimeFromFloat64(t).Format("15:04:05")
				}
				return ""
			},
		},
		Series: []chart.Series{
			series("pending", drawing.ColorFromHex("f59e0b"), func(c models.StateCounts) int { return c.Pending }),
			series("processing", drawing.ColorFromHex("2563eb"), func(c models.StateCounts) int { return c.Processing }),
			series("completed", drawing.ColorFromHex("16a34a"), func(c models.StateCounts) int { return c.Completed }),
			series("failed", drawing.ColorFromHex("dc2626"), func(c models.StateCounts) int { return c.Failed }),
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// handleStatusChart serves GET /api/processing-status/chart.png.
func (s *Server) handleStatusChart(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	png, err := renderStatusChart(s.history.snapshot())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "chart render failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
