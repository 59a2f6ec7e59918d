package aggregator

import (
	"bytes"
	"fmt"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/models"
)

// RenderTotalPnlChart renders a PNG line chart of a total-P&L series.
// Two series: Total P&L (blue solid) and Cumulative Net Deposits (gray
// dashed). Returns raw PNG bytes.
func RenderTotalPnlChart(series *models.TotalPnlSeries) ([]byte, error) {
	if len(series.Points) < 2 {
		return nil, fmt.Errorf("need at least 2 data points, got %d", len(series.Points))
	}

	xValues := make([]time.Time, 0, len(series.Points))
	pnlY := make([]float64, 0, len(series.Points))
	depositsY := make([]float64, 0, len(series.Points))

	for _, p := range series.Points {
		date, err := common.ParseDateKey(p.Date)
		if err != nil {
			continue
		}
		xValues = append(xValues, date)
		pnlY = append(pnlY, p.TotalPnlCad)
		depositsY = append(depositsY, p.CumulativeNetDepositsCad)
	}
	if len(xValues) < 2 {
		return nil, fmt.Errorf("not enough parseable points to chart")
	}

	pnlSeries := chart.TimeSeries{
		Name: "Total P&L (CAD)",
		Style: chart.Style{
			StrokeColor: drawing.ColorFromHex("2563eb"), // blue-600
			StrokeWidth: 2.5,
		},
		XValues: xValues,
		YValues: pnlY,
	}

	depositSeries := chart.TimeSeries{
		Name: "Net Deposits (CAD)",
		Style: chart.Style{
			StrokeColor:     drawing.ColorFromHex("9ca3af"), // gray-400
			StrokeWidth:     1.5,
			StrokeDashArray: []float64{5.0, 3.0},
		},
		XValues: xValues,
		YValues: depositsY,
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("Total P&L %s to %s", series.PeriodStartDate, series.PeriodEndDate),
		Width:  900,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			TickPosition: chart.TickPositionBetweenTicks,
			ValueFormatter: func(v interface{}) string {
				if t, ok := v.(float64); ok {
					return chart.TimeFromFloat64(t).Format("Jan 06")
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("$%.0fk", f/1000)
				}
				return ""
			},
		},
		Series: []chart.Series{
			pnlSeries,
			depositSeries,
		},
	}

	graph.Elements = []chart.Renderable{
		chart.LegendLeft(&graph),
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}

	return buf.Bytes(), nil
}
