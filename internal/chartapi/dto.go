package chartapi

import (
	"errors"
	"fmt"
	"time"

	"stockchart/internal/chart"
	"stockchart/internal/indicator"
	"stockchart/internal/model"
	"stockchart/internal/series"
)

// ComputeRequest is the wire form of chart.ChartRequest. Dates are
// "2006-01-02" or RFC 3339; empty leaves that side of the range open.
type ComputeRequest struct {
	Dataset    string                   `json:"dataset"`
	Symbol     string                   `json:"symbol"`
	Start      string                   `json:"start,omitempty"`
	End        string                   `json:"end,omitempty"`
	Indicators []chart.IndicatorRequest `json:"indicators"`
}

func (r ComputeRequest) toChart() (chart.ChartRequest, error) {
	start, err := parseDate(r.Start)
	if err != nil {
		return chart.ChartRequest{}, err
	}
	end, err := parseDate(r.End)
	if err != nil {
		return chart.ChartRequest{}, err
	}
	return chart.ChartRequest{
		Dataset:    r.Dataset,
		Symbol:     r.Symbol,
		Start:      start,
		End:        end,
		Indicators: r.Indicators,
	}, nil
}

// ChartOut is the REST and websocket response for a compute request. Every
// value slice is aligned with Dates; NaN and ±Inf encode as null.
type ChartOut struct {
	Dataset    string         `json:"dataset"`
	Symbol     string         `json:"symbol"`
	Dates      []string       `json:"dates"`
	Price      model.Column   `json:"price"`
	Indicators []IndicatorOut `json:"indicators"`
}

// IndicatorOut is one computed indicator with its drawing hints.
type IndicatorOut struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	Overlay     bool              `json:"overlay"`
	Levels      []indicator.Level `json:"levels,omitempty"`
	Lines       []LineOut         `json:"lines"`
}

// LineOut is one output line of an indicator.
type LineOut struct {
	Name   string       `json:"name"`
	Values model.Column `json:"values"`
}

// SeriesOut is the response for /api/series.
type SeriesOut struct {
	Symbol string       `json:"symbol"`
	Dates  []string     `json:"dates"`
	Values model.Column `json:"values"`
}

func newSeriesOut(s *series.Series) SeriesOut {
	return SeriesOut{Symbol: s.Symbol(), Dates: formatDates(s.Times()), Values: s.Values()}
}

func newChartOut(resp *chart.ChartResponse, reg *indicator.Registry) ChartOut {
	out := ChartOut{
		Dataset:    resp.Dataset,
		Symbol:     resp.Symbol,
		Dates:      formatDates(resp.Price.Times()),
		Price:      resp.Price.Values(),
		Indicators: make([]IndicatorOut, len(resp.Results)),
	}
	for i, res := range resp.Results {
		ind := IndicatorOut{ID: res.Indicator, Lines: make([]LineOut, len(res.Lines))}
		if spec, err := reg.Lookup(res.Indicator); err == nil {
			ind.DisplayName = spec.DisplayName
			ind.Overlay = spec.Overlay
			ind.Levels = spec.Levels
		}
		for j, l := range res.Lines {
			ind.Lines[j] = LineOut{Name: l.Name, Values: l.Series.Values()}
		}
		out.Indicators[i] = ind
	}
	return out
}

func formatDates(ts []time.Time) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Format(time.DateOnly)
	}
	return out
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q, want YYYY-MM-DD", errBadDate, s)
	}
	return t.UTC(), nil
}

var errBadDate = errors.New("invalid date")

// errorOut is the JSON error body.
type errorOut struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}
