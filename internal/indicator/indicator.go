// Package indicator computes technical indicators over a price series.
//
// Every indicator is a pure function of (series, parameters): it allocates and
// returns new output series aligned index-for-index with its input, and never
// touches the input. Leading positions inside a rolling window's warm-up carry
// NaN. Zero divisions (flat prices in RSI or Stochastic) surface as NaN or ±Inf
// values rather than errors.
package indicator

import (
	"errors"
	"fmt"

	"stockchart/internal/series"
)

var (
	// ErrInvalidParameter is returned for out-of-range or wrongly typed parameters.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrUnknownIndicator is returned for ids the registry does not know.
	ErrUnknownIndicator = errors.New("unknown indicator")
)

// ParamError describes a rejected parameter. It unwraps to ErrInvalidParameter.
type ParamError struct {
	Indicator string
	Param     string
	Value     float64
	Reason    string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s: %s %s=%v: %s", ErrInvalidParameter, e.Indicator, e.Param, e.Value, e.Reason)
}

func (e *ParamError) Unwrap() error { return ErrInvalidParameter }

// Kind enumerates the built-in indicators.
type Kind int

const (
	KindSMA Kind = iota
	KindEMA
	KindBollinger
	KindMACD
	KindRSI
	KindStochastic
)

func (k Kind) String() string {
	switch k {
	case KindSMA:
		return "SMA"
	case KindEMA:
		return "EMA"
	case KindBollinger:
		return "Bollinger"
	case KindMACD:
		return "MACD"
	case KindRSI:
		return "RSI"
	case KindStochastic:
		return "Stochastic"
	default:
		return "unknown"
	}
}

// Line is one named output series of an indicator.
type Line struct {
	Name   string
	Series *series.Series
}

// Result holds the output lines of one indicator computation, in a fixed
// order per indicator.
type Result struct {
	Indicator string
	Lines     []Line
}

// Line returns the named output series, or nil.
func (r Result) Line(name string) *series.Series {
	for _, l := range r.Lines {
		if l.Name == name {
			return l.Series
		}
	}
	return nil
}

func newResult(kind Kind, src *series.Series, names []string, cols ...[]float64) Result {
	lines := make([]Line, len(cols))
	for i, c := range cols {
		lines[i] = Line{Name: names[i], Series: src.Derive(names[i], c)}
	}
	return Result{Indicator: kind.String(), Lines: lines}
}

func checkWindow(kind Kind, param string, n int) error {
	if n <= 0 {
		return &ParamError{Indicator: kind.String(), Param: param, Value: float64(n), Reason: "must be a positive integer"}
	}
	return nil
}
