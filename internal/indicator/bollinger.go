package indicator

import (
	"math"

	"stockchart/internal/series"
)

// BollingerParams configures Bollinger Bands.
type BollingerParams struct {
	Length int
	Mult   float64
}

// Bollinger returns the SMA line with bands Mult sample standard deviations
// above and below it. Lines: SMA, Upper, Lower.
func Bollinger(s *series.Series, p BollingerParams) (Result, error) {
	if err := checkWindow(KindBollinger, "length", p.Length); err != nil {
		return Result{}, err
	}
	if p.Mult < 0 || math.IsNaN(p.Mult) || math.IsInf(p.Mult, 0) {
		return Result{}, &ParamError{Indicator: KindBollinger.String(), Param: "mult", Value: p.Mult, Reason: "must be a finite non-negative number"}
	}

	x := s.Values()
	mid := rollingMean(x, p.Length)
	std := rollingStd(x, p.Length)
	upper := make([]float64, len(x))
	lower := make([]float64, len(x))
	for i := range x {
		upper[i] = mid[i] + p.Mult*std[i]
		lower[i] = mid[i] - p.Mult*std[i]
	}
	return newResult(KindBollinger, s, []string{"SMA", "Upper", "Lower"}, mid, upper, lower), nil
}
