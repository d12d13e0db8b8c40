package indicator

import "stockchart/internal/series"

// SMAParams configures a simple moving average.
type SMAParams struct {
	Length int
}

// SMA is the rolling mean of the last Length values. The first Length-1
// positions are NaN.
func SMA(s *series.Series, p SMAParams) (Result, error) {
	if err := checkWindow(KindSMA, "length", p.Length); err != nil {
		return Result{}, err
	}
	return newResult(KindSMA, s, []string{"SMA"}, rollingMean(s.Values(), p.Length)), nil
}

// EMAParams configures an exponential moving average.
type EMAParams struct {
	Length int
}

// EMA is the exponential moving average with span Length. It is defined from
// the first sample on.
func EMA(s *series.Series, p EMAParams) (Result, error) {
	if err := checkWindow(KindEMA, "length", p.Length); err != nil {
		return Result{}, err
	}
	return newResult(KindEMA, s, []string{"EMA"}, ewm(s.Values(), p.Length)), nil
}
