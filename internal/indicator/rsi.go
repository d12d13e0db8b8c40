package indicator

import "stockchart/internal/series"

// RSIParams configures the relative strength index.
type RSIParams struct {
	Length int
}

// RSI uses simple rolling means of gains and losses (not Wilder smoothing).
// The first position has no previous price and counts as an unchanged day, so
// the output is defined from index Length-1.
//
// When the window has no losses RS is +Inf and RSI is 100; when it has neither
// gains nor losses RS is 0/0 and RSI is NaN. Both fall out of IEEE arithmetic
// and are returned as is.
func RSI(s *series.Series, p RSIParams) (Result, error) {
	if err := checkWindow(KindRSI, "length", p.Length); err != nil {
		return Result{}, err
	}

	x := s.Values()
	gains := make([]float64, len(x))
	losses := make([]float64, len(x))
	for i := 1; i < len(x); i++ {
		d := x[i] - x[i-1]
		if d > 0 {
			gains[i] = d
		} else if d < 0 {
			losses[i] = -d
		}
	}

	avgGain := rollingMean(gains, p.Length)
	avgLoss := rollingMean(losses, p.Length)
	out := make([]float64, len(x))
	for i := range x {
		rs := avgGain[i] / avgLoss[i]
		out[i] = 100 - 100/(1+rs)
	}
	return newResult(KindRSI, s, []string{"RSI"}, out), nil
}
