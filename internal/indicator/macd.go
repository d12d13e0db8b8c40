package indicator

import "stockchart/internal/series"

// MACDParams configures MACD.
type MACDParams struct {
	Fast   int
	Slow   int
	Signal int
}

// MACD returns EMA(Fast)-EMA(Slow), its EMA(Signal) and a histogram.
// Lines: MACD, Signal, Hist.
//
// NOTE: Hist is MACD - EMA(Fast), which equals -EMA(Slow). The textbook
// histogram is MACD - Signal. Existing charts were drawn with this form, so it
// stays until someone confirms which one is wanted; see
// TestMACD_HistogramIsMACDMinusFastEMA.
func MACD(s *series.Series, p MACDParams) (Result, error) {
	if err := checkWindow(KindMACD, "fast", p.Fast); err != nil {
		return Result{}, err
	}
	if err := checkWindow(KindMACD, "slow", p.Slow); err != nil {
		return Result{}, err
	}
	if err := checkWindow(KindMACD, "signal", p.Signal); err != nil {
		return Result{}, err
	}

	x := s.Values()
	fast := ewm(x, p.Fast)
	slow := ewm(x, p.Slow)
	macd := make([]float64, len(x))
	for i := range x {
		macd[i] = fast[i] - slow[i]
	}
	signal := ewm(macd, p.Signal)
	hist := make([]float64, len(x))
	for i := range x {
		hist[i] = macd[i] - fast[i]
	}
	return newResult(KindMACD, s, []string{"MACD", "Signal", "Hist"}, macd, signal, hist), nil
}
