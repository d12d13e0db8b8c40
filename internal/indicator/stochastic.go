package indicator

import "stockchart/internal/series"

// StochasticParams configures the stochastic oscillator.
type StochasticParams struct {
	KPeriod int
	DPeriod int
}

// Stochastic locates each close within its trailing KPeriod range (%K) and
// smooths that with a DPeriod SMA (%D). Lines: %K, %D.
//
// The range is taken from the closes themselves; a flat window makes the
// denominator zero and %K NaN, which is returned unclamped. The ratio is
// taken before scaling so a close at the window high yields exactly 100.
func Stochastic(s *series.Series, p StochasticParams) (Result, error) {
	if err := checkWindow(KindStochastic, "k_period", p.KPeriod); err != nil {
		return Result{}, err
	}
	if err := checkWindow(KindStochastic, "d_period", p.DPeriod); err != nil {
		return Result{}, err
	}

	x := s.Values()
	lo := rollingMin(x, p.KPeriod)
	hi := rollingMax(x, p.KPeriod)
	k := make([]float64, len(x))
	for i := range x {
		k[i] = (x[i] - lo[i]) / (hi[i] - lo[i]) * 100
	}
	d := rollingMean(k, p.DPeriod)
	return newResult(KindStochastic, s, []string{"%K", "%D"}, k, d), nil
}
