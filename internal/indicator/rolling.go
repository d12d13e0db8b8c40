package indicator

import "math"

// Window primitives. Each returns a new slice of len(x); position i holds the
// statistic of x[i-n+1 : i+1] and is NaN for i < n-1 or when the window holds a
// NaN. Callers guarantee n >= 1.
//
// Windows are summed afresh at every position rather than maintained as a
// running sum, so a NaN or Inf only poisons the windows that contain it and
// the result does not depend on accumulated rounding error.

func rollingMean(x []float64, n int) []float64 {
	out := nanSlice(len(x))
	for i := n - 1; i < len(x); i++ {
		sum := 0.0
		for _, v := range x[i-n+1 : i+1] {
			sum += v
		}
		out[i] = sum / float64(n)
	}
	return out
}

// rollingStd is the sample standard deviation (n-1 denominator), so a window
// of one yields NaN.
func rollingStd(x []float64, n int) []float64 {
	out := nanSlice(len(x))
	for i := n - 1; i < len(x); i++ {
		w := x[i-n+1 : i+1]
		sum := 0.0
		for _, v := range w {
			sum += v
		}
		mean := sum / float64(n)
		sq := 0.0
		for _, v := range w {
			d := v - mean
			sq += d * d
		}
		out[i] = math.Sqrt(sq / float64(n-1))
	}
	return out
}

func rollingMin(x []float64, n int) []float64 {
	return rollingExtreme(x, n, func(a, b float64) bool { return a < b })
}

func rollingMax(x []float64, n int) []float64 {
	return rollingExtreme(x, n, func(a, b float64) bool { return a > b })
}

func rollingExtreme(x []float64, n int, better func(a, b float64) bool) []float64 {
	out := nanSlice(len(x))
	for i := n - 1; i < len(x); i++ {
		best := x[i-n+1]
		for _, v := range x[i-n+1 : i+1] {
			if math.IsNaN(v) {
				best = math.NaN()
				break
			}
			if better(v, best) {
				best = v
			}
		}
		out[i] = best
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
