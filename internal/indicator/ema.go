package indicator

// ewm is the exponentially weighted mean with span n: alpha = 2/(n+1), the
// first value seeds the recursion and every later value is
// alpha*x[i] + (1-alpha)*prev. There is no warm-up; position 0 equals x[0].
//
// This is the unadjusted form. It is used for every EMA in the package,
// including the MACD legs.
func ewm(x []float64, n int) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	alpha := 2.0 / float64(n+1)
	out[0] = x[0]
	for i := 1; i < len(x); i++ {
		out[i] = alpha*x[i] + (1-alpha)*out[i-1]
	}
	return out
}
