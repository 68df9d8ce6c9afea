package indicators

// EMA returns the exponential moving average of values.
// The average is seeded with the SMA of the first period values and blended forward
// with k = 2/(period+1). ok is false when there are fewer than period values.
func EMA(values []float64, period int) (ema float64, ok bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	k := 2 / float64(period+1)
	for i := 0; i < period; i++ {
		ema += values[i]
	}
	ema /= float64(period)
	for i := period; i < len(values); i++ {
		ema = values[i]*k + ema*(1-k)
	}
	return ema, true
}

// Momentum is the fractional change from the first to the last of the trailing n values.
func Momentum(values []float64, n int) float64 {
	if n > len(values) {
		n = len(values)
	}
	if n < 2 {
		return 0
	}
	first := values[len(values)-n]
	if first == 0 {
		return 0
	}
	return (values[len(values)-1] - first) / first
}
