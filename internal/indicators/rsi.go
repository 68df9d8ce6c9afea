package indicators

// NeutralRSI is reported when there are not enough changes to measure.
const NeutralRSI = 50.0

// RSI computes a Relative Strength Index from simple averages of the last period changes.
// It returns NeutralRSI with fewer than period+1 values and 100 when no change was a loss.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return NeutralRSI
	}

	gain := 0.0
	loss := 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	if loss == 0 {
		return 100
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100 - (100 / (1 + rs))
}
