package notify

import (
	"fmt"
	"math"
	"strings"
)

// KRW rounds v to a whole won and groups thousands, e.g. "-1,234,567 KRW".
func KRW(v float64) string {
	s := fmt.Sprintf("%.0f", math.Abs(math.Round(v)))
	var b strings.Builder
	if v <= -0.5 {
		b.WriteByte('-')
	}
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteByte(s[i])
	}
	b.WriteString(" KRW")
	return b.String()
}

// Pct renders a fraction as a signed percentage with two decimals.
func Pct(v float64) string { return fmt.Sprintf("%+.2f%%", v*100) }

// Qty renders a coin quantity at the venue's eight-decimal precision.
func Qty(v float64) string { return fmt.Sprintf("%.8f", v) }
