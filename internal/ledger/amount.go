package ledger

import (
	"math"
	"strconv"
	"strings"
)

// FormatAmount renders a coin amount with eight decimals, then drops trailing
// zeros and a trailing point, keeping at least one digit: 1 -> "1",
// 0.5 -> "0.5", 0.00000001 -> "0.00000001".
func FormatAmount(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "?"
	}
	s := strconv.FormatFloat(v, 'f', 8, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "" || s == "-" || s == "-0" {
		return "0"
	}
	return s
}
