package ledger

import (
	"math"
	"testing"
)

func TestFormatAmount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float64
		want string
	}{
		{1, "1"},
		{0.5, "0.5"},
		{0.00000001, "0.00000001"},
		{0, "0"},
		{10, "10"},
		{100.25, "100.25"},
		{1.123456789, "1.12345679"},
		{-2.5, "-2.5"},
		{-0.000000001, "0"},
		{math.NaN(), "?"},
	}
	for _, tt := range tests {
		if got := FormatAmount(tt.in); got != tt.want {
			t.Fatalf("FormatAmount(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
