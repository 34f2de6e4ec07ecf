package command

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// HumanizeDuration renders d rounded up to whole seconds as "1h 2m 3s",
// omitting zero units. Zero or negative durations render as "0s".
func HumanizeDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	total := int64(math.Ceil(d.Seconds()))
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	parts := make([]string, 0, 3)
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return strings.Join(parts, " ")
}

// parseAmount accepts a positive finite number. A decimal comma is allowed.
func parseAmount(raw string) (float64, bool) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}

// parsePage reads an optional 1-based page argument.
func parsePage(args []string, i int) int {
	if i >= len(args) {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(args[i]))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

const minCardCodeLength = 8

func isHexCode(s string) bool {
	if len(s) < minCardCodeLength {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// isCardCode reports whether a transfer destination is a card code rather
// than a ledger user id. All-digit values are user ids.
func isCardCode(s string) bool {
	return isHexCode(s) && !isDigits(s)
}

// shortSecret shows the first eight characters of a token.
func shortSecret(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8] + "..."
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "—"
	}
	return s
}
