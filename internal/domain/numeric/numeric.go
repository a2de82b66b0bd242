// Package numeric parses loosely formatted numbers from tabular text.
package numeric

import (
	"math"
	"strconv"
	"strings"
)

// Parse converts s to a float64. The second return value reports whether s
// held a finite number; callers decide whether a failed parse means zero or
// an error.
//
// Accepted forms: surrounding whitespace or quotes, "_" and inner spaces as
// digit separators, and "," as the decimal separator when no "." is present.
// A single "," followed by exactly three digits ("1,234") reads as either a
// thousands or a decimal separator and is rejected.
func Parse(s string) (float64, bool) {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	if s == "" {
		return 0, false
	}
	s = strings.NewReplacer("_", "", " ", "", "\u00a0", "").Replace(s)
	if !strings.Contains(s, ".") && strings.Count(s, ",") == 1 {
		if len(s)-strings.IndexByte(s, ',') == 4 {
			return 0, false
		}
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// OrZero returns the parsed value or zero.
func OrZero(s string) float64 {
	f, _ := Parse(s)
	return f
}
