// Package units formats byte sizes and counts for display.
package units

import (
	"math"
	"strconv"
	"strings"
)

var sizes = []string{"B", "KB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}

// FormatBytes renders b in binary units with at most decimals fraction
// digits, trailing zeros trimmed: 1536 -> "1.5 KB", 1024 -> "1 KB".
func FormatBytes(b uint64, decimals int) string {
	if b == 0 {
		return "0 B"
	}
	if decimals < 0 {
		decimals = 0
	}
	i := 0
	v := float64(b)
	for v >= 1024 && i < len(sizes)-1 {
		v /= 1024
		i++
	}
	scale := math.Pow(10, float64(decimals))
	v = math.Round(v*scale) / scale
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + sizes[i]
}

// WithCommas groups the digits of n in threes.
func WithCommas(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(s) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(s[:lead])
	for i := lead; i < len(s); i += 3 {
		b.WriteByte(',')
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
