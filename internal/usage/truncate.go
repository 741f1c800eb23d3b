package usage

import "unicode/utf8"

const (
	// MaxErrorBytes caps stored error messages.
	MaxErrorBytes = 2000
	// MaxBodyBytes caps stored request bodies.
	MaxBodyBytes = 65536
)

const ellipsis = "…"

// Truncate caps s at max bytes without splitting a UTF-8 sequence and
// marks the cut with an ellipsis.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}
