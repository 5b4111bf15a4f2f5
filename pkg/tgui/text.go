package tgui

import "unicode/utf8"

// TruncRunes cuts s to at most n runes, the last one being "…" when
// anything was dropped.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	cut, seen := 0, 0
	for i := range s {
		if seen == n-1 {
			cut = i
			break
		}
		seen++
	}
	return s[:cut] + "…"
}
