// Package textutil holds the small string helpers shared by prompt building,
// response parsing and duplicate detection.
package textutil

import "strings"

// Ellipsis marks text that was cut to fit a budget
const Ellipsis = "…"

// Truncate shortens s to at most maxRunes runes, ending with an ellipsis when
// anything was cut. The ellipsis counts toward the budget.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes == 1 {
		return Ellipsis
	}
	return strings.TrimRight(string(runes[:maxRunes-1]), " \t\n") + Ellipsis
}

// CollapseSpace trims s and replaces every whitespace run with one space
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Normalize lowercases s and collapses whitespace
func Normalize(s string) string {
	return strings.ToLower(CollapseSpace(s))
}
