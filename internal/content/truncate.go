package content

import (
	"strings"
	"unicode/utf8"
)

const ellipsis = "..."

// Truncate shortens text to at most budget code points. It cuts at the last
// break marker found within the first budget-3 code points, trying markers in
// order, provided the cut lies strictly beyond budget*minFraction; otherwise
// it hard-cuts at budget-3. Either way "..." is appended.
func Truncate(text string, budget int, breaks []string, minFraction float64) string {
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	if budget <= len(ellipsis) {
		if budget < 0 {
			budget = 0
		}
		return string(runes[:budget])
	}

	window := string(runes[:budget-len(ellipsis)])
	floor := float64(budget) * minFraction
	for _, marker := range breaks {
		idx := strings.LastIndex(window, marker)
		if idx < 0 {
			continue
		}
		if float64(utf8.RuneCountInString(window[:idx])) > floor {
			return strings.TrimSpace(window[:idx]) + ellipsis
		}
	}
	return window + ellipsis
}

// Limits bundles a budget with the platform's break policy.
type Limits struct {
	Budget      int
	Breaks      []string
	MinFraction float64
}

func (l Limits) Truncate(text string) string {
	return Truncate(text, l.Budget, l.Breaks, l.MinFraction)
}

func (l Limits) within(budget int, text string) string {
	return Truncate(text, budget, l.Breaks, l.MinFraction)
}
